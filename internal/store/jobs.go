package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = "id, video_id, stage, attempts, error_message, retryable, resume_stage, audio_path, transcript_path, correlation_id, lease_owner, lease_expires_at, started_at, finished_at, created_at, updated_at"

const claimAttempts = 3

func scanJob(scanner interface{ Scan(dest ...any) error }) (*ProcessingJob, error) {
	var (
		id             int64
		videoID        int64
		stage          string
		attempts       int
		errorMessage   sql.NullString
		retryable      sql.NullInt64
		resumeStage    sql.NullString
		audioPath      sql.NullString
		transcriptPath sql.NullString
		correlationID  sql.NullString
		leaseOwner     sql.NullString
		leaseExpiresAt sql.NullString
		startedRaw     sql.NullString
		finishedRaw    sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&videoID,
		&stage,
		&attempts,
		&errorMessage,
		&retryable,
		&resumeStage,
		&audioPath,
		&transcriptPath,
		&correlationID,
		&leaseOwner,
		&leaseExpiresAt,
		&startedRaw,
		&finishedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &ProcessingJob{
		ID:             id,
		VideoID:        videoID,
		Stage:          Stage(stage),
		Attempts:       attempts,
		ErrorMessage:   errorMessage.String,
		Retryable:      retryable.Valid && retryable.Int64 != 0,
		ResumeStage:    Stage(resumeStage.String),
		AudioPath:      audioPath.String,
		TranscriptPath: transcriptPath.String,
		CorrelationID:  correlationID.String,
		LeaseOwner:     leaseOwner.String,
	}
	job.LeaseExpiresAt = timePointer(leaseExpiresAt)
	job.StartedAt = timePointer(startedRaw)
	job.FinishedAt = timePointer(finishedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

// CreateJob enqueues a processing job for a video. When the video's most
// recent job failed mid-pipeline, the new job starts at that job's resume
// stage and inherits its artifact paths so expensive stages are not redone.
// Returns ErrAlreadyProcessing when an active job exists for the video.
func (s *Store) CreateJob(ctx context.Context, videoID int64) (*ProcessingJob, error) {
	stage := StageQueued
	var audioPath, transcriptPath string

	prior, err := s.LatestJobForVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		if prior.Active() {
			return nil, ErrAlreadyProcessing
		}
		if prior.Stage == StageFailed {
			if resume, ok := ParseStage(string(prior.ResumeStage)); ok && !resume.IsTerminal() {
				stage = resume
			}
			audioPath = prior.AudioPath
			transcriptPath = prior.TranscriptPath
		}
	}

	timestamp := nowStamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO processing_jobs (
            video_id, stage, attempts, audio_path, transcript_path,
            correlation_id, created_at, updated_at
        ) VALUES (?, ?, 0, ?, ?, ?, ?, ?)`,
		videoID,
		stage,
		nullableString(audioPath),
		nullableString(transcriptPath),
		uuid.NewString(),
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyProcessing
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJobForVideo returns the in-flight job for a video, if any.
func (s *Store) ActiveJobForVideo(ctx context.Context, videoID int64) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE video_id = ? AND stage NOT IN (?, ?) LIMIT 1`,
		videoID,
		StageDone,
		StageFailed,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active job for video: %w", err)
	}
	return job, nil
}

// LatestJobForVideo returns the most recent job for a video, if any.
func (s *Store) LatestJobForVideo(ctx context.Context, videoID int64) (*ProcessingJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE video_id = ? ORDER BY id DESC LIMIT 1`,
		videoID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest job for video: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs filtered by stage set (or all jobs when no stage is
// provided), ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, stages ...Stage) ([]*ProcessingJob, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM processing_jobs`
	orderClause := ` ORDER BY created_at`

	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		query := baseQuery + ` WHERE stage IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNextJob leases the oldest claimable job for the given owner. A job is
// claimable when it is non-terminal and unleased, or when its previous lease
// expired. Returns nil when nothing is claimable.
func (s *Store) ClaimNextJob(ctx context.Context, owner string, ttl time.Duration) (*ProcessingJob, error) {
	if owner == "" {
		return nil, errors.New("lease owner is required")
	}
	ctx = ensureContext(ctx)

	for attempt := 0; attempt < claimAttempts; attempt++ {
		now := time.Now().UTC()
		nowStr := now.Format(time.RFC3339Nano)

		row := s.db.QueryRowContext(
			ctx,
			`SELECT id FROM processing_jobs
             WHERE stage NOT IN (?, ?)
               AND (lease_owner IS NULL OR lease_expires_at IS NULL OR lease_expires_at < ?)
             ORDER BY created_at
             LIMIT 1`,
			StageDone,
			StageFailed,
			nowStr,
		)
		var id int64
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		expires := now.Add(ttl).Format(time.RFC3339Nano)
		res, err := s.execWithRetry(
			ctx,
			`UPDATE processing_jobs
             SET lease_owner = ?, lease_expires_at = ?,
                 started_at = COALESCE(started_at, ?), updated_at = ?
             WHERE id = ?
               AND stage NOT IN (?, ?)
               AND (lease_owner IS NULL OR lease_expires_at IS NULL OR lease_expires_at < ?)`,
			owner,
			expires,
			nowStr,
			nowStr,
			id,
			StageDone,
			StageFailed,
			nowStr,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker won the race; try the next candidate.
			continue
		}
		return s.GetJob(ctx, id)
	}
	return nil, nil
}

// RenewLease extends the owner's claim on an in-flight job. Returns
// ErrLeaseLost when the lease is no longer held.
func (s *Store) RenewLease(ctx context.Context, jobID int64, owner string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs SET lease_expires_at = ?, updated_at = ?
         WHERE id = ? AND lease_owner = ? AND stage NOT IN (?, ?)`,
		now.Add(ttl).Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		jobID,
		owner,
		StageDone,
		StageFailed,
	)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseLease relinquishes the owner's claim without changing the stage, so
// another worker (or a restarted daemon) can pick the job up.
func (s *Store) ReleaseLease(ctx context.Context, jobID int64, owner string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE processing_jobs SET lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE id = ? AND lease_owner = ?`,
		nowStamp(),
		jobID,
		owner,
	); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// ReleaseActiveLeases clears every outstanding lease, typically on daemon
// shutdown. Jobs keep their stage and resume after restart.
func (s *Store) ReleaseActiveLeases(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs SET lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
         WHERE lease_owner IS NOT NULL AND stage NOT IN (?, ?)`,
		nowStamp(),
		StageDone,
		StageFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("release active leases: %w", err)
	}
	return res.RowsAffected()
}

// AdvanceStage moves a leased job from one stage to the next, resetting the
// attempt counter and clearing any previous error. Returns ErrLeaseLost when
// the caller no longer holds the lease or the job moved underneath it.
func (s *Store) AdvanceStage(ctx context.Context, jobID int64, owner string, from, to Stage) error {
	now := time.Now().UTC()
	var finished any
	if to == StageDone {
		finished = now.Format(time.RFC3339Nano)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs
         SET stage = ?, attempts = 0, error_message = NULL, retryable = 0,
             finished_at = ?, updated_at = ?
         WHERE id = ? AND lease_owner = ? AND stage = ?`,
		to,
		finished,
		now.Format(time.RFC3339Nano),
		jobID,
		owner,
		from,
	)
	if err != nil {
		return fmt.Errorf("advance stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// IncrementAttempts bumps the attempt counter for the current stage and
// returns the new value. Guarded by lease ownership.
func (s *Store) IncrementAttempts(ctx context.Context, jobID int64, owner string) (int, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs SET attempts = attempts + 1, updated_at = ?
         WHERE id = ? AND lease_owner = ?`,
		nowStamp(),
		jobID,
		owner,
	)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return 0, ErrLeaseLost
	}

	var attempts int
	row := s.db.QueryRowContext(ctx, `SELECT attempts FROM processing_jobs WHERE id = ?`, jobID)
	if err := row.Scan(&attempts); err != nil {
		return 0, fmt.Errorf("read attempts: %w", err)
	}
	return attempts, nil
}

// SetJobArtifacts records stage outputs on the job row. Empty arguments leave
// the existing value untouched.
func (s *Store) SetJobArtifacts(ctx context.Context, jobID int64, audioPath, transcriptPath string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE processing_jobs
         SET audio_path = COALESCE(NULLIF(?, ''), audio_path),
             transcript_path = COALESCE(NULLIF(?, ''), transcript_path),
             updated_at = ?
         WHERE id = ?`,
		audioPath,
		transcriptPath,
		nowStamp(),
		jobID,
	); err != nil {
		return fmt.Errorf("set job artifacts: %w", err)
	}
	return nil
}

// FailJob moves a job to the failed state, recording the stage it was in as
// the resume point for a future resubmission.
func (s *Store) FailJob(ctx context.Context, jobID int64, reason string, retryable bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE processing_jobs
         SET resume_stage = stage, stage = ?, error_message = ?, retryable = ?,
             lease_owner = NULL, lease_expires_at = NULL, finished_at = ?, updated_at = ?
         WHERE id = ? AND stage NOT IN (?, ?)`,
		StageFailed,
		nullableString(reason),
		boolToInt(retryable),
		now,
		now,
		jobID,
		StageDone,
		StageFailed,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", jobID, ErrJobNotActive)
	}
	return nil
}

// CancelJob marks an active job failed with the cancelled reason. Artifacts
// are left in place for the scratch sweep rather than deleted synchronously.
func (s *Store) CancelJob(ctx context.Context, jobID int64) (bool, error) {
	err := s.FailJob(ctx, jobID, CancelledReason, true)
	if err != nil {
		if errors.Is(err, ErrJobNotActive) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stats returns a count of jobs grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM processing_jobs GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

// ClearFinishedJobs removes terminal job rows older than the cutoff.
func (s *Store) ClearFinishedJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM processing_jobs WHERE stage IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
		StageDone,
		StageFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("clear finished jobs: %w", err)
	}
	return res.RowsAffected()
}
