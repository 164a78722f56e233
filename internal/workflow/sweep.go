package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"lingopipe/internal/logging"
	"lingopipe/internal/store"
)

const (
	// failedArtifactRetention keeps a failed job's scratch artifacts around
	// long enough for a resumed run to reuse them.
	failedArtifactRetention = 7 * 24 * time.Hour
	// finishedJobRetention bounds how long terminal job rows stay queryable.
	finishedJobRetention = 30 * 24 * time.Hour
)

// sweepLoop periodically removes scratch directories of finished jobs and
// prunes old terminal job rows.
func (m *Manager) sweepLoop(ctx context.Context) {
	interval := time.Duration(m.cfg.Workflow.ScratchSweepHours) * time.Hour
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep reclaims scratch space. Completed jobs lose their scratch directory
// after one sweep interval; failed jobs keep theirs for the resume window
// because a resubmission reuses the recorded audio and transcript artifacts.
func (m *Manager) sweep(ctx context.Context) {
	now := time.Now().UTC()
	interval := time.Duration(m.cfg.Workflow.ScratchSweepHours) * time.Hour

	jobs, err := m.store.ListJobs(ctx, store.StageDone, store.StageFailed)
	if err != nil {
		m.logger.Error("scratch sweep failed to list jobs", logging.Error(err))
		return
	}

	removed := 0
	for _, job := range jobs {
		if job.FinishedAt == nil {
			continue
		}
		age := now.Sub(job.FinishedAt.UTC())
		if job.Stage == store.StageDone && age < interval {
			continue
		}
		if job.Stage == store.StageFailed && age < failedArtifactRetention {
			continue
		}

		active, err := m.store.ActiveJobForVideo(ctx, job.VideoID)
		if err != nil {
			m.logger.Error("scratch sweep lookup failed",
				logging.Int64(logging.FieldVideoID, job.VideoID),
				logging.Error(err),
			)
			continue
		}
		if active != nil {
			continue
		}

		dir := filepath.Join(m.cfg.Paths.ScratchDir, strconv.FormatInt(job.VideoID, 10))
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("scratch sweep could not remove directory",
				logging.String("dir", dir),
				logging.Error(err),
			)
			continue
		}
		removed++
	}

	cleared, err := m.store.ClearFinishedJobs(ctx, now.Add(-finishedJobRetention))
	if err != nil {
		m.logger.Error("scratch sweep failed to clear job rows", logging.Error(err))
	}
	if removed > 0 || cleared > 0 {
		m.logger.Info("scratch sweep complete",
			logging.Int("scratch_dirs_removed", removed),
			logging.Int64("job_rows_cleared", cleared),
		)
	}
}
