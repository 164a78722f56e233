package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lingopipe/internal/store"
	"lingopipe/internal/testsupport"
)

func TestCreateJobStartsQueued(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	video := testsupport.NewVideo(t, st, "job-1")

	job := testsupport.NewJob(t, st, video.ID)
	if job.Stage != store.StageQueued {
		t.Fatalf("expected queued, got %s", job.Stage)
	}
	if job.CorrelationID == "" {
		t.Fatal("expected correlation id")
	}
	if job.Attempts != 0 {
		t.Fatalf("expected zero attempts, got %d", job.Attempts)
	}
}

func TestCreateJobRejectsActiveDuplicate(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	video := testsupport.NewVideo(t, st, "job-2")

	testsupport.NewJob(t, st, video.ID)
	if _, err := st.CreateJob(context.Background(), video.ID); !errors.Is(err, store.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
}

func TestConcurrentSubmitAcceptsExactlyOne(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	video := testsupport.NewVideo(t, st, "job-race")

	const submitters = 8
	var wg sync.WaitGroup
	results := make(chan error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.CreateJob(context.Background(), video.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	accepted, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, store.ErrAlreadyProcessing):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one accepted submit, got %d (rejected %d)", accepted, rejected)
	}
}

func TestClaimRenewReleaseLease(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "lease-1")
	created := testsupport.NewJob(t, st, video.ID)

	job, err := st.ClaimNextJob(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != created.ID {
		t.Fatalf("expected job %d, got %+v", created.ID, job)
	}
	if job.LeaseOwner != "worker-1" || job.LeaseExpiresAt == nil {
		t.Fatalf("expected lease held by worker-1, got %+v", job)
	}
	if job.StartedAt == nil {
		t.Fatal("expected started_at on first claim")
	}

	// The lease blocks a second claimant.
	other, err := st.ClaimNextJob(ctx, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob second: %v", err)
	}
	if other != nil {
		t.Fatalf("expected no claimable job, got %+v", other)
	}

	if err := st.RenewLease(ctx, job.ID, "worker-1", time.Minute); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	if err := st.RenewLease(ctx, job.ID, "worker-2", time.Minute); !errors.Is(err, store.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for wrong owner, got %v", err)
	}

	if err := st.ReleaseLease(ctx, job.ID, "worker-1"); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	reclaimed, err := st.ClaimNextJob(ctx, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob after release: %v", err)
	}
	if reclaimed == nil || reclaimed.LeaseOwner != "worker-2" {
		t.Fatalf("expected worker-2 to claim released job, got %+v", reclaimed)
	}
}

func TestClaimNextJobTakesOverExpiredLease(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "lease-2")
	testsupport.NewJob(t, st, video.ID)

	if _, err := st.ClaimNextJob(ctx, "worker-1", -time.Second); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	job, err := st.ClaimNextJob(ctx, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob takeover: %v", err)
	}
	if job == nil || job.LeaseOwner != "worker-2" {
		t.Fatalf("expected takeover of expired lease, got %+v", job)
	}
}

func TestAdvanceStageGuardsLeaseAndStage(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "advance-1")
	testsupport.NewJob(t, st, video.ID)

	job, err := st.ClaimNextJob(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := st.AdvanceStage(ctx, job.ID, "worker-1", store.StageQueued, store.StageExtracting); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if err := st.AdvanceStage(ctx, job.ID, "worker-1", store.StageQueued, store.StageExtracting); !errors.Is(err, store.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for stale from-stage, got %v", err)
	}
	if err := st.AdvanceStage(ctx, job.ID, "worker-2", store.StageExtracting, store.StageTranscribing); !errors.Is(err, store.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost for wrong owner, got %v", err)
	}

	updated, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.Stage != store.StageExtracting {
		t.Fatalf("expected extracting, got %s", updated.Stage)
	}
}

func TestAdvanceToDoneSetsFinishedAt(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "advance-2")
	testsupport.NewJob(t, st, video.ID)

	job, err := st.ClaimNextJob(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	current := store.StageQueued
	for {
		next, ok := store.NextStage(current)
		if !ok {
			break
		}
		if err := st.AdvanceStage(ctx, job.ID, "worker-1", current, next); err != nil {
			t.Fatalf("AdvanceStage %s -> %s: %v", current, next, err)
		}
		current = next
	}

	finished, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if finished.Stage != store.StageDone {
		t.Fatalf("expected done, got %s", finished.Stage)
	}
	if finished.FinishedAt == nil {
		t.Fatal("expected finished_at on done")
	}
}

func TestFailJobRecordsResumeStage(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "fail-1")
	testsupport.NewJob(t, st, video.ID)

	job, err := st.ClaimNextJob(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := st.AdvanceStage(ctx, job.ID, "worker-1", store.StageQueued, store.StageExtracting); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if err := st.AdvanceStage(ctx, job.ID, "worker-1", store.StageExtracting, store.StageTranscribing); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if err := st.SetJobArtifacts(ctx, job.ID, "/scratch/audio.wav", ""); err != nil {
		t.Fatalf("SetJobArtifacts: %v", err)
	}
	if err := st.FailJob(ctx, job.ID, "transcriber unreachable", true); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	failed, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if failed.Stage != store.StageFailed || failed.ResumeStage != store.StageTranscribing {
		t.Fatalf("expected failed with resume at transcribing, got %s/%s", failed.Stage, failed.ResumeStage)
	}
	if !failed.Retryable {
		t.Fatal("expected retryable flag")
	}
	if failed.LeaseOwner != "" {
		t.Fatal("expected lease cleared on failure")
	}
}

func TestResubmitResumesFromFailedStage(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "resume-1")
	testsupport.NewJob(t, st, video.ID)

	job, err := st.ClaimNextJob(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := st.AdvanceStage(ctx, job.ID, "worker-1", store.StageQueued, store.StageExtracting); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if err := st.SetJobArtifacts(ctx, job.ID, "/scratch/audio.wav", "/scratch/transcript.json"); err != nil {
		t.Fatalf("SetJobArtifacts: %v", err)
	}
	if err := st.AdvanceStage(ctx, job.ID, "worker-1", store.StageExtracting, store.StageTranscribing); err != nil {
		t.Fatalf("AdvanceStage: %v", err)
	}
	if err := st.FailJob(ctx, job.ID, "boom", true); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	resumed, err := st.CreateJob(ctx, video.ID)
	if err != nil {
		t.Fatalf("CreateJob resume: %v", err)
	}
	if resumed.Stage != store.StageTranscribing {
		t.Fatalf("expected resume at transcribing, got %s", resumed.Stage)
	}
	if resumed.AudioPath != "/scratch/audio.wav" {
		t.Fatalf("expected inherited audio artifact, got %q", resumed.AudioPath)
	}
}

func TestCancelJob(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "cancel-1")
	job := testsupport.NewJob(t, st, video.ID)

	cancelled, err := st.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancellation")
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.Cancelled() {
		t.Fatalf("expected cancelled job, got %+v", got)
	}

	// A second cancel is a no-op on the terminal job.
	again, err := st.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelJob again: %v", err)
	}
	if again {
		t.Fatal("expected no-op cancel on terminal job")
	}
}

func TestIncrementAttempts(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	video := testsupport.NewVideo(t, st, "attempts-1")
	testsupport.NewJob(t, st, video.ID)

	job, err := st.ClaimNextJob(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := st.IncrementAttempts(ctx, job.ID, "worker-1")
		if err != nil {
			t.Fatalf("IncrementAttempts: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d attempts, got %d", want, got)
		}
	}

	if _, err := st.IncrementAttempts(ctx, job.ID, "worker-2"); !errors.Is(err, store.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
}

func TestReleaseActiveLeases(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	first := testsupport.NewVideo(t, st, "shutdown-1")
	second := testsupport.NewVideo(t, st, "shutdown-2")
	testsupport.NewJob(t, st, first.ID)
	testsupport.NewJob(t, st, second.ID)

	if _, err := st.ClaimNextJob(ctx, "worker-1", time.Minute); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if _, err := st.ClaimNextJob(ctx, "worker-2", time.Minute); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	released, err := st.ReleaseActiveLeases(ctx)
	if err != nil {
		t.Fatalf("ReleaseActiveLeases: %v", err)
	}
	if released != 2 {
		t.Fatalf("expected 2 released leases, got %d", released)
	}
}

func TestStats(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	first := testsupport.NewVideo(t, st, "stats-1")
	second := testsupport.NewVideo(t, st, "stats-2")
	testsupport.NewJob(t, st, first.ID)
	job := testsupport.NewJob(t, st, second.ID)
	if err := st.FailJob(ctx, job.ID, "boom", false); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[store.StageQueued] != 1 || stats[store.StageFailed] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestNextStageOrder(t *testing.T) {
	order := []store.Stage{
		store.StageQueued,
		store.StageExtracting,
		store.StageTranscribing,
		store.StageChunking,
		store.StageTranslating,
		store.StageEmittingSubtitles,
		store.StageIndexing,
		store.StageDone,
	}
	for i := 0; i < len(order)-1; i++ {
		next, ok := store.NextStage(order[i])
		if !ok || next != order[i+1] {
			t.Fatalf("expected %s after %s, got %s", order[i+1], order[i], next)
		}
	}
	if _, ok := store.NextStage(store.StageDone); ok {
		t.Fatal("done has no successor")
	}
	if _, ok := store.NextStage(store.StageFailed); ok {
		t.Fatal("failed has no successor")
	}
}
