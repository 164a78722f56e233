package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"lingopipe/internal/config"
	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
	"lingopipe/internal/testsupport"
)

type stubHandler struct {
	name string
	fail func(call int) error

	mu    sync.Mutex
	calls int
}

func (h *stubHandler) Prepare(ctx context.Context, job *store.ProcessingJob) error { return nil }

func (h *stubHandler) Execute(ctx context.Context, job *store.ProcessingJob) error {
	h.mu.Lock()
	h.calls++
	call := h.calls
	h.mu.Unlock()
	if h.fail != nil {
		return h.fail(call)
	}
	return nil
}

func (h *stubHandler) HealthCheck(ctx context.Context) stage.Health { return stage.Healthy(h.name) }

func (h *stubHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// contextStub captures the identity fields the manager attaches to the stage
// context. Stage loggers derive their record fields from exactly these.
type contextStub struct {
	stubHandler
	fields []slog.Attr
}

func (h *contextStub) Execute(ctx context.Context, job *store.ProcessingJob) error {
	h.mu.Lock()
	h.fields = logging.ContextFields(ctx)
	h.mu.Unlock()
	return h.stubHandler.Execute(ctx, job)
}

func (h *contextStub) contextFields() []slog.Attr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fields
}

var executableStages = []store.Stage{
	store.StageExtracting,
	store.StageTranscribing,
	store.StageChunking,
	store.StageTranslating,
	store.StageEmittingSubtitles,
	store.StageIndexing,
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	manager  *Manager
	handlers map[store.Stage]*stubHandler
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	manager := NewManager(cfg, st, logging.NewNop())
	manager.backoff.Sleeper = func(time.Duration) {}

	handlers := make(map[store.Stage]*stubHandler, len(executableStages))
	for _, s := range executableStages {
		handler := &stubHandler{name: string(s)}
		handlers[s] = handler
		manager.Register(s, handler)
	}
	return &fixture{cfg: cfg, store: st, manager: manager, handlers: handlers}
}

func (f *fixture) claimAndProcess(t *testing.T) *store.ProcessingJob {
	t.Helper()
	job, err := f.store.ClaimNextJob(context.Background(), f.manager.owner, time.Minute)
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	f.manager.processJob(context.Background(), job)

	final, err := f.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return final
}

func TestManagerRunsJobToCompletion(t *testing.T) {
	f := newFixture(t)
	video := testsupport.NewVideo(t, f.store, "complete-me")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := f.claimAndProcess(t)
	if final.Stage != store.StageDone {
		t.Fatalf("expected done, got %s (error: %s)", final.Stage, final.ErrorMessage)
	}
	if final.FinishedAt == nil {
		t.Fatal("expected finished timestamp")
	}
	if final.LeaseOwner != "" {
		t.Fatalf("expected released lease, got owner %q", final.LeaseOwner)
	}
	for _, s := range executableStages {
		if got := f.handlers[s].callCount(); got != 1 {
			t.Fatalf("expected stage %s to run once, ran %d times", s, got)
		}
	}

	published, err := f.store.GetVideo(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if published.Status != store.VideoStatusPublished {
		t.Fatalf("expected published video, got %s", published.Status)
	}
	if published.PublishedAt == nil {
		t.Fatal("expected published timestamp")
	}
}

func TestManagerRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.handlers[store.StageTranscribing].fail = func(call int) error {
		if call < 3 {
			return services.Wrap(services.ErrRemote, "transcribe", "test", "flaky", nil)
		}
		return nil
	}
	video := testsupport.NewVideo(t, f.store, "retry-me")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := f.claimAndProcess(t)
	if final.Stage != store.StageDone {
		t.Fatalf("expected done after retries, got %s (error: %s)", final.Stage, final.ErrorMessage)
	}
	if got := f.handlers[store.StageTranscribing].callCount(); got != 3 {
		t.Fatalf("expected 3 transcribe attempts, got %d", got)
	}
	if final.Attempts != 0 {
		t.Fatalf("expected attempt counter reset on advance, got %d", final.Attempts)
	}
}

func TestManagerFailsFastOnFatalError(t *testing.T) {
	f := newFixture(t)
	f.handlers[store.StageExtracting].fail = func(int) error {
		return services.Wrap(services.ErrInvalidMedia, "extract", "validate", "no video stream", nil)
	}
	video := testsupport.NewVideo(t, f.store, "fatal-input")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := f.claimAndProcess(t)
	if final.Stage != store.StageFailed {
		t.Fatalf("expected failed job, got %s", final.Stage)
	}
	if final.Retryable {
		t.Fatal("invalid media must be recorded as non-retryable")
	}
	if final.ResumeStage != store.StageExtracting {
		t.Fatalf("expected resume stage extracting, got %s", final.ResumeStage)
	}
	if got := f.handlers[store.StageExtracting].callCount(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
	for _, s := range executableStages[1:] {
		if got := f.handlers[s].callCount(); got != 0 {
			t.Fatalf("expected downstream stage %s to never run, ran %d times", s, got)
		}
	}

	video, err := f.store.GetVideo(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("GetVideo: %v", err)
	}
	if video.Status != store.VideoStatusDraft {
		t.Fatalf("expected video back in draft, got %s", video.Status)
	}
}

func TestManagerExhaustsRetryBudget(t *testing.T) {
	f := newFixture(t, testsupport.WithStageMaxAttempts(2))
	f.handlers[store.StageTranslating].fail = func(int) error {
		return services.Wrap(services.ErrRemote, "translate", "test", "service down", nil)
	}
	video := testsupport.NewVideo(t, f.store, "exhaust-me")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := f.claimAndProcess(t)
	if final.Stage != store.StageFailed {
		t.Fatalf("expected failed job, got %s", final.Stage)
	}
	if !final.Retryable {
		t.Fatal("remote failure should be recorded as retryable")
	}
	if final.ResumeStage != store.StageTranslating {
		t.Fatalf("expected resume stage translating, got %s", final.ResumeStage)
	}
	if got := f.handlers[store.StageTranslating].callCount(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestManagerResubmitResumesFromFailedStage(t *testing.T) {
	f := newFixture(t)
	f.handlers[store.StageChunking].fail = func(int) error {
		return services.Wrap(services.ErrValidation, "chunk", "execute", "transcript artifact unreadable", nil)
	}
	video := testsupport.NewVideo(t, f.store, "resume-me")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if final := f.claimAndProcess(t); final.Stage != store.StageFailed {
		t.Fatalf("expected first run to fail, got %s", final.Stage)
	}

	// Heal the stage and resubmit. The new job must resume at chunking
	// without re-running extraction or transcription.
	f.handlers[store.StageChunking].fail = nil
	extractCalls := f.handlers[store.StageExtracting].callCount()
	transcribeCalls := f.handlers[store.StageTranscribing].callCount()

	resumed, err := f.manager.Submit(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resumed.Stage != store.StageChunking {
		t.Fatalf("expected resumed job at chunking, got %s", resumed.Stage)
	}

	final := f.claimAndProcess(t)
	if final.Stage != store.StageDone {
		t.Fatalf("expected done, got %s (error: %s)", final.Stage, final.ErrorMessage)
	}
	if got := f.handlers[store.StageExtracting].callCount(); got != extractCalls {
		t.Fatalf("extract re-ran on resume: %d -> %d", extractCalls, got)
	}
	if got := f.handlers[store.StageTranscribing].callCount(); got != transcribeCalls {
		t.Fatalf("transcribe re-ran on resume: %d -> %d", transcribeCalls, got)
	}
}

func TestManagerFailsWhenHandlerMissing(t *testing.T) {
	f := newFixture(t)
	delete(f.manager.handlers, store.StageIndexing)
	video := testsupport.NewVideo(t, f.store, "unconfigured")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := f.claimAndProcess(t)
	if final.Stage != store.StageFailed {
		t.Fatalf("expected failed job, got %s", final.Stage)
	}
	if final.Retryable {
		t.Fatal("missing handler is a configuration fault, not retryable")
	}
}

func TestSubmitRejectsUnknownVideo(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Submit(context.Background(), 999)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestManagerAttachesJobIdentityToStageContext(t *testing.T) {
	f := newFixture(t)
	stub := &contextStub{stubHandler: stubHandler{name: string(store.StageExtracting)}}
	f.manager.Register(store.StageExtracting, stub)

	video := testsupport.NewVideo(t, f.store, "logged-run")
	job, err := f.manager.Submit(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	final := f.claimAndProcess(t)
	if final.Stage != store.StageDone {
		t.Fatalf("expected done, got %s (error: %s)", final.Stage, final.ErrorMessage)
	}

	fields := make(map[string]slog.Value)
	for _, attr := range stub.contextFields() {
		fields[attr.Key] = attr.Value
	}
	if got, ok := fields[logging.FieldVideoID]; !ok || got.Int64() != video.ID {
		t.Fatalf("expected video id %d in stage context, got %v", video.ID, got)
	}
	if got, ok := fields[logging.FieldJobID]; !ok || got.Int64() != job.ID {
		t.Fatalf("expected job id %d in stage context, got %v", job.ID, got)
	}
	if got, ok := fields[logging.FieldStage]; !ok || got.String() != string(store.StageExtracting) {
		t.Fatalf("expected stage field, got %v", got)
	}
	if got, ok := fields[logging.FieldCorrelationID]; !ok || got.String() == "" {
		t.Fatal("expected correlation id in stage context")
	}
}

func TestSubmitRejectsDuplicateActiveJob(t *testing.T) {
	f := newFixture(t)
	video := testsupport.NewVideo(t, f.store, "double-submit")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := f.manager.Submit(context.Background(), video.ID)
	if !errors.Is(err, store.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
}

func TestSubmitRejectsArchivedVideo(t *testing.T) {
	f := newFixture(t)
	video := testsupport.NewVideo(t, f.store, "archived-video")
	if err := f.store.SetVideoStatus(context.Background(), video.ID, store.VideoStatusArchived); err != nil {
		t.Fatalf("SetVideoStatus: %v", err)
	}

	_, err := f.manager.Submit(context.Background(), video.ID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if jobs, listErr := f.store.ListJobs(context.Background()); listErr != nil || len(jobs) != 0 {
		t.Fatalf("expected no jobs for archived video, got %d (err %v)", len(jobs), listErr)
	}
}

func TestCancelReturnsVideoToDraft(t *testing.T) {
	f := newFixture(t)
	video := testsupport.NewVideo(t, f.store, "cancel-me")
	job, err := f.manager.Submit(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cancelled, err := f.manager.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("expected job to be cancelled")
	}

	again, err := f.manager.Cancel(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if again {
		t.Fatal("expected second cancel to be a no-op")
	}

	final, err := f.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !final.Cancelled() {
		t.Fatalf("expected cancelled job, got stage %s reason %q", final.Stage, final.ErrorMessage)
	}
}

func TestStatusReportsQueueAndHealth(t *testing.T) {
	f := newFixture(t)
	video := testsupport.NewVideo(t, f.store, "status-me")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status, err := f.manager.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Stats[store.StageQueued] != 1 {
		t.Fatalf("expected one queued job, got %v", status.Stats)
	}
	if len(status.Active) != 1 {
		t.Fatalf("expected one active job, got %d", len(status.Active))
	}
	if len(status.Health) != len(executableStages) {
		t.Fatalf("expected %d health entries, got %d", len(executableStages), len(status.Health))
	}
	for _, health := range status.Health {
		if !health.Ready {
			t.Fatalf("expected healthy stage, got %+v", health)
		}
	}
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	f := newFixture(t)
	video := testsupport.NewVideo(t, f.store, "run-me")
	if _, err := f.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx) }()

	deadline := time.After(15 * time.Second)
	for {
		job, err := f.store.LatestJobForVideo(context.Background(), video.ID)
		if err != nil {
			t.Fatalf("LatestJobForVideo: %v", err)
		}
		if job != nil && job.Stage == store.StageDone {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job did not finish; current stage %v", job)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
