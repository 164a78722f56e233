// Package workflow drives processing jobs through the pipeline stages. The
// manager owns every retry-or-fail decision: stage adapters report classified
// errors and the manager decides whether another attempt is worth it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"lingopipe/internal/config"
	"lingopipe/internal/logging"
	"lingopipe/internal/retry"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
)

// errorMessageLimit caps what gets persisted on failed jobs so a verbose
// tool dump does not bloat the row.
const errorMessageLimit = 500

// Manager runs the worker pool that claims jobs and walks them through the
// stage sequence. Handlers must be registered before Run is called; the
// registry is not mutated afterwards.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	logger   *slog.Logger
	owner    string
	backoff  retry.Policy
	handlers map[store.Stage]stage.Handler
}

// NewManager constructs a workflow manager. The lease owner identity is
// unique per process so expired leases can be told apart from live ones.
func NewManager(cfg *config.Config, st *store.Store, logger *slog.Logger) *Manager {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "lingopiped"
	}
	return &Manager{
		cfg:    cfg,
		store:  st,
		logger: logging.NewComponentLogger(logger, "workflow"),
		owner:  fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		backoff: retry.Policy{
			BaseDelay: time.Duration(cfg.Workflow.RetryBaseSeconds) * time.Second,
			MaxDelay:  time.Duration(cfg.Workflow.RetryMaxSeconds) * time.Second,
		},
		handlers: make(map[store.Stage]stage.Handler),
	}
}

// Register binds a handler to the pipeline stage it executes.
func (m *Manager) Register(st store.Stage, handler stage.Handler) {
	m.handlers[st] = handler
}

// Owner returns the lease owner identity of this manager.
func (m *Manager) Owner() string {
	return m.owner
}

// Run starts the worker pool and blocks until the context is cancelled. On
// shutdown every outstanding lease is released so jobs resume after restart.
func (m *Manager) Run(ctx context.Context) error {
	workers := m.cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	m.logger.Info("workflow manager starting",
		logging.Int("workers", workers),
		logging.String("lease_owner", m.owner),
	)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.workerLoop(ctx, i)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.sweepLoop(ctx)
	}()
	wg.Wait()

	releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	released, err := m.store.ReleaseActiveLeases(releaseCtx)
	if err != nil {
		m.logger.Error("failed to release leases on shutdown", logging.Error(err))
		return err
	}
	if released > 0 {
		m.logger.Info("released leases on shutdown", logging.Int64("count", released))
	}
	return nil
}

func (m *Manager) workerLoop(ctx context.Context, worker int) {
	poll := time.Duration(m.cfg.Workflow.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	errorRetry := time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second
	if errorRetry <= 0 {
		errorRetry = poll
	}

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.ClaimNextJob(ctx, m.owner, m.leaseTTL())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("claim failed", logging.Int("worker", worker), logging.Error(err))
			if !sleepCtx(ctx, errorRetry) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, poll) {
				return
			}
			continue
		}
		m.processJob(ctx, job)
	}
}

// processJob walks a claimed job from its current stage to done, renewing the
// lease in the background. A cancelled context releases the lease and leaves
// the job for the next claimant; everything else either advances or fails it.
func (m *Manager) processJob(ctx context.Context, job *store.ProcessingJob) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobCtx = services.WithVideoID(jobCtx, job.VideoID)
	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobCtx = services.WithRequestID(jobCtx, job.CorrelationID)
	logger := logging.WithContext(jobCtx, m.logger)

	heartbeatDone := make(chan struct{})
	go m.heartbeat(jobCtx, job.ID, cancel, heartbeatDone)
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	if err := m.markProcessing(jobCtx, job); err != nil {
		logger.Error("failed to mark video processing", logging.Error(err))
		_ = m.store.ReleaseLease(context.WithoutCancel(jobCtx), job.ID, m.owner)
		return
	}

	logger.Info("job started", logging.String(logging.FieldStage, string(job.Stage)))

	current := job.Stage
	if current == store.StageQueued {
		next, _ := store.NextStage(current)
		if err := m.store.AdvanceStage(jobCtx, job.ID, m.owner, current, next); err != nil {
			m.handleStageError(jobCtx, job, current, err)
			return
		}
		current = next
	}

	for !current.IsTerminal() {
		handler, ok := m.handlers[current]
		if !ok {
			err := services.Wrap(services.ErrConfiguration, string(current), "dispatch",
				"no handler registered for stage", nil)
			m.failJob(jobCtx, job, err)
			return
		}

		stageCtx := services.WithStage(jobCtx, string(current))
		if err := m.runStage(stageCtx, job, current, handler); err != nil {
			m.handleStageError(jobCtx, job, current, err)
			return
		}

		next, ok := store.NextStage(current)
		if !ok {
			next = store.StageDone
		}
		if err := m.store.AdvanceStage(jobCtx, job.ID, m.owner, current, next); err != nil {
			m.handleStageError(jobCtx, job, current, err)
			return
		}
		current = next
	}

	if current == store.StageDone {
		m.handleDone(jobCtx, job)
	}
}

// runStage executes one stage with the manager's retry loop. Attempts are
// persisted on the job row so a crash mid-retry does not reset the budget.
func (m *Manager) runStage(ctx context.Context, job *store.ProcessingJob, current store.Stage, handler stage.Handler) error {
	logger := logging.WithContext(ctx, m.logger)
	maxAttempts := m.cfg.Workflow.StageMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for {
		err := executeOnce(ctx, handler, job)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return context.Cause(ctx)
		}

		attempts, attemptErr := m.store.IncrementAttempts(ctx, job.ID, m.owner)
		if attemptErr != nil {
			return attemptErr
		}
		if !services.Retryable(err) {
			logger.Error("stage failed",
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Int("attempts", attempts),
				logging.Error(err),
			)
			return err
		}
		if attempts >= maxAttempts {
			logger.Error("stage failed after exhausting attempts",
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.Int("attempts", attempts),
				logging.Error(err),
			)
			return err
		}

		delay := m.backoff.Delay(attempts)
		logger.Warn("stage attempt failed; retrying",
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Int("attempt", attempts),
			logging.Duration("retry_in", delay),
			logging.Error(err),
		)
		if sleepErr := m.backoff.Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

func executeOnce(ctx context.Context, handler stage.Handler, job *store.ProcessingJob) error {
	if err := handler.Prepare(ctx, job); err != nil {
		return err
	}
	return handler.Execute(ctx, job)
}

// handleStageError routes a stage failure. Lease loss and shutdown leave the
// job as-is; real failures move it to the failed state.
func (m *Manager) handleStageError(ctx context.Context, job *store.ProcessingJob, current store.Stage, err error) {
	logger := logging.WithContext(ctx, m.logger)
	base := context.WithoutCancel(ctx)

	switch {
	case errors.Is(err, store.ErrLeaseLost):
		logger.Warn("lease lost; abandoning job", logging.String(logging.FieldStage, string(current)))
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		logger.Info("job interrupted; releasing lease", logging.String(logging.FieldStage, string(current)))
		if releaseErr := m.store.ReleaseLease(base, job.ID, m.owner); releaseErr != nil {
			logger.Error("failed to release lease", logging.Error(releaseErr))
		}
	default:
		m.failJob(ctx, job, err)
	}
}

// failJob moves the job to failed and returns the video to draft so the
// failure is visible and the video can be resubmitted.
func (m *Manager) failJob(ctx context.Context, job *store.ProcessingJob, cause error) {
	logger := logging.WithContext(ctx, m.logger)
	base := context.WithoutCancel(ctx)

	message := cause.Error()
	if len(message) > errorMessageLimit {
		message = message[:errorMessageLimit]
	}
	if err := m.store.FailJob(base, job.ID, message, services.Retryable(cause)); err != nil {
		logger.Error("failed to record job failure", logging.Error(err))
	}
	if err := m.store.SetVideoStatus(base, job.VideoID, store.VideoStatusDraft); err != nil {
		logger.Error("failed to reset video status", logging.Error(err))
	}
	logger.Error("job failed",
		logging.String(logging.FieldErrorKind, services.Kind(cause)),
		logging.Bool("retryable", services.Retryable(cause)),
		logging.Error(cause),
	)
}

// handleDone publishes the video and releases the lease.
func (m *Manager) handleDone(ctx context.Context, job *store.ProcessingJob) {
	logger := logging.WithContext(ctx, m.logger)
	base := context.WithoutCancel(ctx)

	if err := m.store.SetVideoStatus(base, job.VideoID, store.VideoStatusPublished); err != nil {
		logger.Error("failed to publish video", logging.Error(err))
		return
	}
	if err := m.store.ReleaseLease(base, job.ID, m.owner); err != nil {
		logger.Error("failed to release lease", logging.Error(err))
	}
	logger.Info("job completed; video published")
}

func (m *Manager) markProcessing(ctx context.Context, job *store.ProcessingJob) error {
	video, err := m.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("video %d not found", job.VideoID)
	}
	if video.Status == store.VideoStatusProcessing {
		return nil
	}
	return m.store.SetVideoStatus(ctx, job.VideoID, store.VideoStatusProcessing)
}

// heartbeat renews the job lease until the context ends. Losing the lease
// cancels the job context so the worker stops touching shared state.
func (m *Manager) heartbeat(ctx context.Context, jobID int64, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	interval := time.Duration(m.cfg.Workflow.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.RenewLease(ctx, jobID, m.owner, m.leaseTTL()); err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.WithContext(ctx, m.logger).Warn("heartbeat failed; cancelling job",
					logging.Int64(logging.FieldJobID, jobID),
					logging.Error(err),
				)
				cancel()
				return
			}
		}
	}
}

func (m *Manager) leaseTTL() time.Duration {
	ttl := time.Duration(m.cfg.Workflow.LeaseTimeout) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return ttl
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
