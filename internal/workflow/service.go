package workflow

import (
	"context"
	"fmt"

	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
)

// QueueStatus is the operator-facing projection of the pipeline.
type QueueStatus struct {
	Stats  map[store.Stage]int    `json:"stats"`
	Active []*store.ProcessingJob `json:"active"`
	Health []stage.Health         `json:"health"`
}

// Submit queues a video for processing. At most one active job per video is
// allowed; a previously failed run resumes from its recorded stage.
func (m *Manager) Submit(ctx context.Context, videoID int64) (*store.ProcessingJob, error) {
	video, err := m.store.GetVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return nil, services.Wrap(services.ErrValidation, "submit", "",
			fmt.Sprintf("video %d not found", videoID), nil)
	}
	if video.SourceURL == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "", "video has no source", nil)
	}
	// Drafts are the normal input; published videos may be reprocessed.
	// Archived videos stay archived and processing ones already have a job.
	switch video.Status {
	case store.VideoStatusDraft, store.VideoStatusPublished:
	default:
		return nil, services.Wrap(services.ErrValidation, "submit", "",
			fmt.Sprintf("video status %s does not allow processing", video.Status), nil)
	}

	job, err := m.store.CreateJob(ctx, videoID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("job submitted",
		logging.Int64(logging.FieldVideoID, videoID),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldStage, string(job.Stage)),
		logging.String(logging.FieldCorrelationID, job.CorrelationID),
	)
	return job, nil
}

// Cancel stops an active job and returns the video to draft. Cancelling a
// terminal job reports false without error.
func (m *Manager) Cancel(ctx context.Context, jobID int64) (bool, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, services.Wrap(services.ErrValidation, "cancel", "",
			fmt.Sprintf("job %d not found", jobID), nil)
	}

	cancelled, err := m.store.CancelJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !cancelled {
		return false, nil
	}
	if err := m.store.SetVideoStatus(ctx, job.VideoID, store.VideoStatusDraft); err != nil {
		return true, fmt.Errorf("reset video status: %w", err)
	}
	m.logger.Info("job cancelled",
		logging.Int64(logging.FieldJobID, jobID),
		logging.Int64(logging.FieldVideoID, job.VideoID),
	)
	return true, nil
}

// Status reports queue counts, in-flight jobs, and per-stage health.
func (m *Manager) Status(ctx context.Context) (*QueueStatus, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	active, err := m.store.ListJobs(ctx, activeStages()...)
	if err != nil {
		return nil, err
	}
	return &QueueStatus{
		Stats:  stats,
		Active: active,
		Health: m.Health(ctx),
	}, nil
}

// Health runs every registered handler's health check in stage order.
func (m *Manager) Health(ctx context.Context) []stage.Health {
	var report []stage.Health
	for _, st := range store.AllStages() {
		handler, ok := m.handlers[st]
		if !ok {
			continue
		}
		report = append(report, handler.HealthCheck(ctx))
	}
	return report
}

func activeStages() []store.Stage {
	var active []store.Stage
	for _, st := range store.AllStages() {
		if !st.IsTerminal() {
			active = append(active, st)
		}
	}
	return active
}
