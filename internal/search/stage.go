package search

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
)

// Stage integrates search indexing with the workflow manager. It deletes the
// video's existing documents before bulk-writing the fresh set, so a re-run
// converges on exactly one document per sentence.
type Stage struct {
	store  *store.Store
	client *Client
	logger *slog.Logger
}

// NewStage constructs the indexing stage.
func NewStage(st *store.Store, client *Client, logger *slog.Logger) *Stage {
	return &Stage{
		store:  st,
		client: client,
		logger: logging.NewComponentLogger(logger, "index-stage"),
	}
}

// Prepare makes sure the sentence index exists.
func (s *Stage) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	if s == nil || s.client == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "prepare", "index stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "job is nil", nil)
	}
	return s.client.EnsureIndex(ctx)
}

// Execute replaces the video's documents in the search index.
func (s *Stage) Execute(ctx context.Context, job *store.ProcessingJob) error {
	stageStart := time.Now()
	if s == nil || s.client == nil || s.store == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "execute", "index stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, stageName, "execute", "job is nil", nil)
	}

	video, err := s.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return services.Wrap(services.ErrValidation, stageName, "execute",
			fmt.Sprintf("video %d not found", job.VideoID), nil)
	}

	sentences, err := s.store.ListSentences(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("load sentences: %w", err)
	}
	if len(sentences) == 0 {
		return services.Wrap(services.ErrValidation, stageName, "execute", "no sentences to index", nil)
	}

	var category *store.Category
	if video.CategoryID != nil {
		category, err = s.store.GetCategory(ctx, *video.CategoryID)
		if err != nil {
			return fmt.Errorf("load category: %w", err)
		}
	}

	if err := s.client.DeleteByVideo(ctx, job.VideoID); err != nil {
		return err
	}
	documents := BuildDocuments(video, category, sentences)
	if err := s.client.BulkIndex(ctx, documents); err != nil {
		return err
	}

	logging.WithContext(ctx, s.logger).Info("video indexed",
		logging.Int("documents", len(documents)),
		logging.Duration("elapsed", time.Since(stageStart)),
	)
	return nil
}

// HealthCheck reports whether the search service is reachable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s == nil || s.client == nil {
		return stage.Unhealthy(stageName, "index stage is not configured")
	}
	if err := s.client.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
