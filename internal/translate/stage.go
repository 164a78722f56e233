package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
)

// Stage integrates translation with the workflow manager. It translates every
// sentence of the video into the configured target languages and commits the
// results in one transaction, so a re-run after a mid-batch failure starts
// from a clean slate.
type Stage struct {
	store  *store.Store
	client *Client
	logger *slog.Logger
}

// NewStage constructs the translating stage.
func NewStage(st *store.Store, client *Client, logger *slog.Logger) *Stage {
	return &Stage{
		store:  st,
		client: client,
		logger: logging.NewComponentLogger(logger, "translate-stage"),
	}
}

// Prepare verifies the stage has target languages to work with.
func (s *Stage) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	if s == nil || s.client == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "prepare", "translate stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "job is nil", nil)
	}
	if len(s.client.cfg.TargetLanguages) == 0 {
		return services.Wrap(services.ErrConfiguration, stageName, "prepare", "no target languages configured", nil)
	}
	return nil
}

// Execute translates the video's sentences and persists the results.
func (s *Stage) Execute(ctx context.Context, job *store.ProcessingJob) error {
	stageStart := time.Now()
	if s == nil || s.client == nil || s.store == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "execute", "translate stage is not configured", nil)
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
		return services.Wrap(services.ErrValidation, stageName, "execute", "no sentences to translate", nil)
	}

	texts := make([]string, 0, len(sentences))
	for _, sentence := range sentences {
		texts = append(texts, sentence.Text)
	}

	translations, err := s.client.Translate(ctx, texts, video.Language)
	if err != nil {
		return err
	}

	byIndex := make(map[int]string, len(sentences))
	for i, sentence := range sentences {
		payload, err := json.Marshal(translations[i])
		if err != nil {
			return fmt.Errorf("encode translations for sentence %d: %w", sentence.SentenceIndex, err)
		}
		byIndex[sentence.SentenceIndex] = string(payload)
	}
	if err := s.store.UpdateSentenceTranslations(ctx, job.VideoID, byIndex); err != nil {
		return fmt.Errorf("persist translations: %w", err)
	}

	logging.WithContext(ctx, s.logger).Info("sentences translated",
		logging.Int("sentences", len(sentences)),
		logging.Int("languages", len(s.client.cfg.TargetLanguages)),
		logging.Duration("elapsed", time.Since(stageStart)),
	)
	return nil
}

// HealthCheck reports whether the translation service is reachable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s == nil || s.client == nil {
		return stage.Unhealthy(stageName, "translate stage is not configured")
	}
	if err := s.client.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
