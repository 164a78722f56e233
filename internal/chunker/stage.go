package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"lingopipe/internal/config"
	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
	"lingopipe/internal/transcribe"
)

const stageName = "chunk"

// Stage integrates segmentation with the workflow manager. It reads the
// transcript artifact, splits it into sentences, and replaces the video's
// sentence rows so a re-run never duplicates content.
type Stage struct {
	store  *store.Store
	bounds config.Chunker
	logger *slog.Logger
}

// NewStage constructs the chunking stage.
func NewStage(st *store.Store, bounds config.Chunker, logger *slog.Logger) *Stage {
	return &Stage{
		store:  st,
		bounds: bounds,
		logger: logging.NewComponentLogger(logger, "chunk-stage"),
	}
}

// Prepare verifies the transcribing stage left a transcript artifact behind.
func (s *Stage) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	if s == nil || s.store == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "prepare", "chunk stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "job is nil", nil)
	}
	if job.TranscriptPath == "" {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "no transcript artifact on job", nil)
	}
	return nil
}

// Execute splits the transcript into sentences and persists them.
func (s *Stage) Execute(ctx context.Context, job *store.ProcessingJob) error {
	stageStart := time.Now()
	if s == nil || s.store == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "execute", "chunk stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, stageName, "execute", "job is nil", nil)
	}

	transcript, err := transcribe.LoadTranscript(job.TranscriptPath)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "execute", "transcript artifact unreadable", err)
	}
	if err := transcribe.ValidateWords(transcript.Words); err != nil {
		return err
	}

	segments := Split(transcript.Words, s.bounds)
	if len(segments) == 0 {
		return services.Wrap(services.ErrInvalidMedia, stageName, "execute", "transcript produced no segments", nil)
	}

	sentences := make([]*store.Sentence, 0, len(segments))
	for _, segment := range segments {
		wordsJSON, err := json.Marshal(segment.Words)
		if err != nil {
			return fmt.Errorf("encode segment words: %w", err)
		}
		sentences = append(sentences, &store.Sentence{
			VideoID:       job.VideoID,
			SentenceIndex: segment.Index,
			Text:          segment.Text,
			StartTime:     segment.Start,
			EndTime:       segment.End,
			WordsJSON:     string(wordsJSON),
		})
	}
	if err := s.store.ReplaceSentences(ctx, job.VideoID, sentences); err != nil {
		return fmt.Errorf("persist sentences: %w", err)
	}

	logging.WithContext(ctx, s.logger).Info("transcript chunked",
		logging.Int("words", len(transcript.Words)),
		logging.Int("sentences", len(sentences)),
		logging.Duration("elapsed", time.Since(stageStart)),
	)
	return nil
}

// HealthCheck reports readiness. Chunking is local computation, so the
// stage is healthy whenever it is wired to a store.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s == nil || s.store == nil {
		return stage.Unhealthy(stageName, "chunk stage is not configured")
	}
	return stage.Healthy(stageName)
}
