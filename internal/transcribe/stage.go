package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
)

// Stage integrates transcription with the workflow manager: it sends the
// extracted audio to WhisperX and persists the word-level transcript as the
// job's artifact for the chunking stage.
type Stage struct {
	store  *store.Store
	client *Client
	logger *slog.Logger
}

// NewStage constructs the transcribing stage.
func NewStage(st *store.Store, client *Client, logger *slog.Logger) *Stage {
	return &Stage{
		store:  st,
		client: client,
		logger: logging.NewComponentLogger(logger, "transcribe-stage"),
	}
}

// Prepare verifies the extracting stage left an audio artifact behind.
func (s *Stage) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	if s == nil || s.client == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "prepare", "transcribe stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "job is nil", nil)
	}
	if job.AudioPath == "" {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "no audio artifact on job", nil)
	}
	return nil
}

// Execute transcribes the job's audio and records the transcript artifact.
func (s *Stage) Execute(ctx context.Context, job *store.ProcessingJob) error {
	stageStart := time.Now()
	if s == nil || s.client == nil || s.store == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "execute", "transcribe stage is not configured", nil)
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

	words, err := s.client.Transcribe(ctx, job.AudioPath, video.Language)
	if err != nil {
		return err
	}

	transcriptPath := filepath.Join(filepath.Dir(job.AudioPath), "transcript.json")
	transcript := Transcript{Language: video.Language, Model: s.client.cfg.Model, Words: words}
	if err := SaveTranscript(transcriptPath, transcript); err != nil {
		return err
	}
	if err := s.store.SetJobArtifacts(ctx, job.ID, "", transcriptPath); err != nil {
		return err
	}
	job.TranscriptPath = transcriptPath

	logging.WithContext(ctx, s.logger).Info("transcription complete",
		logging.Int("words", len(words)),
		logging.String("transcript_path", transcriptPath),
		logging.Duration("elapsed", time.Since(stageStart)),
	)
	return nil
}

// HealthCheck reports whether the transcription service is reachable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s == nil || s.client == nil {
		return stage.Unhealthy(stageName, "transcribe stage is not configured")
	}
	if err := s.client.Ping(ctx); err != nil {
		return stage.Unhealthy(stageName, err.Error())
	}
	return stage.Healthy(stageName)
}
