package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"lingopipe/internal/deps"
	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
)

// Stage integrates audio extraction with the workflow manager. It validates
// the source, persists container metadata on the video, and produces the
// 16kHz mono WAV the transcriber consumes.
type Stage struct {
	store   *store.Store
	service *Service
	logger  *slog.Logger
}

// NewStage constructs the extracting stage.
func NewStage(st *store.Store, service *Service, logger *slog.Logger) *Stage {
	return &Stage{store: st, service: service, logger: logging.NewComponentLogger(logger, "extract-stage")}
}

// Prepare ensures the job's scratch directory exists.
func (s *Stage) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	if s == nil || s.service == nil {
		return services.Wrap(services.ErrConfiguration, "extract", "prepare", "media stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, "extract", "prepare", "job is nil", nil)
	}
	if err := os.MkdirAll(s.scratchDir(job.VideoID), 0o755); err != nil {
		return fmt.Errorf("ensure scratch dir: %w", err)
	}
	return nil
}

// Execute validates the video source, records its metadata, and extracts the
// transcription audio plus a preview thumbnail.
func (s *Stage) Execute(ctx context.Context, job *store.ProcessingJob) error {
	stageStart := time.Now()
	if s == nil || s.service == nil || s.store == nil {
		return services.Wrap(services.ErrConfiguration, "extract", "execute", "media stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, "extract", "execute", "job is nil", nil)
	}

	video, err := s.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		return fmt.Errorf("load video: %w", err)
	}
	if video == nil {
		return services.Wrap(services.ErrValidation, "extract", "execute",
			fmt.Sprintf("video %d not found", job.VideoID), nil)
	}

	validation, err := s.service.Validate(ctx, video.SourceURL)
	if err != nil {
		return err
	}
	if !validation.OK {
		return services.Wrap(services.ErrInvalidMedia, "extract", "validate", validation.Reason, nil)
	}

	meta, err := s.service.ExtractMetadata(ctx, video.SourceURL)
	if err != nil {
		return err
	}

	audioPath := filepath.Join(s.scratchDir(job.VideoID), "audio.wav")
	if err := s.service.ExtractAudio(ctx, video.SourceURL, audioPath); err != nil {
		return err
	}

	thumbnailPath := filepath.Join(s.scratchDir(job.VideoID), "thumbnail.jpg")
	if err := s.service.ExtractThumbnail(ctx, video.SourceURL, thumbnailPath, meta.DurationSecs/2); err != nil {
		// A missing thumbnail does not block transcription.
		logging.WithContext(ctx, s.logger).Warn("thumbnail extraction failed", logging.Error(err))
		thumbnailPath = ""
	}

	video.DurationSecs = meta.DurationSecs
	video.Resolution = meta.Resolution()
	video.AudioKey = audioPath
	if thumbnailPath != "" {
		video.ThumbnailKey = thumbnailPath
	}
	if err := s.store.UpdateVideo(ctx, video); err != nil {
		return fmt.Errorf("persist video metadata: %w", err)
	}
	if err := s.store.SetJobArtifacts(ctx, job.ID, audioPath, ""); err != nil {
		return err
	}
	job.AudioPath = audioPath

	logging.WithContext(ctx, s.logger).Info("audio extracted",
		logging.String("audio_path", audioPath),
		logging.Float64("duration_secs", meta.DurationSecs),
		logging.Duration("elapsed", time.Since(stageStart)),
	)
	return nil
}

// HealthCheck verifies the external binaries are resolvable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	const name = "extract"
	if s == nil || s.service == nil {
		return stage.Unhealthy(name, "media stage is not configured")
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(s.service.cfg)) {
		if !status.Available && !status.Optional {
			return stage.Unhealthy(name, status.Detail)
		}
	}
	return stage.Healthy(name)
}

func (s *Stage) scratchDir(videoID int64) string {
	return filepath.Join(s.service.cfg.Paths.ScratchDir, strconv.FormatInt(videoID, 10))
}
