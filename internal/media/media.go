// Package media wraps ffmpeg and ffprobe for validation, metadata probing,
// and audio/thumbnail extraction, staging remote sources to scratch storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"lingopipe/internal/config"
	"lingopipe/internal/logging"
	"lingopipe/internal/media/ffprobe"
	"lingopipe/internal/services"
)

const stageName = "media"

// Metadata is the container-level summary the pipeline persists on a video.
type Metadata struct {
	DurationSecs float64
	Width        int
	Height       int
	Codec        string
	BitRate      int64
	FrameRate    float64
}

// Resolution returns the dimensions as "WxH", or "" when unknown.
func (m Metadata) Resolution() string {
	if m.Width <= 0 || m.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// Validation is the outcome of a media check: ok, or a reason it failed.
type Validation struct {
	OK     bool
	Reason string
}

// Service runs ffmpeg and ffprobe with per-operation execution budgets.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewService constructs a media service.
func NewService(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return &Service{cfg: cfg, logger: logging.NewComponentLogger(logger, stageName)}, nil
}

func (s *Service) probeTimeout() time.Duration {
	return time.Duration(s.cfg.Media.ProbeTimeoutSeconds) * time.Second
}

func (s *Service) extractTimeout() time.Duration {
	return time.Duration(s.cfg.Media.ExtractTimeoutSeconds) * time.Second
}

// Probe inspects a local media file within the probe budget.
func (s *Service) Probe(ctx context.Context, path string) (ffprobe.Result, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout())
	defer cancel()

	result, err := ffprobe.Inspect(probeCtx, s.cfg.FFprobeBinary(), path)
	if err != nil {
		return ffprobe.Result{}, classifyExecError(probeCtx, "probe", "ffprobe failed", err)
	}
	return result, nil
}

// Validate probes a media locator and checks it carries a playable video.
// Remote locators are staged to scratch for the duration of the call.
func (s *Service) Validate(ctx context.Context, locator string) (Validation, error) {
	var validation Validation
	err := s.WithLocalSource(ctx, locator, func(localPath string) error {
		result, err := s.Probe(ctx, localPath)
		if err != nil {
			if errors.Is(err, services.ErrToolFailure) && probeRejected(err) {
				// ffprobe rejecting the container is a verdict, not a failure.
				validation = Validation{OK: false, Reason: "container unreadable"}
				return nil
			}
			return err
		}
		validation = validateResult(result)
		return nil
	})
	if err != nil {
		return Validation{}, err
	}
	return validation, nil
}

// probeRejected reports whether ffprobe ran to completion and rejected the
// input. A missing binary or a signal kill never produced a verdict, so those
// stay errors for the retry machinery instead of failing the media.
func probeRejected(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return false
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() > 0
	}
	return false
}

func validateResult(result ffprobe.Result) Validation {
	if result.VideoStreamCount() == 0 {
		return Validation{OK: false, Reason: "no video stream"}
	}
	if result.DurationSeconds() <= 0 {
		return Validation{OK: false, Reason: "zero duration"}
	}
	return Validation{OK: true}
}

// ExtractMetadata probes a media locator and summarizes its container and
// primary video stream.
func (s *Service) ExtractMetadata(ctx context.Context, locator string) (Metadata, error) {
	var meta Metadata
	err := s.WithLocalSource(ctx, locator, func(localPath string) error {
		result, err := s.Probe(ctx, localPath)
		if err != nil {
			return err
		}
		if validation := validateResult(result); !validation.OK {
			return services.Wrap(services.ErrInvalidMedia, stageName, "extract metadata", validation.Reason, nil)
		}
		meta = Metadata{
			DurationSecs: result.DurationSeconds(),
			BitRate:      result.BitRate(),
		}
		if video, ok := result.VideoStream(); ok {
			meta.Width = video.Width
			meta.Height = video.Height
			meta.Codec = video.CodecName
			meta.FrameRate = video.FrameRate()
		}
		return nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// ExtractAudio produces a mono 16kHz PCM WAV suitable for transcription.
func (s *Service) ExtractAudio(ctx context.Context, locator, destPath string) error {
	return s.WithLocalSource(ctx, locator, func(localPath string) error {
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-i", localPath,
			"-vn",
			"-acodec", "pcm_s16le",
			"-ar", "16000",
			"-ac", "1",
			"-y",
			destPath,
		}
		return s.runFFmpeg(ctx, "extract audio", args, s.extractTimeout())
	})
}

// ExtractThumbnail produces a still image at the given timestamp.
func (s *Service) ExtractThumbnail(ctx context.Context, locator, destPath string, timestampSecs float64) error {
	if timestampSecs < 0 {
		timestampSecs = 0
	}
	return s.WithLocalSource(ctx, locator, func(localPath string) error {
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-ss", fmt.Sprintf("%.3f", timestampSecs),
			"-i", localPath,
			"-frames:v", "1",
			"-y",
			destPath,
		}
		return s.runFFmpeg(ctx, "extract thumbnail", args, s.extractTimeout())
	})
}

func (s *Service) runFFmpeg(ctx context.Context, op string, args []string, budget time.Duration) error {
	execCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	started := time.Now()
	cmd := exec.CommandContext(execCtx, s.cfg.FFmpegBinary(), args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return classifyExecError(execCtx, op, strings.TrimSpace(string(output)), err)
	}

	s.logger.Debug("ffmpeg finished",
		logging.String("operation", op),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// classifyExecError maps external tool failures onto the stage taxonomy:
// exceeded budgets become ErrTimeout, non-zero exits become ErrToolFailure.
func classifyExecError(ctx context.Context, op, detail string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return services.Wrap(services.ErrTimeout, stageName, op, "execution budget exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return services.Wrap(services.ErrToolFailure, stageName, op, detail, err)
}
