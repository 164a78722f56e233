package subtitles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"lingopipe/internal/config"
	"lingopipe/internal/logging"
	"lingopipe/internal/services"
	"lingopipe/internal/stage"
	"lingopipe/internal/store"
)

const stageName = "emit"

// Stage integrates subtitle emission with the workflow manager. It writes one
// SRT file per language under the subtitle directory and replaces the video's
// caption rows, with the source language marked as the default track.
type Stage struct {
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger
}

// NewStage constructs the emitting stage.
func NewStage(st *store.Store, cfg *config.Config, logger *slog.Logger) *Stage {
	return &Stage{
		store:  st,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "emit-stage"),
	}
}

// Prepare ensures the video's subtitle directory exists.
func (s *Stage) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	if s == nil || s.cfg == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "prepare", "emit stage is not configured", nil)
	}
	if job == nil {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "job is nil", nil)
	}
	if err := os.MkdirAll(s.videoDir(job.VideoID), 0o755); err != nil {
		return fmt.Errorf("ensure subtitle dir: %w", err)
	}
	return nil
}

// Execute renders the SRT file for the source language and every target
// language, then registers the tracks on the video.
func (s *Stage) Execute(ctx context.Context, job *store.ProcessingJob) error {
	stageStart := time.Now()
	if s == nil || s.cfg == nil || s.store == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "execute", "emit stage is not configured", nil)
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
		return services.Wrap(services.ErrValidation, stageName, "execute", "no sentences to emit", nil)
	}

	tracks := []*store.Subtitle{}
	emit := func(code string, cues []Cue, isDefault bool) error {
		path := filepath.Join(s.videoDir(job.VideoID), code+".srt")
		if err := os.WriteFile(path, []byte(RenderSRT(cues)), 0o644); err != nil {
			return fmt.Errorf("write %s subtitles: %w", code, err)
		}
		tracks = append(tracks, &store.Subtitle{
			VideoID:      job.VideoID,
			Language:     code,
			LanguageName: LanguageName(code),
			StorageKey:   fmt.Sprintf("subtitles/%d/%s.srt", job.VideoID, code),
			IsDefault:    isDefault,
			Source:       store.SubtitleSourceAIGenerated,
		})
		return nil
	}

	sourceCues := make([]Cue, 0, len(sentences))
	for _, sentence := range sentences {
		sourceCues = append(sourceCues, Cue{
			Index: sentence.SentenceIndex,
			Start: sentence.StartTime,
			End:   sentence.EndTime,
			Text:  sentence.Text,
		})
	}
	if err := emit(video.Language, sourceCues, true); err != nil {
		return err
	}

	for _, code := range s.cfg.Translator.TargetLanguages {
		cues, err := translatedCues(sentences, code)
		if err != nil {
			return err
		}
		if err := emit(code, cues, false); err != nil {
			return err
		}
	}

	if err := s.store.ReplaceSubtitles(ctx, job.VideoID, tracks); err != nil {
		return fmt.Errorf("register subtitle tracks: %w", err)
	}

	logging.WithContext(ctx, s.logger).Info("subtitles emitted",
		logging.Int("tracks", len(tracks)),
		logging.Int("cues", len(sentences)),
		logging.Duration("elapsed", time.Since(stageStart)),
	)
	return nil
}

// translatedCues builds the cue list for one target language. Every sentence
// must carry a translation for the language; a gap means the translating
// stage never completed for this video.
func translatedCues(sentences []*store.Sentence, code string) ([]Cue, error) {
	cues := make([]Cue, 0, len(sentences))
	for _, sentence := range sentences {
		if sentence.TranslationsJSON == "" {
			return nil, services.Wrap(services.ErrValidation, stageName, "execute",
				fmt.Sprintf("sentence %d has no translations", sentence.SentenceIndex), nil)
		}
		var translations map[string]string
		if err := json.Unmarshal([]byte(sentence.TranslationsJSON), &translations); err != nil {
			return nil, services.Wrap(services.ErrValidation, stageName, "execute",
				fmt.Sprintf("sentence %d has malformed translations", sentence.SentenceIndex), err)
		}
		text, ok := translations[code]
		if !ok || text == "" {
			return nil, services.Wrap(services.ErrValidation, stageName, "execute",
				fmt.Sprintf("sentence %d is missing language %q", sentence.SentenceIndex, code), nil)
		}
		cues = append(cues, Cue{
			Index: sentence.SentenceIndex,
			Start: sentence.StartTime,
			End:   sentence.EndTime,
			Text:  text,
		})
	}
	return cues, nil
}

// HealthCheck verifies the subtitle directory is writable.
func (s *Stage) HealthCheck(ctx context.Context) stage.Health {
	if s == nil || s.cfg == nil {
		return stage.Unhealthy(stageName, "emit stage is not configured")
	}
	probe := filepath.Join(s.cfg.Paths.SubtitleDir, ".writecheck")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("subtitle dir not writable: %v", err))
	}
	_ = os.Remove(probe)
	return stage.Healthy(stageName)
}

func (s *Stage) videoDir(videoID int64) string {
	return filepath.Join(s.cfg.Paths.SubtitleDir, strconv.FormatInt(videoID, 10))
}
