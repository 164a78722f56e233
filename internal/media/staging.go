package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lingopipe/internal/logging"
	"lingopipe/internal/services"
)

// WithLocalSource resolves a media locator to a local path for the duration
// of fn. Remote locators are downloaded into scratch storage and the copy is
// removed on every exit path, including panics and fn errors.
func (s *Service) WithLocalSource(ctx context.Context, locator string, fn func(localPath string) error) error {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return services.Wrap(services.ErrValidation, stageName, "stage source", "empty media locator", nil)
	}

	if !isRemote(locator) {
		if _, err := os.Stat(locator); err != nil {
			return services.Wrap(services.ErrInvalidMedia, stageName, "stage source", fmt.Sprintf("source %s unreadable", locator), err)
		}
		return fn(locator)
	}

	localPath, err := s.stageRemote(ctx, locator)
	if err != nil {
		return err
	}
	defer func() {
		if removeErr := os.Remove(localPath); removeErr != nil && !os.IsNotExist(removeErr) {
			s.logger.Warn("scratch copy not removed",
				logging.String("path", localPath),
				logging.Error(removeErr),
			)
		}
	}()
	return fn(localPath)
}

func isRemote(locator string) bool {
	parsed, err := url.Parse(locator)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func (s *Service) stageRemote(ctx context.Context, locator string) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.Media.StageTimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(stageCtx, http.MethodGet, locator, nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageName, "stage source", "bad locator", err)
	}

	started := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if stageCtx.Err() != nil {
			return "", services.Wrap(services.ErrTimeout, stageName, "stage source", "remote staging budget exceeded", err)
		}
		return "", services.Wrap(services.ErrRemote, stageName, "stage source", "fetch remote source", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", services.Wrap(services.ErrRemote, stageName, "stage source",
			fmt.Sprintf("remote source returned status %d", resp.StatusCode), nil)
	}

	if err := os.MkdirAll(s.cfg.Paths.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure scratch dir: %w", err)
	}
	localPath := filepath.Join(s.cfg.Paths.ScratchDir, "staged-"+uuid.NewString()+scratchExtension(locator))

	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create scratch copy: %w", err)
	}
	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(localPath)
		err := copyErr
		if err == nil {
			err = closeErr
		}
		if stageCtx.Err() != nil {
			return "", services.Wrap(services.ErrTimeout, stageName, "stage source", "remote staging budget exceeded", err)
		}
		return "", services.Wrap(services.ErrRemote, stageName, "stage source", "copy remote source to scratch", err)
	}

	s.logger.Debug("staged remote source",
		logging.String("locator", locator),
		logging.String("path", localPath),
		logging.Duration("elapsed", time.Since(started)),
	)
	return localPath, nil
}

func scratchExtension(locator string) string {
	parsed, err := url.Parse(locator)
	if err != nil {
		return ""
	}
	return path.Ext(parsed.Path)
}
