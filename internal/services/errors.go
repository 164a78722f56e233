package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for stage error classification. Adapters tag failures with
// exactly one marker via Wrap; the workflow manager is the only component that
// turns a marker into a retry-or-fail decision.
var (
	// ErrInvalidMedia marks malformed input: corrupt containers, missing
	// streams, empty transcripts. Never retried.
	ErrInvalidMedia = errors.New("invalid media")
	// ErrToolFailure marks a non-zero exit from an external tool.
	ErrToolFailure = errors.New("tool failure")
	// ErrTimeout marks an exceeded execution budget.
	ErrTimeout = errors.New("timeout")
	// ErrRemote marks a failed call to a remote service.
	ErrRemote = errors.New("remote service error")
	// ErrPartialBatch marks a translation or index batch that came back
	// misaligned. Fatal for the stage: nothing downstream may publish from it.
	ErrPartialBatch = errors.New("partial batch failure")
	// ErrValidation marks invalid stage input or state.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or unusable configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrRemote
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error is worth another attempt.
// Malformed input, misaligned batches, and bad configuration never recover on
// retry; tool exits, timeouts, and remote-service hiccups may.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrInvalidMedia),
		errors.Is(err, ErrPartialBatch),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration):
		return false
	case errors.Is(err, ErrToolFailure),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRemote):
		return true
	default:
		// Unclassified errors are treated as transient so a flaky dependency
		// does not permanently fail a job on its first hiccup.
		return true
	}
}

// Kind returns the short classification label for an error, used in logs and
// persisted on failed jobs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidMedia):
		return "invalid_media"
	case errors.Is(err, ErrToolFailure):
		return "tool_failure"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrPartialBatch):
		return "partial_batch"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrRemote):
		return "remote"
	default:
		return "unknown"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
