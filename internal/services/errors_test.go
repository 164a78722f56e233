package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lingopipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrToolFailure, "extracting", "extract audio", "ffmpeg exited", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrToolFailure) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"extracting", "extract audio", "ffmpeg exited"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"invalid media", services.Wrap(services.ErrInvalidMedia, "extracting", "probe", "no video stream", nil), false},
		{"partial batch", services.Wrap(services.ErrPartialBatch, "translating", "batch", "misaligned", nil), false},
		{"validation", services.Wrap(services.ErrValidation, "chunking", "input", "empty transcript", nil), false},
		{"tool failure", services.Wrap(services.ErrToolFailure, "extracting", "ffmpeg", "exit 1", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "transcribing", "request", "deadline", nil), true},
		{"remote", services.Wrap(services.ErrRemote, "indexing", "bulk", "http 503", nil), true},
		{"unclassified", errors.New("socket closed"), true},
		{"canceled", context.Canceled, false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Retryable(tc.err); got != tc.retryable {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.retryable)
			}
		})
	}
}

func TestKindLabels(t *testing.T) {
	if kind := services.Kind(services.Wrap(services.ErrTimeout, "s", "op", "m", nil)); kind != "timeout" {
		t.Fatalf("expected timeout kind, got %q", kind)
	}
	if kind := services.Kind(errors.New("other")); kind != "unknown" {
		t.Fatalf("expected unknown kind, got %q", kind)
	}
	if kind := services.Kind(nil); kind != "" {
		t.Fatalf("expected empty kind for nil, got %q", kind)
	}
}

func TestContextAnnotations(t *testing.T) {
	ctx := services.WithVideoID(context.Background(), 42)
	ctx = services.WithJobID(ctx, 7)
	ctx = services.WithStage(ctx, "translating")
	ctx = services.WithRequestID(ctx, "req-1")

	if id, ok := services.VideoIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("video id = %d, %v", id, ok)
	}
	if id, ok := services.JobIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("job id = %d, %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "translating" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-1" {
		t.Fatalf("request id = %q, %v", rid, ok)
	}
	if _, ok := services.StageFromContext(context.Background()); ok {
		t.Fatal("expected missing stage on empty context")
	}
}
