package testsupport

import (
	"context"
	"testing"

	"lingopipe/internal/config"
	"lingopipe/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewVideo creates a draft video for tests using the provided store.
func NewVideo(t testing.TB, st *store.Store, slug string) *store.Video {
	t.Helper()

	video, err := st.CreateVideo(context.Background(), &store.Video{
		Title:     slug,
		Slug:      slug,
		SourceURL: "/videos/" + slug + ".mp4",
		Level:     store.LevelB1,
		Language:  "en",
	})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	return video
}

// NewJob submits a processing job for a video, failing the test on error.
func NewJob(t testing.TB, st *store.Store, videoID int64) *store.ProcessingJob {
	t.Helper()

	job, err := st.CreateJob(context.Background(), videoID)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}
