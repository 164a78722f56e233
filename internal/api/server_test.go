package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lingopipe/internal/api"
	"lingopipe/internal/logging"
	"lingopipe/internal/store"
	"lingopipe/internal/testsupport"
	"lingopipe/internal/workflow"
)

type env struct {
	store   *store.Store
	manager *workflow.Manager
	server  *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	manager := workflow.NewManager(cfg, st, logging.NewNop())
	server := httptest.NewServer(api.NewServer(cfg, st, manager, logging.NewNop()).Handler())
	t.Cleanup(server.Close)
	return &env{store: st, manager: manager, server: server}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestProcessVideoQueuesJob(t *testing.T) {
	e := newEnv(t)
	video := testsupport.NewVideo(t, e.store, "api-process")

	resp, err := http.Post(e.server.URL+"/api/videos/1/process", "", nil)
	if err != nil {
		t.Fatalf("POST process: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	view := decode[api.JobView](t, resp)
	if view.VideoID != video.ID || view.Stage != string(store.StageQueued) {
		t.Fatalf("unexpected job view: %+v", view)
	}
	if view.CorrelationID == "" {
		t.Fatal("expected correlation id")
	}
}

func TestProcessVideoConflictsOnActiveJob(t *testing.T) {
	e := newEnv(t)
	testsupport.NewVideo(t, e.store, "api-conflict")

	first, err := http.Post(e.server.URL+"/api/videos/1/process", "", nil)
	if err != nil {
		t.Fatalf("first POST: %v", err)
	}
	first.Body.Close()

	second, err := http.Post(e.server.URL+"/api/videos/1/process", "", nil)
	if err != nil {
		t.Fatalf("second POST: %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.StatusCode)
	}
}

func TestProcessUnknownVideoReturnsNotFound(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Post(e.server.URL+"/api/videos/999/process", "", nil)
	if err != nil {
		t.Fatalf("POST process: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelJob(t *testing.T) {
	e := newEnv(t)
	video := testsupport.NewVideo(t, e.store, "api-cancel")
	job, err := e.manager.Submit(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	resp, err := http.Post(e.server.URL+"/api/jobs/1/cancel", "", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[map[string]bool](t, resp)
	if !body["cancelled"] {
		t.Fatal("expected cancelled=true")
	}

	final, err := e.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !final.Cancelled() {
		t.Fatalf("expected cancelled job, got %+v", final)
	}
}

func TestListJobsFiltersByStage(t *testing.T) {
	e := newEnv(t)
	video := testsupport.NewVideo(t, e.store, "api-list")
	if _, err := e.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	resp, err := http.Get(e.server.URL + "/api/jobs?stage=queued")
	if err != nil {
		t.Fatalf("GET jobs: %v", err)
	}
	body := decode[map[string][]api.JobView](t, resp)
	if len(body["jobs"]) != 1 {
		t.Fatalf("expected one queued job, got %+v", body)
	}

	empty, err := http.Get(e.server.URL + "/api/jobs?stage=done")
	if err != nil {
		t.Fatalf("GET done jobs: %v", err)
	}
	emptyBody := decode[map[string][]api.JobView](t, empty)
	if len(emptyBody["jobs"]) != 0 {
		t.Fatalf("expected no done jobs, got %+v", emptyBody)
	}

	bad, err := http.Get(e.server.URL + "/api/jobs?stage=nonsense")
	if err != nil {
		t.Fatalf("GET bad stage: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d", bad.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	e := newEnv(t)
	video := testsupport.NewVideo(t, e.store, "api-status")
	if _, err := e.manager.Submit(context.Background(), video.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	resp, err := http.Get(e.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	status := decode[workflow.QueueStatus](t, resp)
	if status.Stats[store.StageQueued] != 1 {
		t.Fatalf("expected one queued job in stats, got %+v", status.Stats)
	}
	if len(status.Active) != 1 {
		t.Fatalf("expected one active job, got %d", len(status.Active))
	}
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.server.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if ready, ok := body["ready"].(bool); !ok || !ready {
		t.Fatalf("expected ready=true, got %+v", body)
	}
}
