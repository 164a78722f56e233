package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lingopipe/internal/config"
	"lingopipe/internal/services"
	"lingopipe/internal/store"
)

func newTestClient(url string) *Client {
	return NewClient(config.Search{URL: url, Index: "transcript_sentences", TimeoutSeconds: 5})
}

func TestDocumentID(t *testing.T) {
	if got := DocumentID(42, 7); got != "42_7" {
		t.Fatalf("DocumentID = %q", got)
	}
}

func TestBulkIndexSendsNDJSON(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_bulk") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-ndjson" {
			t.Fatalf("unexpected content type %q", got)
		}
		captured, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{"errors": false})
	}))
	defer server.Close()

	documents := []Document{
		{VideoID: 3, SentenceIndex: 0, Text: "Hello there.", Title: "Greetings", Level: "B1", Language: "en"},
		{VideoID: 3, SentenceIndex: 1, Text: "Welcome back.", Title: "Greetings", Level: "B1", Language: "en"},
	}
	if err := newTestClient(server.URL).BulkIndex(context.Background(), documents); err != nil {
		t.Fatalf("BulkIndex: %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(captured))
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 4 {
		t.Fatalf("expected 4 NDJSON lines, got %d:\n%s", len(lines), captured)
	}

	var action struct {
		Index struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		} `json:"index"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &action); err != nil {
		t.Fatalf("decode action line: %v", err)
	}
	if action.Index.Index != "transcript_sentences" || action.Index.ID != "3_0" {
		t.Fatalf("unexpected action: %+v", action)
	}
}

func TestBulkIndexItemFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
  "errors": true,
  "items": [
    {"index": {"status": 201}},
    {"index": {"status": 400, "error": {"type": "mapper_parsing_exception", "reason": "bad field"}}}
  ]
}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).BulkIndex(context.Background(), []Document{{VideoID: 1}})
	if !errors.Is(err, services.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !strings.Contains(err.Error(), "mapper_parsing_exception") {
		t.Fatalf("expected failure detail in error, got %v", err)
	}
}

func TestBulkIndexEmptyIsNoop(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	if err := client.BulkIndex(context.Background(), nil); err != nil {
		t.Fatalf("expected no-op for empty batch, got %v", err)
	}
}

func TestDeleteByVideo(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/transcript_sentences/_delete_by_query") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"deleted": 12}`))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).DeleteByVideo(context.Background(), 42); err != nil {
		t.Fatalf("DeleteByVideo: %v", err)
	}
	if !strings.Contains(gotBody, `"video_id": 42`) {
		t.Fatalf("unexpected delete query: %s", gotBody)
	}
}

func TestDeleteByVideoMissingIndexIsNoop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index_not_found_exception", http.StatusNotFound)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).DeleteByVideo(context.Background(), 42); err != nil {
		t.Fatalf("expected missing index to be a no-op, got %v", err)
	}
}

func TestEnsureIndexAlreadyExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"type": "resource_already_exists_exception"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).EnsureIndex(context.Background()); err != nil {
		t.Fatalf("expected existing index to be a no-op, got %v", err)
	}
}

func TestBuildDocuments(t *testing.T) {
	video := &store.Video{ID: 9, Title: "Morning Routine", Level: store.LevelB1, Language: "en"}
	category := &store.Category{ID: 2, Name: "Daily Life"}
	sentences := []*store.Sentence{
		{VideoID: 9, SentenceIndex: 0, Text: "I wake up at six.", StartTime: 0, EndTime: 2},
	}

	documents := BuildDocuments(video, category, sentences)
	if len(documents) != 1 {
		t.Fatalf("expected 1 document, got %d", len(documents))
	}
	doc := documents[0]
	if doc.Title != "Morning Routine" || doc.Level != "B1" || doc.Category != "Daily Life" {
		t.Fatalf("unexpected document context: %+v", doc)
	}

	uncategorized := BuildDocuments(video, nil, sentences)
	if uncategorized[0].Category != "" {
		t.Fatalf("expected empty category, got %q", uncategorized[0].Category)
	}
}
