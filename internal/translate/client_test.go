package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"lingopipe/internal/config"
	"lingopipe/internal/services"
)

func newTestClient(url string, batchSize int, languages ...string) *Client {
	if len(languages) == 0 {
		languages = []string{"vi", "ja"}
	}
	return NewClient(config.Translator{
		URL:             url,
		APIKey:          "test-key",
		BatchSize:       batchSize,
		TargetLanguages: languages,
		TimeoutSeconds:  5,
	})
}

func echoTranslations(languages ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		translations := make([]map[string]string, 0, len(req.Sentences))
		for _, sentence := range req.Sentences {
			entry := make(map[string]string, len(languages))
			for _, language := range languages {
				entry[language] = fmt.Sprintf("[%s] %s", language, sentence)
			}
			translations = append(translations, entry)
		}
		_ = json.NewEncoder(w).Encode(translateResponse{Translations: translations})
	}
}

func TestTranslateReturnsAlignedResults(t *testing.T) {
	var gotAuth string
	var gotLanguages []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguages = req.TargetLanguages
		translations := make([]map[string]string, 0, len(req.Sentences))
		for _, sentence := range req.Sentences {
			translations = append(translations, map[string]string{
				"vi": "vi: " + sentence,
				"ja": "ja: " + sentence,
			})
		}
		_ = json.NewEncoder(w).Encode(translateResponse{Translations: translations})
	}))
	defer server.Close()

	results, err := newTestClient(server.URL, 50).Translate(context.Background(), []string{"Hello.", "Goodbye."}, "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1]["ja"] != "ja: Goodbye." {
		t.Fatalf("unexpected translation: %q", results[1]["ja"])
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if len(gotLanguages) != 2 {
		t.Fatalf("expected target languages in request, got %v", gotLanguages)
	}
}

func TestTranslateSplitsIntoBatches(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		batchSizes = append(batchSizes, len(req.Sentences))
		translations := make([]map[string]string, 0, len(req.Sentences))
		for _, sentence := range req.Sentences {
			translations = append(translations, map[string]string{"vi": "vi: " + sentence, "ja": "ja: " + sentence})
		}
		_ = json.NewEncoder(w).Encode(translateResponse{Translations: translations})
	}))
	defer server.Close()

	sentences := make([]string, 7)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("sentence %d", i)
	}
	results, err := newTestClient(server.URL, 3).Translate(context.Background(), sentences, "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	want := []int{3, 3, 1}
	if len(batchSizes) != len(want) {
		t.Fatalf("expected %d batches, got %v", len(want), batchSizes)
	}
	for i, size := range want {
		if batchSizes[i] != size {
			t.Fatalf("expected batch sizes %v, got %v", want, batchSizes)
		}
	}
}

func TestTranslateMisalignedBatchIsPartialBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(translateResponse{
			Translations: []map[string]string{{"vi": "only one", "ja": "entry"}},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 50).Translate(context.Background(), []string{"one", "two"}, "en")
	if !errors.Is(err, services.ErrPartialBatch) {
		t.Fatalf("expected ErrPartialBatch, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("misaligned batch must not be retryable")
	}
}

func TestTranslateMissingLanguageIsPartialBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(translateResponse{
			Translations: []map[string]string{{"vi": "xin chào"}},
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 50).Translate(context.Background(), []string{"hello"}, "en")
	if !errors.Is(err, services.ErrPartialBatch) {
		t.Fatalf("expected ErrPartialBatch, got %v", err)
	}
}

func TestTranslateServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 50).Translate(context.Background(), []string{"hello"}, "en")
	if !errors.Is(err, services.ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatal("server error should be retryable")
	}
}

func TestTranslateRejectedKeyIsConfiguration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 50).Translate(context.Background(), []string{"hello"}, "en")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestTranslateFailedBatchAbortsRun(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		echoTranslations("vi", "ja")(w, r)
	}))
	defer server.Close()

	sentences := []string{"a", "b", "c", "d"}
	_, err := newTestClient(server.URL, 2).Translate(context.Background(), sentences, "en")
	if err == nil {
		t.Fatal("expected error from failing batch")
	}
	if calls != 2 {
		t.Fatalf("expected translation to stop after the failed batch, got %d calls", calls)
	}
}
