// Package search maintains the transcript sentence index that powers
// full-text search over published videos.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lingopipe/internal/config"
	"lingopipe/internal/services"
	"lingopipe/internal/store"
)

const stageName = "index"

// Document is one searchable transcript sentence with its video context.
type Document struct {
	VideoID       int64   `json:"video_id"`
	SentenceIndex int     `json:"sentence_index"`
	Text          string  `json:"text"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	Title         string  `json:"title"`
	Level         string  `json:"level"`
	Language      string  `json:"language"`
	Category      string  `json:"category,omitempty"`
}

// DocumentID returns the deterministic identifier for a sentence document.
// Re-indexing a video overwrites its previous documents instead of
// accumulating duplicates.
func DocumentID(videoID int64, sentenceIndex int) string {
	return fmt.Sprintf("%d_%d", videoID, sentenceIndex)
}

// Client talks to an Elasticsearch-compatible search service.
type Client struct {
	cfg        config.Search
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a search client from config.
func NewClient(cfg config.Search, opts ...Option) *Client {
	timeout := time.Minute
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// EnsureIndex creates the sentence index if it does not exist yet. An index
// that already exists is not an error.
func (c *Client) EnsureIndex(ctx context.Context) error {
	mapping := `{
  "mappings": {
    "properties": {
      "video_id": {"type": "long"},
      "sentence_index": {"type": "integer"},
      "text": {"type": "text"},
      "start_time": {"type": "float"},
      "end_time": {"type": "float"},
      "title": {"type": "text"},
      "level": {"type": "keyword"},
      "language": {"type": "keyword"},
      "category": {"type": "keyword"}
    }
  }
}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.indexURL(""), strings.NewReader(mapping))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "ensure-index", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError("ensure-index", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte("resource_already_exists_exception")) {
		return nil
	}
	return services.Wrap(services.ErrRemote, stageName, "ensure-index",
		fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body)), nil)
}

// DeleteByVideo removes every document of a video from the index. A missing
// index counts as already deleted.
func (c *Client) DeleteByVideo(ctx context.Context, videoID int64) error {
	query := fmt.Sprintf(`{"query": {"term": {"video_id": %d}}}`, videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.indexURL("/_delete_by_query?refresh=true"), strings.NewReader(query))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "delete", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError("delete", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return services.Wrap(services.ErrRemote, stageName, "delete",
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body)), nil)
	}
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkIndex writes the documents through the bulk API. Any per-item failure
// fails the whole call; the caller re-runs the stage rather than patching
// holes in the index.
func (c *Client) BulkIndex(ctx context.Context, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}

	var payload bytes.Buffer
	encoder := json.NewEncoder(&payload)
	for _, doc := range documents {
		action := map[string]map[string]string{
			"index": {
				"_index": c.cfg.Index,
				"_id":    DocumentID(doc.VideoID, doc.SentenceIndex),
			},
		}
		if err := encoder.Encode(action); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("encode bulk document: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.URL, "/")+"/_bulk?refresh=true", &payload)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, stageName, "bulk", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError("bulk", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return services.Wrap(services.ErrRemote, stageName, "bulk", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrRemote, stageName, "bulk",
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body)), nil)
	}

	var decoded bulkResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return services.Wrap(services.ErrRemote, stageName, "bulk", "malformed response", err)
	}
	if decoded.Errors {
		return services.Wrap(services.ErrRemote, stageName, "bulk", firstBulkFailure(decoded), nil)
	}
	return nil
}

func firstBulkFailure(resp bulkResponse) string {
	for _, item := range resp.Items {
		for _, result := range item {
			if result.Error != nil {
				return fmt.Sprintf("bulk item failed with status %d: %s: %s",
					result.Status, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return "bulk request reported item failures"
}

// Ping checks service reachability for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, strings.TrimRight(c.cfg.URL, "/")+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search service returned status %d", resp.StatusCode)
	}
	return nil
}

// BuildDocuments converts sentence rows into index documents carrying the
// video context search results are filtered on.
func BuildDocuments(video *store.Video, category *store.Category, sentences []*store.Sentence) []Document {
	documents := make([]Document, 0, len(sentences))
	categoryName := ""
	if category != nil {
		categoryName = category.Name
	}
	for _, sentence := range sentences {
		documents = append(documents, Document{
			VideoID:       video.ID,
			SentenceIndex: sentence.SentenceIndex,
			Text:          sentence.Text,
			StartTime:     sentence.StartTime,
			EndTime:       sentence.EndTime,
			Title:         video.Title,
			Level:         string(video.Level),
			Language:      video.Language,
			Category:      categoryName,
		})
	}
	return documents
}

func (c *Client) indexURL(suffix string) string {
	return strings.TrimRight(c.cfg.URL, "/") + "/" + c.cfg.Index + suffix
}

func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTimeout(err) {
		return services.Wrap(services.ErrTimeout, stageName, op, "request timed out", err)
	}
	return services.Wrap(services.ErrRemote, stageName, op, "request failed", err)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func truncate(body []byte) string {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return detail
}
