// Package translate calls the batch translation service and enforces strict
// alignment between source sentences and translated output.
package translate

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
)

const stageName = "translate"

const defaultBatchSize = 50

// Client talks to the translation HTTP service.
type Client struct {
	cfg        config.Translator
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

// NewClient constructs a translation client from config.
func NewClient(cfg config.Translator, opts ...Option) *Client {
	timeout := 5 * time.Minute
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
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

type translateRequest struct {
	Sentences       []string `json:"sentences"`
	SourceLanguage  string   `json:"source_language"`
	TargetLanguages []string `json:"target_languages"`
}

type translateResponse struct {
	Translations []map[string]string `json:"translations"`
	Error        string              `json:"error"`
}

// Translate sends the sentences through the service in batches and returns
// one language-to-text map per input sentence, in input order. A response
// that is misaligned with its batch, or that is missing any target language,
// fails the whole call with ErrPartialBatch so nothing partial is committed.
func (c *Client) Translate(ctx context.Context, sentences []string, sourceLanguage string) ([]map[string]string, error) {
	if len(sentences) == 0 {
		return nil, services.Wrap(services.ErrValidation, stageName, "translate", "no sentences to translate", nil)
	}
	if len(c.cfg.TargetLanguages) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "translate", "no target languages configured", nil)
	}

	results := make([]map[string]string, 0, len(sentences))
	for offset := 0; offset < len(sentences); offset += c.cfg.BatchSize {
		end := min(offset+c.cfg.BatchSize, len(sentences))
		batch, err := c.translateBatch(ctx, sentences[offset:end], sourceLanguage)
		if err != nil {
			return nil, fmt.Errorf("batch starting at sentence %d: %w", offset, err)
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (c *Client) translateBatch(ctx context.Context, batch []string, sourceLanguage string) ([]map[string]string, error) {
	payload, err := json.Marshal(translateRequest{
		Sentences:       batch,
		SourceLanguage:  sourceLanguage,
		TargetLanguages: c.cfg.TargetLanguages,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "translate", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if isTimeout(err) {
			return nil, services.Wrap(services.ErrTimeout, stageName, "translate", "request timed out", err)
		}
		return nil, services.Wrap(services.ErrRemote, stageName, "translate", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrRemote, stageName, "translate", "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var decoded translateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, services.Wrap(services.ErrRemote, stageName, "translate", "malformed response", err)
	}
	if decoded.Error != "" {
		return nil, services.Wrap(services.ErrRemote, stageName, "translate", decoded.Error, nil)
	}

	if err := c.validateAlignment(batch, decoded.Translations); err != nil {
		return nil, err
	}
	return decoded.Translations, nil
}

// validateAlignment checks the 1:1 contract: one translation entry per input
// sentence, each covering every configured target language.
func (c *Client) validateAlignment(batch []string, translations []map[string]string) error {
	if len(translations) != len(batch) {
		return services.Wrap(services.ErrPartialBatch, stageName, "translate",
			fmt.Sprintf("sent %d sentences, received %d translations", len(batch), len(translations)), nil)
	}
	for i, entry := range translations {
		for _, language := range c.cfg.TargetLanguages {
			if strings.TrimSpace(entry[language]) == "" {
				return services.Wrap(services.ErrPartialBatch, stageName, "translate",
					fmt.Sprintf("sentence %d is missing language %q", i, language), nil)
			}
		}
	}
	return nil
}

// Ping checks service reachability for health reporting.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("translator health returned status %d", resp.StatusCode)
	}
	return nil
}

func classifyStatus(status int, payload []byte) error {
	detail := strings.TrimSpace(string(payload))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	message := fmt.Sprintf("status %d: %s", status, detail)
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, stageName, "translate", message, nil)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return services.Wrap(services.ErrValidation, stageName, "translate", message, nil)
	case status == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTimeout, stageName, "translate", message, nil)
	default:
		return services.Wrap(services.ErrRemote, stageName, "translate", message, nil)
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
