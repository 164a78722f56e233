// Package transcribe calls the WhisperX speech-to-text service and validates
// its word-level output.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lingopipe/internal/config"
	"lingopipe/internal/services"
)

const stageName = "transcribe"

// Word is one token of the transcript with its timing and confidence.
type Word struct {
	Text       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Transcript is the persisted output of the transcribing stage.
type Transcript struct {
	Language string `json:"language"`
	Model    string `json:"model"`
	Words    []Word `json:"words"`
}

// Client talks to the WhisperX HTTP service.
type Client struct {
	cfg        config.Transcriber
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

// NewClient constructs a transcription client from config.
func NewClient(cfg config.Transcriber, opts ...Option) *Client {
	timeout := 30 * time.Minute
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

type transcribeResponse struct {
	Language string `json:"language"`
	Words    []Word `json:"words"`
	Error    string `json:"error"`
}

// Transcribe uploads the audio artifact and returns the validated word
// sequence. Empty transcripts are fatal; garbled responses and service
// errors map to the retryable taxonomy.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) ([]Word, error) {
	if strings.TrimSpace(audioPath) == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "transcribe", "audio path is required", nil)
	}

	body, contentType, err := c.buildRequestBody(audioPath, language)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/transcribe", body)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "transcribe", "build request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if isTimeout(err) {
			return nil, services.Wrap(services.ErrTimeout, stageName, "transcribe", "request timed out", err)
		}
		return nil, services.Wrap(services.ErrRemote, stageName, "transcribe", "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrRemote, stageName, "transcribe", "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, payload)
	}

	var decoded transcribeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, services.Wrap(services.ErrRemote, stageName, "transcribe", "malformed response", err)
	}
	if decoded.Error != "" {
		return nil, services.Wrap(services.ErrRemote, stageName, "transcribe", decoded.Error, nil)
	}

	if err := ValidateWords(decoded.Words); err != nil {
		return nil, err
	}
	return decoded.Words, nil
}

func (c *Client) buildRequestBody(audioPath, language string) (*bytes.Buffer, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, stageName, "transcribe",
			fmt.Sprintf("audio artifact %s unreadable", audioPath), err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("copy audio into request: %w", err)
	}
	if err := writer.WriteField("language", language); err != nil {
		return nil, "", fmt.Errorf("write language field: %w", err)
	}
	if model := strings.TrimSpace(c.cfg.Model); model != "" {
		if err := writer.WriteField("model", model); err != nil {
			return nil, "", fmt.Errorf("write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// ValidateWords rejects empty transcripts and non-monotonic timestamp
// sequences. An empty transcript means the media carries no usable speech
// and is fatal; a garbled sequence is a service fault worth retrying.
func ValidateWords(words []Word) error {
	if len(words) == 0 {
		return services.Wrap(services.ErrInvalidMedia, stageName, "validate", "empty transcript", nil)
	}
	previousEnd := 0.0
	for i, word := range words {
		if strings.TrimSpace(word.Text) == "" {
			return services.Wrap(services.ErrRemote, stageName, "validate",
				fmt.Sprintf("blank word at index %d", i), nil)
		}
		if word.End < word.Start || word.Start < 0 {
			return services.Wrap(services.ErrRemote, stageName, "validate",
				fmt.Sprintf("invalid timing at index %d", i), nil)
		}
		if word.Start < previousEnd {
			return services.Wrap(services.ErrRemote, stageName, "validate",
				fmt.Sprintf("non-monotonic timestamps at index %d", i), nil)
		}
		previousEnd = word.End
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
		return fmt.Errorf("transcriber health returned status %d", resp.StatusCode)
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
	case status == http.StatusBadRequest, status == http.StatusUnsupportedMediaType, status == http.StatusUnprocessableEntity:
		return services.Wrap(services.ErrInvalidMedia, stageName, "transcribe", message, nil)
	case status == http.StatusRequestTimeout:
		return services.Wrap(services.ErrTimeout, stageName, "transcribe", message, nil)
	default:
		return services.Wrap(services.ErrRemote, stageName, "transcribe", message, nil)
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// SaveTranscript writes the transcript artifact the chunking stage consumes.
func SaveTranscript(path string, transcript Transcript) error {
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure transcript dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// LoadTranscript reads a transcript artifact produced by SaveTranscript.
func LoadTranscript(path string) (Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Transcript{}, fmt.Errorf("read transcript: %w", err)
	}
	var transcript Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return Transcript{}, fmt.Errorf("decode transcript: %w", err)
	}
	return transcript, nil
}
