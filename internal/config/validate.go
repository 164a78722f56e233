package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateChunker(); err != nil {
		return err
	}
	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServices() error {
	if strings.TrimSpace(c.Transcriber.URL) == "" {
		return errors.New("transcriber.url must be set")
	}
	if strings.TrimSpace(c.Translator.URL) == "" {
		return errors.New("translator.url must be set")
	}
	if len(c.Translator.TargetLanguages) == 0 {
		return errors.New("translator.target_languages must not be empty")
	}
	if strings.TrimSpace(c.Search.URL) == "" {
		return errors.New("search.url must be set")
	}
	return nil
}

func (c *Config) validateChunker() error {
	if c.Chunker.MaxWords <= 0 {
		return errors.New("chunker.max_words must be positive")
	}
	if c.Chunker.MaxSeconds <= 0 {
		return errors.New("chunker.max_seconds must be positive")
	}
	if c.Chunker.SilenceGapSecs <= 0 {
		return errors.New("chunker.silence_gap_seconds must be positive")
	}
	return nil
}

func (c *Config) validateMedia() error {
	return ensurePositiveMap(map[string]int{
		"media.probe_timeout_seconds":   c.Media.ProbeTimeoutSeconds,
		"media.extract_timeout_seconds": c.Media.ExtractTimeoutSeconds,
		"media.stage_timeout_seconds":   c.Media.StageTimeoutSeconds,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.workers":              c.Workflow.Workers,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.stage_max_attempts":   c.Workflow.StageMaxAttempts,
		"workflow.retry_base_seconds":   c.Workflow.RetryBaseSeconds,
		"workflow.retry_max_seconds":    c.Workflow.RetryMaxSeconds,
		"workflow.scratch_sweep_hours":  c.Workflow.ScratchSweepHours,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.LeaseTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.lease_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.RetryMaxSeconds < c.Workflow.RetryBaseSeconds {
		return errors.New("workflow.retry_max_seconds must be at least workflow.retry_base_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
