package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Basic.MaxConcurrentTasks < 1 {
		return fmt.Errorf("basic.max_concurrent_tasks must be >= 1, got %d", cfg.Basic.MaxConcurrentTasks)
	}
	if cfg.Basic.MaxConcurrentTasks > 1000 {
		return fmt.Errorf("basic.max_concurrent_tasks must be <= 1000, got %d", cfg.Basic.MaxConcurrentTasks)
	}
	if cfg.Basic.MaxDepth < 0 {
		return fmt.Errorf("basic.max_depth must be >= 0, got %d", cfg.Basic.MaxDepth)
	}
	if cfg.Basic.MaxPages < 0 {
		return fmt.Errorf("basic.max_pages must be >= 0, got %d", cfg.Basic.MaxPages)
	}
	if cfg.Basic.TimeoutSeconds <= 0 {
		return fmt.Errorf("basic.timeout_seconds must be > 0")
	}
	if cfg.Basic.RequestDelay < 0 {
		return fmt.Errorf("basic.request_delay must be >= 0")
	}

	if cfg.Performance.MaxQueueSize <= 0 {
		return fmt.Errorf("performance.max_queue_size must be > 0")
	}
	if cfg.Performance.HighWatermark <= cfg.Performance.LowWatermark {
		return fmt.Errorf("performance.high_watermark (%d) must be > low_watermark (%d)",
			cfg.Performance.HighWatermark, cfg.Performance.LowWatermark)
	}
	if cfg.Performance.MinWorkers < 1 {
		return fmt.Errorf("performance.min_workers must be >= 1, got %d", cfg.Performance.MinWorkers)
	}
	if cfg.Performance.MaxWorkers < cfg.Performance.MinWorkers {
		return fmt.Errorf("performance.max_workers (%d) must be >= min_workers (%d)",
			cfg.Performance.MaxWorkers, cfg.Performance.MinWorkers)
	}

	if cfg.AntiBot.RetryPolicy.MaxRetries < 0 {
		return fmt.Errorf("antibot.retry_policy.max_retries must be >= 0, got %d", cfg.AntiBot.RetryPolicy.MaxRetries)
	}
	if cfg.AntiBot.RetryPolicy.BackoffMultiplier <= 0 {
		return fmt.Errorf("antibot.retry_policy.backoff_multiplier must be > 0")
	}

	for _, pattern := range cfg.Domains.BlockedPatterns {
		if pattern == "" {
			return fmt.Errorf("domains.blocked_patterns contains an empty pattern")
		}
	}

	validStorageTypes := map[string]bool{
		"json": true, "jsonl": true, "csv": true, "mongo": true, "multi": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: json, jsonl, csv, mongo, multi)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "mongo" && cfg.Storage.MongoURI == "" {
		return fmt.Errorf("storage.mongo_uri is required when storage.type is 'mongo'")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Monitoring.EnableMetrics {
		if cfg.Monitoring.Port < 1 || cfg.Monitoring.Port > 65535 {
			return fmt.Errorf("monitoring.port must be 1-65535, got %d", cfg.Monitoring.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is valid for crawling.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
