package config

import (
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero concurrency", func(c *Config) { c.Basic.MaxConcurrentTasks = 0 }, "max_concurrent_tasks"},
		{"negative depth", func(c *Config) { c.Basic.MaxDepth = -1 }, "max_depth"},
		{"inverted watermarks", func(c *Config) { c.Performance.HighWatermark = 5; c.Performance.LowWatermark = 10 }, "high_watermark"},
		{"workers inverted", func(c *Config) { c.Performance.MaxWorkers = 1; c.Performance.MinWorkers = 4 }, "max_workers"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "carrier-pigeon" }, "storage.type"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("https://a.test/x"); err != nil {
		t.Fatalf("expected valid URL, got %v", err)
	}
	if err := ValidateURL("ftp://a.test/x"); err == nil {
		t.Fatalf("expected non-http scheme to be rejected")
	}
	if err := ValidateURL("https://"); err == nil {
		t.Fatalf("expected missing host to be rejected")
	}
}
