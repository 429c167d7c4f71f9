package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment on top of the
// defaults. Priority (highest to lowest): env vars > config file >
// defaults. CLI flag overrides are not read here; the caller applies
// them to the returned Config.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("crawler")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".crawlerframework"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper so unset keys still
// round-trip through Unmarshal with sane values.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("basic.max_concurrent_tasks", cfg.Basic.MaxConcurrentTasks)
	v.SetDefault("basic.max_depth", cfg.Basic.MaxDepth)
	v.SetDefault("basic.max_pages", cfg.Basic.MaxPages)
	v.SetDefault("basic.request_delay", cfg.Basic.RequestDelay)
	v.SetDefault("basic.timeout_seconds", cfg.Basic.TimeoutSeconds)
	v.SetDefault("basic.respect_robots_txt", cfg.Basic.RespectRobotsTxt)
	v.SetDefault("basic.follow_redirects", cfg.Basic.FollowRedirects)
	v.SetDefault("basic.enable_auto_stop", cfg.Basic.EnableAutoStop)
	v.SetDefault("basic.auto_stop_timeout", cfg.Basic.AutoStopTimeout)
	v.SetDefault("basic.user_agents", cfg.Basic.UserAgents)

	v.SetDefault("domains.allowed_domains", cfg.Domains.AllowedDomains)
	v.SetDefault("domains.blocked_patterns", cfg.Domains.BlockedPatterns)

	v.SetDefault("performance.memory_limit_mb", cfg.Performance.MemoryLimitMB)
	v.SetDefault("performance.max_queue_size", cfg.Performance.MaxQueueSize)
	v.SetDefault("performance.thread_adjust_interval", cfg.Performance.ThreadAdjustInterval)
	v.SetDefault("performance.high_watermark", cfg.Performance.HighWatermark)
	v.SetDefault("performance.low_watermark", cfg.Performance.LowWatermark)
	v.SetDefault("performance.max_workers", cfg.Performance.MaxWorkers)
	v.SetDefault("performance.min_workers", cfg.Performance.MinWorkers)

	v.SetDefault("antibot.enable_detection", cfg.AntiBot.EnableDetection)
	v.SetDefault("antibot.retry_policy.max_retries", cfg.AntiBot.RetryPolicy.MaxRetries)
	v.SetDefault("antibot.retry_policy.initial_delay", cfg.AntiBot.RetryPolicy.InitialDelay)
	v.SetDefault("antibot.retry_policy.backoff_multiplier", cfg.AntiBot.RetryPolicy.BackoffMultiplier)
	v.SetDefault("antibot.retry_policy.max_delay", cfg.AntiBot.RetryPolicy.MaxDelay)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.batch_size", cfg.Storage.BatchSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("monitoring.enable_metrics", cfg.Monitoring.EnableMetrics)
	v.SetDefault("monitoring.metrics_interval_seconds", cfg.Monitoring.MetricsIntervalSeconds)
	v.SetDefault("monitoring.port", cfg.Monitoring.Port)
	v.SetDefault("monitoring.path", cfg.Monitoring.Path)
}
