package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration consumed by the crawl engine. It is
// loaded once, validated, and handed to engine.New as an immutable
// snapshot; nothing downstream watches or reloads it.
type Config struct {
	Basic       BasicConfig       `mapstructure:"basic"       yaml:"basic"`
	Domains     DomainsConfig     `mapstructure:"domains"     yaml:"domains"`
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance"`
	AntiBot     AntiBotConfig     `mapstructure:"antibot"     yaml:"antibot"`
	Parser      ParserConfig      `mapstructure:"parser"      yaml:"parser"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"    yaml:"pipeline"`
	Storage     StorageConfig     `mapstructure:"storage"     yaml:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"  yaml:"monitoring"`
}

// BasicConfig holds the core crawl parameters.
type BasicConfig struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	MaxDepth           int           `mapstructure:"max_depth"            yaml:"max_depth"`
	MaxPages           int           `mapstructure:"max_pages"            yaml:"max_pages"`
	RequestDelay       time.Duration `mapstructure:"request_delay"        yaml:"request_delay"`
	TimeoutSeconds     time.Duration `mapstructure:"timeout_seconds"      yaml:"timeout_seconds"`
	RespectRobotsTxt   bool          `mapstructure:"respect_robots_txt"   yaml:"respect_robots_txt"`
	FollowRedirects    bool          `mapstructure:"follow_redirects"     yaml:"follow_redirects"`
	EnableAutoStop     bool          `mapstructure:"enable_auto_stop"     yaml:"enable_auto_stop"`
	AutoStopTimeout    time.Duration `mapstructure:"auto_stop_timeout"    yaml:"auto_stop_timeout"`
	UserAgents         []string      `mapstructure:"user_agents"          yaml:"user_agents"`
}

// DomainsConfig restricts which hosts and URL shapes are admitted.
type DomainsConfig struct {
	AllowedDomains  []string `mapstructure:"allowed_domains"  yaml:"allowed_domains"`
	BlockedPatterns []string `mapstructure:"blocked_patterns" yaml:"blocked_patterns"`
}

// PerformanceConfig bounds resource usage and the auto-scaler.
type PerformanceConfig struct {
	MemoryLimitMB        int           `mapstructure:"memory_limit_mb"        yaml:"memory_limit_mb"`
	MaxQueueSize         int           `mapstructure:"max_queue_size"         yaml:"max_queue_size"`
	ThreadAdjustInterval time.Duration `mapstructure:"thread_adjust_interval" yaml:"thread_adjust_interval"`
	HighWatermark        int           `mapstructure:"high_watermark"         yaml:"high_watermark"`
	LowWatermark         int           `mapstructure:"low_watermark"          yaml:"low_watermark"`
	MaxWorkers           int           `mapstructure:"max_workers"            yaml:"max_workers"`
	MinWorkers           int           `mapstructure:"min_workers"            yaml:"min_workers"`
}

// AntiBotConfig controls the anti-bot gate and retry base parameters.
type AntiBotConfig struct {
	EnableDetection bool              `mapstructure:"enable_detection" yaml:"enable_detection"`
	RetryPolicy     RetryPolicyConfig `mapstructure:"retry_policy"     yaml:"retry_policy"`
}

// RetryPolicyConfig supplies the base retry/backoff parameters the
// circuit breaker scales per-domain and per-error-kind.
type RetryPolicyConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"        yaml:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"      yaml:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"          yaml:"max_delay"`
}

// ParserConfig controls extraction rule evaluation.
type ParserConfig struct {
	AutoDetect bool        `mapstructure:"auto_detect" yaml:"auto_detect"`
	Rules      []ParseRule `mapstructure:"rules"       yaml:"rules"`
}

// ParseRule defines a single generic extraction rule; it carries no
// domain-specific field mapping, only a selector evaluation strategy.
type ParseRule struct {
	Name      string `mapstructure:"name"      yaml:"name"`
	Selector  string `mapstructure:"selector"  yaml:"selector"`
	Type      string `mapstructure:"type"      yaml:"type"` // css (or empty) or xpath; other types are not evaluated
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
	Pattern   string `mapstructure:"pattern"   yaml:"pattern"`
}

// PipelineConfig holds pipeline middleware definitions. They are
// loaded into the snapshot; the per-stage step dispatcher does not
// read them.
type PipelineConfig struct {
	Middlewares []MiddlewareConfig `mapstructure:"middlewares" yaml:"middlewares"`
}

// MiddlewareConfig defines a single pipeline middleware.
type MiddlewareConfig struct {
	Name    string         `mapstructure:"name"    yaml:"name"`
	Type    string         `mapstructure:"type"    yaml:"type"`
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

// StorageConfig controls output/storage.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"`
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	BatchSize  int    `mapstructure:"batch_size"  yaml:"batch_size"`
	MongoURI   string `mapstructure:"mongo_uri"   yaml:"mongo_uri"`
	MongoDB    string `mapstructure:"mongo_db"    yaml:"mongo_db"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MonitoringConfig controls the metrics surface.
type MonitoringConfig struct {
	EnableMetrics          bool   `mapstructure:"enable_metrics"           yaml:"enable_metrics"`
	MetricsIntervalSeconds int    `mapstructure:"metrics_interval_seconds" yaml:"metrics_interval_seconds"`
	Port                   int    `mapstructure:"port"                     yaml:"port"`
	Path                   string `mapstructure:"path"                     yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring the
// watermarks, auto-stop timeout, and retry-policy base values named
// throughout the component design.
func DefaultConfig() *Config {
	return &Config{
		Basic: BasicConfig{
			MaxConcurrentTasks: 10,
			MaxDepth:           5,
			MaxPages:           0, // 0 = unlimited
			RequestDelay:       1 * time.Second,
			TimeoutSeconds:     30 * time.Second,
			RespectRobotsTxt:   true,
			FollowRedirects:    true,
			EnableAutoStop:     true,
			AutoStopTimeout:    30 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Performance: PerformanceConfig{
			MemoryLimitMB:        0,
			MaxQueueSize:         100000,
			ThreadAdjustInterval: 5 * time.Second,
			HighWatermark:        50,
			LowWatermark:         10,
			MaxWorkers:           40,
			MinWorkers:           1,
		},
		AntiBot: AntiBotConfig{
			EnableDetection: true,
			RetryPolicy: RetryPolicyConfig{
				MaxRetries:        3,
				InitialDelay:      1 * time.Second,
				BackoffMultiplier: 2.0,
				MaxDelay:          60 * time.Second,
			},
		},
		Parser: ParserConfig{
			AutoDetect: true,
		},
		Storage: StorageConfig{
			Type:       "json",
			OutputPath: "./output",
			BatchSize:  100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Monitoring: MonitoringConfig{
			EnableMetrics:          false,
			MetricsIntervalSeconds: 30,
			Port:                   9090,
			Path:                   "/metrics",
		},
	}
}
