// Package config loads the worker's configuration from the environment,
// with an optional YAML file to override resource-limit defaults for
// operators who want file-based tuning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment selects dev-vs-prod wiring for the store and broker.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config holds all worker configuration.
type Config struct {
	Environment Environment

	WorkDir string

	CompilerQueueName    string
	InterpreterQueueName string
	SubmissionQueue      string // broker host (dev) or URL (prod)
	RabbitMQUsername     string
	RabbitMQPassword     string

	RedisSentinels  string
	RedisMasterName string
	RedisPassword   string
	RedisHost       string

	JudgeURL string

	LogLevel    string
	MetricsAddr string

	OTLPEndpoint string

	SeccompAllowNetwork bool

	Limits ResourceLimitsConfig
}

// ResourceLimitsConfig holds the per-execution caps and stage budgets.
// An optional YAML file (RESOURCE_LIMITS_FILE) may override these.
type ResourceLimitsConfig struct {
	CPUPeriod      int64         `yaml:"cpu_period"`      // microseconds, default 1_000_000
	MemoryMB       int64         `yaml:"memory_mb"`       // default 100
	PidsLimit      int64         `yaml:"pids_limit"`      // default 500
	CompileTimeout time.Duration `yaml:"compile_timeout"` // default 5s
	RunTimeout     time.Duration `yaml:"run_timeout"`     // default 10s
}

// DefaultResourceLimits returns the standard limit defaults.
func DefaultResourceLimits() ResourceLimitsConfig {
	return ResourceLimitsConfig{
		CPUPeriod:      1_000_000,
		MemoryMB:       100,
		PidsLimit:      500,
		CompileTimeout: 5 * time.Second,
		RunTimeout:     10 * time.Second,
	}
}

// Load reads configuration from the environment, applying an optional
// RESOURCE_LIMITS_FILE YAML override for resource-limit defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: Environment(strings.TrimSpace(os.Getenv("ENVIRONMENT"))),

		WorkDir: strings.TrimSpace(os.Getenv("WORK_DIR")),

		CompilerQueueName:    strings.TrimSpace(os.Getenv("CEE_COMPILER_QUEUE_NAME")),
		InterpreterQueueName: strings.TrimSpace(os.Getenv("CEE_INTERPRETER_QUEUE_NAME")),
		SubmissionQueue:      strings.TrimSpace(os.Getenv("SUBMISSION_QUEUE")),
		RabbitMQUsername:     strings.TrimSpace(os.Getenv("RABBITMQ_USERNAME")),
		RabbitMQPassword:     strings.TrimSpace(os.Getenv("RABBITMQ_PASSWORD")),

		RedisSentinels:  strings.TrimSpace(os.Getenv("REDIS_SENTINELS")),
		RedisMasterName: strings.TrimSpace(os.Getenv("REDIS_MASTER_NAME")),
		RedisPassword:   strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisHost:       strings.TrimSpace(os.Getenv("REDIS_HOST")),

		JudgeURL: envDefault("JUDGE_URL", "http://judge.judge.svc.cluster.local/judge"),

		LogLevel:    envDefault("LOG_LEVEL", "info"),
		MetricsAddr: envDefault("METRICS_ADDR", ":9090"),

		OTLPEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),

		SeccompAllowNetwork: envBool("SECCOMP_ALLOW_NETWORK", false),

		Limits: DefaultResourceLimits(),
	}

	if path := strings.TrimSpace(os.Getenv("RESOURCE_LIMITS_FILE")); path != "" {
		if err := cfg.loadResourceLimitsFile(path); err != nil {
			return nil, fmt.Errorf("loading resource limits override: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadResourceLimitsFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var override ResourceLimitsConfig
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if override.CPUPeriod > 0 {
		c.Limits.CPUPeriod = override.CPUPeriod
	}
	if override.MemoryMB > 0 {
		c.Limits.MemoryMB = override.MemoryMB
	}
	if override.PidsLimit > 0 {
		c.Limits.PidsLimit = override.PidsLimit
	}
	if override.CompileTimeout > 0 {
		c.Limits.CompileTimeout = override.CompileTimeout
	}
	if override.RunTimeout > 0 {
		c.Limits.RunTimeout = override.RunTimeout
	}
	return nil
}

// Validate checks that required configuration is present for the
// selected environment.
func (c *Config) Validate() error {
	if c.Environment != Development && c.Environment != Production {
		return fmt.Errorf("ENVIRONMENT must be %q or %q, got %q", Development, Production, c.Environment)
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR is required")
	}
	if c.SubmissionQueue == "" {
		return fmt.Errorf("SUBMISSION_QUEUE is required")
	}
	if c.Environment == Development {
		if c.RedisSentinels == "" || c.RedisMasterName == "" {
			return fmt.Errorf("REDIS_SENTINELS and REDIS_MASTER_NAME are required in development")
		}
	} else {
		if c.RedisHost == "" {
			return fmt.Errorf("REDIS_HOST is required in production")
		}
		if c.RabbitMQUsername == "" || c.RabbitMQPassword == "" {
			return fmt.Errorf("RABBITMQ_USERNAME and RABBITMQ_PASSWORD are required in production")
		}
	}
	if c.Limits.CompileTimeout <= 0 || c.Limits.RunTimeout <= 0 {
		return fmt.Errorf("compile/run timeouts must be positive")
	}
	return nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
