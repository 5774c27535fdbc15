package faultcore

import (
	"time"

	"github.com/StricklySoft/stricklysoft-faultcore/pkg/config"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/containment"
	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/fallback"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/postmortem"
	"github.com/StricklySoft/stricklysoft-faultcore/pkg/recovery"
)

// EnvPrefix is the environment variable prefix read by [LoadConfig].
const EnvPrefix = "FAULTCORE"

// Postmortem backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMinIO  = "minio"
)

// Config is the complete fault core configuration.
type Config struct {
	Retry      RetryConfig      `env:"RETRY" yaml:"retry" json:"retry"`
	Fallback   FallbackConfig   `env:"FALLBACK" yaml:"fallback" json:"fallback"`
	Handoff    HandoffConfig    `env:"HANDOFF" yaml:"handoff" json:"handoff"`
	Postmortem PostmortemConfig `env:"POSTMORTEM" yaml:"postmortem" json:"postmortem"`
	Metrics    MetricsConfig    `env:"METRICS" yaml:"metrics" json:"metrics"`
}

// RetryConfig is the default policy for [Retry].
type RetryConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3" yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `env:"BASE_DELAY" envDefault:"1ms" yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `env:"MAX_DELAY" envDefault:"1s" yaml:"max_delay" json:"max_delay"`
}

// Policy converts the configuration to a retry policy.
func (r RetryConfig) Policy() recovery.Policy {
	return recovery.Policy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}
}

// FallbackConfig is the retry budget of each allocation strategy.
type FallbackConfig struct {
	AttemptsPerStrategy int           `env:"ATTEMPTS_PER_STRATEGY" envDefault:"2" yaml:"attempts_per_strategy" json:"attempts_per_strategy"`
	BaseDelay           time.Duration `env:"BASE_DELAY" envDefault:"1ms" yaml:"base_delay" json:"base_delay"`
}

// HandoffConfig bounds crash containment.
type HandoffConfig struct {
	LatencyTarget       time.Duration `env:"LATENCY_TARGET" envDefault:"50ms" yaml:"latency_target" json:"latency_target"`
	PreserveConcurrency int           `env:"PRESERVE_CONCURRENCY" envDefault:"4" yaml:"preserve_concurrency" json:"preserve_concurrency"`
	MaxRegions          int           `env:"MAX_REGIONS" envDefault:"256" yaml:"max_regions" json:"max_regions"`
}

// PostmortemConfig selects where incident records go.
type PostmortemConfig struct {
	Backend        string                  `env:"BACKEND" envDefault:"memory" yaml:"backend" json:"backend"`
	MemoryCapacity int                     `env:"MEMORY_CAPACITY" envDefault:"64" yaml:"memory_capacity" json:"memory_capacity"`
	Redis          postmortem.RedisConfig  `env:"REDIS" yaml:"redis" json:"redis"`
	MinIO          postmortem.ObjectConfig `env:"MINIO" yaml:"minio" json:"minio"`
}

// MetricsConfig controls Prometheus registration.
type MetricsConfig struct {
	Enabled   bool   `env:"ENABLED" envDefault:"true" yaml:"enabled" json:"enabled"`
	Namespace string `env:"NAMESPACE" envDefault:"faultcore" yaml:"namespace" json:"namespace"`
}

// Validate implements [config.Validator].
func (c *Config) Validate() error {
	if err := c.Retry.Policy().Validate(); err != nil {
		return err
	}
	if c.Fallback.AttemptsPerStrategy < 1 {
		return kerr.Newf(kerr.CodeInvalidParam,
			"faultcore: fallback attempts_per_strategy must be >= 1, got %d", c.Fallback.AttemptsPerStrategy)
	}
	if c.Handoff.LatencyTarget < 0 || c.Handoff.PreserveConcurrency < 0 || c.Handoff.MaxRegions < 0 {
		return kerr.InvalidParam("faultcore: handoff limits must not be negative")
	}

	switch c.Postmortem.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if err := c.Postmortem.Redis.Validate(); err != nil {
			return kerr.Wrap(err, kerr.CodeInvalidParam, "faultcore: invalid redis postmortem backend")
		}
	case BackendMinIO:
		if err := c.Postmortem.MinIO.Validate(); err != nil {
			return kerr.Wrap(err, kerr.CodeInvalidParam, "faultcore: invalid minio postmortem backend")
		}
	default:
		return kerr.Newf(kerr.CodeInvalidParam,
			"faultcore: unknown postmortem backend %q (use none, memory, redis or minio)", c.Postmortem.Backend)
	}
	return nil
}

// LoadConfig reads defaults, then path if non-empty, then FAULTCORE_*
// environment variables.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	l := config.New().WithEnvPrefix(EnvPrefix)
	if path != "" {
		l = l.WithFile(path)
	}
	if err := l.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults without reading a file or
// the environment.
func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts: recovery.DefaultMaxAttempts,
			BaseDelay:   recovery.DefaultBaseDelay,
			MaxDelay:    recovery.DefaultMaxDelay,
		},
		Fallback: FallbackConfig{
			AttemptsPerStrategy: fallback.DefaultStrategyAttempts,
			BaseDelay:           time.Millisecond,
		},
		Handoff: HandoffConfig{
			LatencyTarget:       containment.DefaultLatencyTarget,
			PreserveConcurrency: containment.DefaultPreserveConcurrency,
			MaxRegions:          containment.DefaultMaxRegions,
		},
		Postmortem: PostmortemConfig{
			Backend:        BackendMemory,
			MemoryCapacity: postmortem.DefaultMemoryCapacity,
			Redis: postmortem.RedisConfig{
				Addr:        postmortem.DefaultRedisAddr,
				Key:         postmortem.DefaultRedisKey,
				MaxReports:  postmortem.DefaultRedisMaxReports,
				DialTimeout: postmortem.DefaultDialTimeout,
			},
			MinIO: postmortem.ObjectConfig{
				Bucket: postmortem.DefaultBucket,
				Prefix: postmortem.DefaultPrefix,
			},
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "faultcore"},
	}
}
