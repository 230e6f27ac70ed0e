package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config is loaded from a .env file (TOML) and the environment.
 * Environment variables win over the file; every key has a default so the
 * file is optional.
 */

type Config struct {
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// QueueStore selects the job store backend: "redis" or "memory"
	QueueStore string `mapstructure:"QUEUE_STORE"`

	WorkerConcurrency    int `mapstructure:"WORKER_CONCURRENCY"`
	WorkerLeaseSeconds   int `mapstructure:"WORKER_LEASE_SECONDS"`
	WorkerPollIntervalMS int `mapstructure:"WORKER_POLL_INTERVAL_MS"`

	QueueAttemptsEmail    int `mapstructure:"QUEUE_ATTEMPTS_EMAIL"`
	QueueAttemptsWebhook  int `mapstructure:"QUEUE_ATTEMPTS_WEBHOOK"`
	QueueAttemptsWorkflow int `mapstructure:"QUEUE_ATTEMPTS_WORKFLOW"`
	QueueAttemptsReport   int `mapstructure:"QUEUE_ATTEMPTS_REPORT"`
	QueueAttemptsCleanup  int `mapstructure:"QUEUE_ATTEMPTS_CLEANUP"`

	// Global backoff overrides; empty or zero keeps each queue's own default
	QueueBackoffType    string `mapstructure:"QUEUE_BACKOFF_TYPE"`
	QueueBackoffDelayMS int    `mapstructure:"QUEUE_BACKOFF_DELAY_MS"`
	QueueBackoffCapMS   int    `mapstructure:"QUEUE_BACKOFF_CAP_MS"`

	// Per-queue backoff base delay, winning over QUEUE_BACKOFF_DELAY_MS
	QueueBackoffDelayEmailMS    int `mapstructure:"QUEUE_BACKOFF_DELAY_MS_EMAIL"`
	QueueBackoffDelayWebhookMS  int `mapstructure:"QUEUE_BACKOFF_DELAY_MS_WEBHOOK"`
	QueueBackoffDelayWorkflowMS int `mapstructure:"QUEUE_BACKOFF_DELAY_MS_WORKFLOW"`
	QueueBackoffDelayReportMS   int `mapstructure:"QUEUE_BACKOFF_DELAY_MS_REPORT"`
	QueueBackoffDelayCleanupMS  int `mapstructure:"QUEUE_BACKOFF_DELAY_MS_CLEANUP"`

	CompletedKeep     int `mapstructure:"COMPLETED_KEEP"`
	CompletedTTLHours int `mapstructure:"COMPLETED_TTL_HOURS"`
	FailedKeep        int `mapstructure:"FAILED_KEEP"`
	FailedTTLHours    int `mapstructure:"FAILED_TTL_HOURS"`

	BreakerFailureThreshold   int `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerResetTimeoutMS     int `mapstructure:"BREAKER_RESET_TIMEOUT_MS"`
	BreakerMonitoringPeriodMS int `mapstructure:"BREAKER_MONITORING_PERIOD_MS"`
	BreakerHalfOpenMaxCalls   int `mapstructure:"BREAKER_HALF_OPEN_MAX_CALLS"`

	// ThrottleTTL is the global rate limit window in seconds
	ThrottleTTL   int    `mapstructure:"THROTTLE_TTL"`
	ThrottleLimit int    `mapstructure:"THROTTLE_LIMIT"`
	RoutesFile    string `mapstructure:"ROUTES_FILE"`

	WebhookTimeoutMS int `mapstructure:"WEBHOOK_TIMEOUT_MS"`
}

var defaults = map[string]interface{}{
	"PORT":      "8080",
	"LOG_LEVEL": "info",

	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"QUEUE_STORE": "redis",

	"WORKER_CONCURRENCY":      5,
	"WORKER_LEASE_SECONDS":    30,
	"WORKER_POLL_INTERVAL_MS": 250,

	"QUEUE_ATTEMPTS_EMAIL":    5,
	"QUEUE_ATTEMPTS_WEBHOOK":  3,
	"QUEUE_ATTEMPTS_WORKFLOW": 3,
	"QUEUE_ATTEMPTS_REPORT":   2,
	"QUEUE_ATTEMPTS_CLEANUP":  1,

	"QUEUE_BACKOFF_TYPE":     "",
	"QUEUE_BACKOFF_DELAY_MS": 0,
	"QUEUE_BACKOFF_CAP_MS":   0,

	"QUEUE_BACKOFF_DELAY_MS_EMAIL":    0,
	"QUEUE_BACKOFF_DELAY_MS_WEBHOOK":  0,
	"QUEUE_BACKOFF_DELAY_MS_WORKFLOW": 0,
	"QUEUE_BACKOFF_DELAY_MS_REPORT":   0,
	"QUEUE_BACKOFF_DELAY_MS_CLEANUP":  0,

	"COMPLETED_KEEP":      100,
	"COMPLETED_TTL_HOURS": 1,
	"FAILED_KEEP":         1000,
	"FAILED_TTL_HOURS":    168,

	"BREAKER_FAILURE_THRESHOLD":    5,
	"BREAKER_RESET_TIMEOUT_MS":     60000,
	"BREAKER_MONITORING_PERIOD_MS": 120000,
	"BREAKER_HALF_OPEN_MAX_CALLS":  3,

	"THROTTLE_TTL":   60,
	"THROTTLE_LIMIT": 100,
	"ROUTES_FILE":    "",

	"WEBHOOK_TIMEOUT_MS": 10000,
}

func GetConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	var config Config
	err = v.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &config, nil
}

// Validate checks values that would make the workers misbehave
func (c *Config) Validate() error {
	if c.QueueStore != "redis" && c.QueueStore != "memory" {
		return fmt.Errorf("QUEUE_STORE must be redis or memory (got %q)", c.QueueStore)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.WorkerLeaseSeconds < 1 {
		return fmt.Errorf("WORKER_LEASE_SECONDS must be at least 1")
	}
	switch c.QueueBackoffType {
	case "", "fixed", "exponential":
	default:
		return fmt.Errorf("QUEUE_BACKOFF_TYPE must be fixed or exponential (got %q)", c.QueueBackoffType)
	}
	if c.QueueBackoffDelayMS < 0 || c.QueueBackoffCapMS < 0 {
		return fmt.Errorf("QUEUE_BACKOFF_DELAY_MS and QUEUE_BACKOFF_CAP_MS cannot be negative")
	}
	if c.BreakerFailureThreshold < 1 || c.BreakerHalfOpenMaxCalls < 1 {
		return fmt.Errorf("breaker thresholds must be at least 1")
	}
	if c.ThrottleTTL < 1 || c.ThrottleLimit < 1 {
		return fmt.Errorf("THROTTLE_TTL and THROTTLE_LIMIT must be at least 1")
	}
	return nil
}

func (c *Config) WorkerLease() time.Duration {
	return time.Duration(c.WorkerLeaseSeconds) * time.Second
}

func (c *Config) WorkerPollInterval() time.Duration {
	return time.Duration(c.WorkerPollIntervalMS) * time.Millisecond
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutMS) * time.Millisecond
}

func (c *Config) CompletedTTL() time.Duration {
	return time.Duration(c.CompletedTTLHours) * time.Hour
}

func (c *Config) FailedTTL() time.Duration {
	return time.Duration(c.FailedTTLHours) * time.Hour
}

func (c *Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.BreakerResetTimeoutMS) * time.Millisecond
}

func (c *Config) BreakerMonitoringPeriod() time.Duration {
	return time.Duration(c.BreakerMonitoringPeriodMS) * time.Millisecond
}
