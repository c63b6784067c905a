package dispatcher

import (
	"time"

	"github.com/smallbiznis/signflow/internal/config"
	"github.com/smallbiznis/signflow/internal/ratelimit"
)

// Config controls the outbox dispatcher loop.
type Config struct {
	Enabled      bool
	Owner        string
	LockName     ratelimit.LockName
	BatchSize    int
	PollInterval time.Duration
	RunTimeout   time.Duration
	LeaseTTL     time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

func DefaultConfig() Config {
	return Config{
		LockName:     ratelimit.LockOutboxDispatcher,
		BatchSize:    100,
		PollInterval: time.Second,
		RunTimeout:   20 * time.Second,
		LeaseTTL:     30 * time.Second,
		MaxAttempts:  12,
		BackoffBase:  2 * time.Second,
		BackoffMax:   10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.LockName == "" {
		c.LockName = defaults.LockName
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaults.LeaseTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = defaults.BackoffMax
	}
	return c
}

// ConfigFrom maps application configuration onto the dispatcher.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Enabled:      cfg.Outbox.DispatcherEnabled,
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		LeaseTTL:     cfg.Outbox.LeaseTTL,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		BackoffBase:  cfg.Outbox.BackoffBase,
		BackoffMax:   cfg.Outbox.BackoffMax,
	}
}

// Backoff returns the delay before attempt n+1 after n failed attempts:
// base * 2^(n-1), capped at max.
func (c Config) Backoff(attempts int) time.Duration {
	if attempts <= 1 {
		return c.BackoffBase
	}
	delay := c.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= c.BackoffMax || delay <= 0 {
			return c.BackoffMax
		}
	}
	return delay
}
