package worker

import (
	"time"

	"github.com/smallbiznis/meterline/internal/config"
)

// Config controls loop cadences, backoff and batch sizes.
type Config struct {
	MetricsInterval    time.Duration
	BillingInterval    time.Duration
	NotifyInterval     time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	CollectConcurrency int
	Retention          time.Duration
	NotifyBatchSize    int
}

func DefaultConfig() Config {
	return Config{
		MetricsInterval:    5 * time.Minute,
		BillingInterval:    time.Hour,
		NotifyInterval:     2 * time.Minute,
		BackoffInitial:     time.Minute,
		BackoffMax:         5 * time.Minute,
		CollectConcurrency: 8,
		Retention:          90 * 24 * time.Hour,
		NotifyBatchSize:    100,
	}
}

func ProvideConfig(cfg config.Config) Config {
	w := cfg.Worker
	return Config{
		MetricsInterval:    w.MetricsInterval,
		BillingInterval:    w.BillingInterval,
		NotifyInterval:     w.NotifyInterval,
		BackoffInitial:     w.BackoffInitial,
		BackoffMax:         w.BackoffMax,
		CollectConcurrency: w.CollectConcurrency,
		Retention:          w.Retention,
		NotifyBatchSize:    w.NotifyBatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = defaults.MetricsInterval
	}
	if c.BillingInterval <= 0 {
		c.BillingInterval = defaults.BillingInterval
	}
	if c.NotifyInterval <= 0 {
		c.NotifyInterval = defaults.NotifyInterval
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = defaults.BackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	if c.CollectConcurrency <= 0 {
		c.CollectConcurrency = defaults.CollectConcurrency
	}
	if c.Retention <= 0 {
		c.Retention = defaults.Retention
	}
	if c.NotifyBatchSize <= 0 {
		c.NotifyBatchSize = defaults.NotifyBatchSize
	}
	return c
}

// nextBackoff doubles prev, starting at BackoffInitial and capped at
// BackoffMax.
func (c Config) nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return c.BackoffInitial
	}
	next := prev * 2
	if next > c.BackoffMax {
		next = c.BackoffMax
	}
	return next
}
