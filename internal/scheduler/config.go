package scheduler

import (
	"time"

	"github.com/smallbiznis/captiva/internal/config"
)

// Config controls scheduler intervals, batch sizes and the startup sweep.
type Config struct {
	RunInterval   time.Duration
	BatchSize     int
	JobTimeout    time.Duration
	SweepLookback time.Duration
	SweepLimit    int
	SweepRate     float64
	SweepBurst    int
	SweepTimeout  time.Duration
	EnabledJobs   []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:   5 * time.Minute,
		BatchSize:     100,
		JobTimeout:    30 * time.Second,
		SweepLookback: 4 * time.Hour,
		SweepLimit:    1000,
		SweepRate:     5,
		SweepBurst:    1,
		SweepTimeout:  30 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:   cfg.Scheduler.RunInterval,
		BatchSize:     cfg.Scheduler.BatchSize,
		SweepLookback: cfg.Scheduler.SweepLookback,
		SweepRate:     cfg.Scheduler.SweepRate,
		SweepBurst:    cfg.Scheduler.SweepBurst,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SweepLookback <= 0 {
		c.SweepLookback = defaults.SweepLookback
	}
	if c.SweepLimit <= 0 {
		c.SweepLimit = defaults.SweepLimit
	}
	if c.SweepRate <= 0 {
		c.SweepRate = defaults.SweepRate
	}
	if c.SweepBurst <= 0 {
		c.SweepBurst = defaults.SweepBurst
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	return c
}
