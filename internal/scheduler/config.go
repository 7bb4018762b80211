package scheduler

import (
	"errors"
	"time"
)

var ErrInvalidConfig = errors.New("scheduler configuration is invalid")

// Config tunes the background job cadence. Zero values take defaults.
type Config struct {
	// Interval between rollover sweeps. The sweep itself is cheap; the
	// rollover only fires when the calendar month actually changed.
	Interval   time.Duration
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	return c
}
