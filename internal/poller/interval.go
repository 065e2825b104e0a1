package poller

import (
	"time"

	"github.com/opentranslator/client/internal/document"
)

// Default poll cadence: a state-dependent base, overridden by a fixed
// aggressive interval while the job is stalled.
const (
	DefaultPendingInterval = 1500 * time.Millisecond
	DefaultEarlyInterval   = 2 * time.Second
	DefaultMidInterval     = 3 * time.Second
	DefaultLateInterval    = 4 * time.Second
	DefaultStalledInterval = 1500 * time.Millisecond

	earlyProgressBound = 25
	midProgressBound   = 75
)

// baseInterval picks the cadence for the current job state
func (c *Config) baseInterval(status string, progress int, stalled bool) time.Duration {
	switch {
	case stalled:
		return c.StalledInterval
	case status == document.StatusPending:
		return c.PendingInterval
	case progress < earlyProgressBound:
		return c.EarlyInterval
	case progress < midProgressBound:
		return c.MidInterval
	default:
		return c.LateInterval
	}
}

// nextInterval computes the delay before the next status check: the base,
// uniform jitter, failure backoff, then the minimum-interval floor.
func (c *Config) nextInterval(status string, progress int, stalled bool, consecutiveFailures int) time.Duration {
	interval := c.baseInterval(status, progress, stalled) +
		c.Backoff.Jitter() +
		c.Backoff.FailureBackoff(consecutiveFailures)
	return c.Backoff.Clamp(interval)
}
