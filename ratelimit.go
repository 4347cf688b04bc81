// ghostline/ratelimit.go
// Minimum-interval gate executed before any completion request is issued.
package ghostline

import (
	"log/slog"
	"time"
)

// RateLimiter enforces a minimum interval between admitted requests. It holds
// a single timestamp and is not safe for concurrent use; each instance is
// owned by exactly one component on the owning goroutine.
//
// Two independent instances exist in the pipeline: one inside the Engine
// (request layer) and one inside the SuggestionController (trigger layer).
// Their effects compound on purpose.
type RateLimiter struct {
	interval time.Duration
	last     time.Time
	logger   *slog.Logger
}

// NewRateLimiter returns a limiter that admits at most one call per interval.
func NewRateLimiter(interval time.Duration, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{interval: interval, logger: logger}
}

// ShouldSuppress reports whether a request at now falls inside the minimum
// interval since the last admitted request. Suppressed calls leave the stored
// timestamp unchanged; admitted calls update it to now, so every admitted
// call resets the window.
func (rl *RateLimiter) ShouldSuppress(now time.Time) bool {
	if now.Sub(rl.last) < rl.interval {
		rl.logger.Debug("Rate limiter suppressed request.", "since_last", now.Sub(rl.last), "interval", rl.interval)
		return true
	}
	rl.last = now
	return false
}

// Interval returns the configured minimum interval.
func (rl *RateLimiter) Interval() time.Duration {
	return rl.interval
}
