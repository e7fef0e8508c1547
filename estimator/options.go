package estimator

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Option configures a Session or Tracker.
type Option func(*config)

// WithClock sets the time source. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithCompletionPercent sets the share of the nominal duration, in whole
// percent, that counts as a completed viewing. Default 70.
func WithCompletionPercent(pct int64) Option {
	return func(cfg *config) {
		if pct > 0 {
			cfg.completionPercent = pct
		}
	}
}

// WithMinWatch sets the minimum watch-time for completion. Default 30s.
func WithMinWatch(d time.Duration) Option {
	return func(cfg *config) {
		if d >= 0 {
			cfg.minWatch = d
		}
	}
}

// WithMaxTimePercent bounds total tracking time as a percentage of the
// nominal duration. Default 130.
func WithMaxTimePercent(pct int64) Option {
	return func(cfg *config) {
		if pct > 0 {
			cfg.maxTimePercent = pct
		}
	}
}

// WithAbandonAfter sets how long a session may run without the user ever
// leaving the host window before it is considered abandoned. Default 5m.
func WithAbandonAfter(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.abandonAfter = d
		}
	}
}

// WithTickInterval sets the Tracker's timer period. Default 1s.
func WithTickInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.tickInterval = d
		}
	}
}

// WithOnFinish registers the callback that receives the final Result.
// It runs on the goroutine that finished the session. Under a Tracker that
// is the loop goroutine; Blur, Focus and Stop called from the callback do not
// block.
func WithOnFinish(fn func(Result)) Option {
	return func(cfg *config) { cfg.onFinish = fn }
}

// WithOnProgress registers the live-feedback callback invoked on each tick.
func WithOnProgress(fn func(Progress)) Option {
	return func(cfg *config) { cfg.onProgress = fn }
}
