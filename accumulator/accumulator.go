// Package accumulator buffers watch-time for a player the host application
// controls directly and flushes it to the ledger.
//
// Flushes drain before they send: the buffered seconds are taken out of the
// accumulator first, so no interval is ever delivered twice. A failed send is
// logged and dropped; the ledger computes its delta from the stored value, so
// the caller may resend the returned amount itself if it needs stronger
// guarantees.
package accumulator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	watchledger "github.com/xraph/watchledger"
)

// Sink receives drained watch-time. *watchledger.Engine satisfies it.
type Sink interface {
	AddWatchTime(ctx context.Context, userID string, seconds int64) (*watchledger.WatchTimeResult, error)
}

// Accumulator tracks play/pause intervals for one user.
type Accumulator struct {
	userID string
	sink   Sink
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	watchStart  time.Time
	playing     bool
	accumulated time.Duration
	closed      bool
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(a *Accumulator) { a.clock = c }
}

// WithLogger sets the logger used for dropped flushes.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accumulator) { a.logger = l }
}

// New creates an accumulator that flushes userID's watch-time to sink.
func New(userID string, sink Sink, opts ...Option) *Accumulator {
	a := &Accumulator{
		userID: userID,
		sink:   sink,
		clock:  clock.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Play starts an interval. Calling Play while already playing is a no-op.
func (a *Accumulator) Play() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.playing {
		return
	}
	a.playing = true
	a.watchStart = a.clock.Now()
}

// Pause closes the running interval into the buffer.
func (a *Accumulator) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.foldLocked(a.clock.Now())
	a.playing = false
}

// Stop is Pause; players report both.
func (a *Accumulator) Stop() { a.Pause() }

// Playing reports whether an interval is running.
func (a *Accumulator) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing
}

// Pending returns the buffered watch-time including any running interval.
func (a *Accumulator) Pending() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := a.accumulated
	if a.playing {
		pending += a.clock.Now().Sub(a.watchStart)
	}
	return pending
}

// Flush folds the running interval, drains whole seconds and sends them.
// Playback keeps going if it was running. The sub-second remainder stays
// buffered for the next flush. It returns the number of seconds drained.
func (a *Accumulator) Flush(ctx context.Context) (int64, error) {
	a.mu.Lock()
	seconds := a.drainLocked()
	a.mu.Unlock()

	return a.send(ctx, seconds)
}

// Close flushes and rejects further playback. It is the unmount path and is
// safe to call more than once.
func (a *Accumulator) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	seconds := a.drainLocked()
	a.playing = false
	a.closed = true
	a.mu.Unlock()

	_, err := a.send(ctx, seconds)
	return err
}

func (a *Accumulator) drainLocked() int64 {
	now := a.clock.Now()
	a.foldLocked(now)
	if a.playing {
		a.watchStart = now
	}

	seconds := int64(a.accumulated / time.Second)
	a.accumulated -= time.Duration(seconds) * time.Second
	return seconds
}

func (a *Accumulator) foldLocked(now time.Time) {
	if !a.playing {
		return
	}
	if d := now.Sub(a.watchStart); d > 0 {
		a.accumulated += d
	}
	a.watchStart = now
}

func (a *Accumulator) send(ctx context.Context, seconds int64) (int64, error) {
	if seconds <= 0 {
		return 0, nil
	}

	if _, err := a.sink.AddWatchTime(ctx, a.userID, seconds); err != nil {
		a.logger.Warn("accumulator: dropping watch-time after failed flush",
			"user_id", a.userID,
			"seconds", seconds,
			"error", err,
		)
		return seconds, err
	}
	return seconds, nil
}
