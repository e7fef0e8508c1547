package watchledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"

	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/plugin"
	"github.com/xraph/watchledger/store"
)

// Engine is the watch-time ledger. Every mutation is a single-document
// read-modify-write committed through the store's compare-and-swap and
// retried on version conflicts.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    clock.Clock
	resolver *history.Resolver

	// Background intake. intakeMu orders Enqueue sends before the close of
	// stopChan, so the worker's final drain sees every accepted credit.
	intake   chan credit
	intakeMu sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	intakeBatchSize     int
	intakeFlushInterval time.Duration
	maxAttempts         uint
	retryInitial        time.Duration
	retryMax            time.Duration
	basicTokens         int64
	reconcileDelay      time.Duration
	retroactivePercent  int64
}

// credit is one queued watch-time contribution.
type credit struct {
	userID  string
	seconds int64
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:               s,
		plugins:             plugin.NewRegistry(),
		logger:              slog.Default(),
		clock:               clock.New(),
		resolver:            history.NewResolver(s, IsNotFound),
		intake:              make(chan credit, 10000),
		stopChan:            make(chan struct{}),
		intakeBatchSize:     100,
		intakeFlushInterval: 5 * time.Second,
		maxAttempts:         10,
		retryInitial:        5 * time.Millisecond,
		retryMax:            200 * time.Millisecond,
		basicTokens:         1,
		reconcileDelay:      100 * time.Millisecond,
		retroactivePercent:  60,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the time source used for record timestamps and the intake
// flush ticker.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIntakeConfig configures the buffered watch-time intake.
func WithIntakeConfig(batchSize int, flushInterval time.Duration) Option {
	return func(e *Engine) {
		if batchSize > 0 {
			e.intakeBatchSize = batchSize
		}
		if flushInterval > 0 {
			e.intakeFlushInterval = flushInterval
		}
	}
}

// WithRetry bounds compare-and-swap retries on version conflicts.
func WithRetry(maxAttempts uint, initial, maxInterval time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if initial > 0 {
			e.retryInitial = initial
		}
		if maxInterval > 0 {
			e.retryMax = maxInterval
		}
	}
}

// WithBasicTokenGrant sets the size of the one-time starter grant.
// Zero disables GrantBasicTokens.
func WithBasicTokenGrant(tokens int64) Option {
	return func(e *Engine) {
		if tokens >= 0 {
			e.basicTokens = tokens
		}
	}
}

// WithReconcileDelay sets the pause between users in ReconcileAll.
func WithReconcileDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.reconcileDelay = d
		}
	}
}

// WithRetroactiveWatchPercent sets the share of a video's nominal duration
// credited per historical watch event. Default 60.
func WithRetroactiveWatchPercent(pct int64) Option {
	return func(e *Engine) {
		if pct > 0 && pct <= 100 {
			e.retroactivePercent = pct
		}
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Start migrates the store and begins the intake worker.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.wg.Add(1)
	go e.intakeFlushWorker(context.WithoutCancel(ctx))

	e.logger.Info("watchledger started",
		"batch_size", e.intakeBatchSize,
		"flush_interval", e.intakeFlushInterval,
		"max_attempts", e.maxAttempts,
		"basic_tokens", e.basicTokens,
		"reconcile_delay", e.reconcileDelay,
	)

	return nil
}

// Stop drains the intake, notifies plugins and closes the store.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() {
		e.intakeMu.Lock()
		close(e.stopChan)
		e.intakeMu.Unlock()
	})
	e.wg.Wait()

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Buffered intake
// ──────────────────────────────────────────────────

// Enqueue queues watch-time for the background worker (non-blocking).
// Contributions for the same user are coalesced before they reach the
// ledger, which yields the same state as separate AddWatchTime calls.
// After Stop it returns ErrStoreClosed.
func (e *Engine) Enqueue(userID string, seconds int64) error {
	if userID == "" {
		return ValidationError{Field: "user_id", Message: "required"}
	}
	if seconds < 0 {
		return ErrInvalidSeconds
	}
	if seconds == 0 {
		return nil
	}

	e.intakeMu.RLock()
	defer e.intakeMu.RUnlock()

	select {
	case <-e.stopChan:
		return ErrStoreClosed
	default:
	}

	select {
	case e.intake <- credit{userID: userID, seconds: seconds}:
		return nil
	default:
		return ErrIntakeBufferFull
	}
}

// intakeFlushWorker flushes coalesced watch-time to the ledger.
func (e *Engine) intakeFlushWorker(ctx context.Context) {
	defer e.wg.Done()

	batch := make(map[string]int64)
	ticker := e.clock.Ticker(e.intakeFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			e.flushIntake(ctx, batch)
			batch = make(map[string]int64)
		}
	}

	for {
		select {
		case <-e.stopChan:
			// Final flush, including anything still queued.
			for {
				select {
				case c := <-e.intake:
					batch[c.userID] += c.seconds
					continue
				default:
				}
				break
			}
			flush()
			return

		case c := <-e.intake:
			batch[c.userID] += c.seconds
			if len(batch) >= e.intakeBatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

func (e *Engine) flushIntake(ctx context.Context, batch map[string]int64) {
	start := e.clock.Now()

	var failed int
	for userID, seconds := range batch {
		if _, err := e.AddWatchTime(ctx, userID, seconds); err != nil {
			failed++
			e.logger.Error("failed to flush watch-time",
				"user_id", userID,
				"seconds", seconds,
				"error", err,
			)
		}
	}

	elapsed := e.clock.Since(start)
	e.plugins.EmitIntakeFlushed(ctx, len(batch)-failed, elapsed)

	e.logger.Debug("flushed watch-time intake",
		"users", len(batch),
		"failed", failed,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Compare-and-swap
// ──────────────────────────────────────────────────

// casOp describes one single-document read-modify-write.
//
// load returns a fresh copy of the document and the version it was read at.
// apply mutates the copy and reports whether it must be written; an error
// from apply is returned to the caller after the write (if any) succeeds.
type casOp[T any] struct {
	name  string
	load  func(ctx context.Context) (T, int64, error)
	apply func(rec T) (bool, error)
	put   func(ctx context.Context, rec T, expectedVersion int64) error
}

func runCAS[T any](ctx context.Context, e *Engine, op casOp[T]) (T, error) {
	var attempt int
	rec, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		var zero T

		rec, version, err := op.load(ctx)
		if err != nil {
			return zero, backoff.Permanent(err)
		}

		write, applyErr := op.apply(rec)
		if write {
			if err := op.put(ctx, rec, version); err != nil {
				if errors.Is(err, ErrConflict) {
					e.logger.Debug("watchledger: version conflict",
						"op", op.name,
						"attempt", attempt,
					)
					return zero, err
				}
				return zero, backoff.Permanent(err)
			}
		}
		if applyErr != nil {
			return rec, backoff.Permanent(applyErr)
		}
		return rec, nil
	},
		backoff.WithBackOff(e.newBackOff()),
		backoff.WithMaxTries(e.maxAttempts),
	)

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return rec, err
}

func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxInterval = e.retryMax
	return b
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}
