package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/watchledger/stats"
)

// DefaultTimeout bounds every plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onWatchTimeAdded     []OnWatchTimeAdded
	onTokensEarned       []OnTokensEarned
	onTokensSpent        []OnTokensSpent
	onSpendRejected      []OnSpendRejected
	onBasicTokensGranted []OnBasicTokensGranted
	onIntakeFlushed      []OnIntakeFlushed
	onPoolAllocated      []OnPoolAllocated
	onExposureConsumed   []OnExposureConsumed
	onPoolExhausted      []OnPoolExhausted
	onReconciled         []OnReconciled
	onBatchReconciled    []OnBatchReconciled
	onRetroactiveReset   []OnRetroactiveReset
	spendValidators      []SpendValidator
	resetAuthorizers     []ResetAuthorizer
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	cache(p, &r.onInit)
	cache(p, &r.onShutdown)
	cache(p, &r.onWatchTimeAdded)
	cache(p, &r.onTokensEarned)
	cache(p, &r.onTokensSpent)
	cache(p, &r.onSpendRejected)
	cache(p, &r.onBasicTokensGranted)
	cache(p, &r.onIntakeFlushed)
	cache(p, &r.onPoolAllocated)
	cache(p, &r.onExposureConsumed)
	cache(p, &r.onPoolExhausted)
	cache(p, &r.onReconciled)
	cache(p, &r.onBatchReconciled)
	cache(p, &r.onRetroactiveReset)
	cache(p, &r.spendValidators)
	cache(p, &r.resetAuthorizers)

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

func cache[T Plugin](p Plugin, list *[]T) {
	if v, ok := p.(T); ok {
		*list = append(*list, v)
	}
}

var hookTypes = []struct {
	name  string
	iface reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnWatchTimeAdded", reflect.TypeFor[OnWatchTimeAdded]()},
	{"OnTokensEarned", reflect.TypeFor[OnTokensEarned]()},
	{"OnTokensSpent", reflect.TypeFor[OnTokensSpent]()},
	{"OnSpendRejected", reflect.TypeFor[OnSpendRejected]()},
	{"OnBasicTokensGranted", reflect.TypeFor[OnBasicTokensGranted]()},
	{"OnIntakeFlushed", reflect.TypeFor[OnIntakeFlushed]()},
	{"OnPoolAllocated", reflect.TypeFor[OnPoolAllocated]()},
	{"OnExposureConsumed", reflect.TypeFor[OnExposureConsumed]()},
	{"OnPoolExhausted", reflect.TypeFor[OnPoolExhausted]()},
	{"OnReconciled", reflect.TypeFor[OnReconciled]()},
	{"OnBatchReconciled", reflect.TypeFor[OnBatchReconciled]()},
	{"OnRetroactiveReset", reflect.TypeFor[OnRetroactiveReset]()},
	{"SpendValidator", reflect.TypeFor[SpendValidator]()},
	{"ResetAuthorizer", reflect.TypeFor[ResetAuthorizer]()},
}

// implementedInterfaces returns the hook names a plugin implements.
func implementedInterfaces(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.iface) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in list. Failures are logged, never returned.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list *[]T, fn func(T) error) {
	r.mu.RLock()
	plugins := *list
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error { return p.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitWatchTimeAdded emits a watch-time committed event.
func (r *Registry) EmitWatchTimeAdded(ctx context.Context, userID string, seconds int64, s *stats.WatchStats) {
	emit(ctx, r, "OnWatchTimeAdded", &r.onWatchTimeAdded, func(p OnWatchTimeAdded) error {
		return p.OnWatchTimeAdded(ctx, userID, seconds, s)
	})
}

// EmitTokensEarned emits a tokens minted event.
func (r *Registry) EmitTokensEarned(ctx context.Context, userID string, tokens int64) {
	emit(ctx, r, "OnTokensEarned", &r.onTokensEarned, func(p OnTokensEarned) error {
		return p.OnTokensEarned(ctx, userID, tokens)
	})
}

// EmitTokensSpent emits a spend event.
func (r *Registry) EmitTokensSpent(ctx context.Context, userID string, amount int64) {
	emit(ctx, r, "OnTokensSpent", &r.onTokensSpent, func(p OnTokensSpent) error {
		return p.OnTokensSpent(ctx, userID, amount)
	})
}

// EmitSpendRejected emits an insufficient-balance event.
func (r *Registry) EmitSpendRejected(ctx context.Context, userID string, amount, available int64) {
	emit(ctx, r, "OnSpendRejected", &r.onSpendRejected, func(p OnSpendRejected) error {
		return p.OnSpendRejected(ctx, userID, amount, available)
	})
}

// EmitBasicTokensGranted emits a starter grant event.
func (r *Registry) EmitBasicTokensGranted(ctx context.Context, userID string, tokens int64) {
	emit(ctx, r, "OnBasicTokensGranted", &r.onBasicTokensGranted, func(p OnBasicTokensGranted) error {
		return p.OnBasicTokensGranted(ctx, userID, tokens)
	})
}

// EmitIntakeFlushed emits an intake flush event.
func (r *Registry) EmitIntakeFlushed(ctx context.Context, users int, elapsed time.Duration) {
	emit(ctx, r, "OnIntakeFlushed", &r.onIntakeFlushed, func(p OnIntakeFlushed) error {
		return p.OnIntakeFlushed(ctx, users, elapsed)
	})
}

// EmitPoolAllocated emits a pool allocation event.
func (r *Registry) EmitPoolAllocated(ctx context.Context, videoID string, tokens int64) {
	emit(ctx, r, "OnPoolAllocated", &r.onPoolAllocated, func(p OnPoolAllocated) error {
		return p.OnPoolAllocated(ctx, videoID, tokens)
	})
}

// EmitExposureConsumed emits an exposure event.
func (r *Registry) EmitExposureConsumed(ctx context.Context, videoID string, remaining int64) {
	emit(ctx, r, "OnExposureConsumed", &r.onExposureConsumed, func(p OnExposureConsumed) error {
		return p.OnExposureConsumed(ctx, videoID, remaining)
	})
}

// EmitPoolExhausted emits a pool exhausted event.
func (r *Registry) EmitPoolExhausted(ctx context.Context, videoID string) {
	emit(ctx, r, "OnPoolExhausted", &r.onPoolExhausted, func(p OnPoolExhausted) error {
		return p.OnPoolExhausted(ctx, videoID)
	})
}

// EmitReconciled emits a per-user reconciliation event.
func (r *Registry) EmitReconciled(ctx context.Context, result interface{}) {
	emit(ctx, r, "OnReconciled", &r.onReconciled, func(p OnReconciled) error {
		return p.OnReconciled(ctx, result)
	})
}

// EmitBatchReconciled emits a batch completion event.
func (r *Registry) EmitBatchReconciled(ctx context.Context, result interface{}) {
	emit(ctx, r, "OnBatchReconciled", &r.onBatchReconciled, func(p OnBatchReconciled) error {
		return p.OnBatchReconciled(ctx, result)
	})
}

// EmitRetroactiveReset emits a gate reset event.
func (r *Registry) EmitRetroactiveReset(ctx context.Context, userID string) {
	emit(ctx, r, "OnRetroactiveReset", &r.onRetroactiveReset, func(p OnRetroactiveReset) error {
		return p.OnRetroactiveReset(ctx, userID)
	})
}

// ──────────────────────────────────────────────────
// Guards
// ──────────────────────────────────────────────────

// ValidateSpend runs every SpendValidator and returns the first veto.
func (r *Registry) ValidateSpend(ctx context.Context, userID string, amount int64) error {
	r.mu.RLock()
	validators := r.spendValidators
	r.mu.RUnlock()

	for _, v := range validators {
		if err := r.callWithTimeout(ctx, v.Name(), func() error {
			return v.ValidateSpend(ctx, userID, amount)
		}); err != nil {
			return fmt.Errorf("plugin %s: %w", v.Name(), err)
		}
	}
	return nil
}

// AuthorizeReset runs every ResetAuthorizer and returns the first refusal.
func (r *Registry) AuthorizeReset(ctx context.Context, userID string) error {
	r.mu.RLock()
	authorizers := r.resetAuthorizers
	r.mu.RUnlock()

	for _, a := range authorizers {
		if err := r.callWithTimeout(ctx, a.Name(), func() error {
			return a.AuthorizeReset(ctx, userID)
		}); err != nil {
			return fmt.Errorf("plugin %s: %w", a.Name(), err)
		}
	}
	return nil
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
