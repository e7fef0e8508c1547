// Package plugin provides an extensible plugin system for watchledger.
// Plugins can hook into ledger, pool and reconciliation events, and veto
// sensitive operations through guard interfaces.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/watchledger/stats"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnWatchTimeAdded is called after watch-time has been committed.
type OnWatchTimeAdded interface {
	Plugin
	OnWatchTimeAdded(ctx context.Context, userID string, seconds int64, s *stats.WatchStats) error
}

// OnTokensEarned is called when committed watch-time minted new tokens.
type OnTokensEarned interface {
	Plugin
	OnTokensEarned(ctx context.Context, userID string, tokens int64) error
}

// OnTokensSpent is called after a successful spend.
type OnTokensSpent interface {
	Plugin
	OnTokensSpent(ctx context.Context, userID string, amount int64) error
}

// OnSpendRejected is called when a spend exceeds the available balance.
type OnSpendRejected interface {
	Plugin
	OnSpendRejected(ctx context.Context, userID string, amount, available int64) error
}

// OnBasicTokensGranted is called after the one-time starter grant.
type OnBasicTokensGranted interface {
	Plugin
	OnBasicTokensGranted(ctx context.Context, userID string, tokens int64) error
}

// OnIntakeFlushed is called after the buffered intake has been written.
type OnIntakeFlushed interface {
	Plugin
	OnIntakeFlushed(ctx context.Context, users int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Pool hooks
// ──────────────────────────────────────────────────

// OnPoolAllocated is called after tokens were added to a video's pool.
type OnPoolAllocated interface {
	Plugin
	OnPoolAllocated(ctx context.Context, videoID string, tokens int64) error
}

// OnExposureConsumed is called after an exposure consumed a pool unit.
type OnExposureConsumed interface {
	Plugin
	OnExposureConsumed(ctx context.Context, videoID string, remaining int64) error
}

// OnPoolExhausted is called when a pool has no exposures left.
type OnPoolExhausted interface {
	Plugin
	OnPoolExhausted(ctx context.Context, videoID string) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciled is called after a user's retroactive grant was applied.
type OnReconciled interface {
	Plugin
	OnReconciled(ctx context.Context, result interface{}) error
}

// OnBatchReconciled is called when a batch run completes.
type OnBatchReconciled interface {
	Plugin
	OnBatchReconciled(ctx context.Context, result interface{}) error
}

// OnRetroactiveReset is called after a user's retroactive gate was cleared.
type OnRetroactiveReset interface {
	Plugin
	OnRetroactiveReset(ctx context.Context, userID string) error
}

// ──────────────────────────────────────────────────
// Guards
// ──────────────────────────────────────────────────

// SpendValidator may veto a spend before it reaches the ledger.
type SpendValidator interface {
	Plugin
	ValidateSpend(ctx context.Context, userID string, amount int64) error
}

// ResetAuthorizer gates administrative retroactive resets.
type ResetAuthorizer interface {
	Plugin
	AuthorizeReset(ctx context.Context, userID string) error
}
