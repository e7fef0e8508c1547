package extension

import (
	"time"

	"github.com/xraph/grove"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/plugin"
	"github.com/xraph/watchledger/store"
	"github.com/xraph/watchledger/store/mongo"
	"github.com/xraph/watchledger/store/postgres"
	"github.com/xraph/watchledger/store/sqlite"
)

// Option configures the watchledger Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithPostgres backs the engine with a PostgreSQL grove database.
func WithPostgres(db *grove.DB) Option {
	return func(e *Extension) { e.store = postgres.New(db) }
}

// WithSQLite backs the engine with a SQLite grove database.
func WithSQLite(db *grove.DB) Option {
	return func(e *Extension) { e.store = sqlite.New(db) }
}

// WithMongo backs the engine with a MongoDB grove database.
func WithMongo(db *grove.DB) Option {
	return func(e *Extension) { e.store = mongo.New(db) }
}

// WithEngineOption passes a watchledger.Option through to the underlying engine.
func WithEngineOption(opt watchledger.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a watchledger plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, watchledger.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithIntakeBatchSize sets the number of users to coalesce before flushing.
func WithIntakeBatchSize(size int) Option {
	return func(e *Extension) { e.config.IntakeBatchSize = size }
}

// WithIntakeFlushInterval sets how frequently queued watch-time is flushed.
func WithIntakeFlushInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.IntakeFlushInterval = d }
}

// WithMaxAttempts bounds compare-and-swap retries.
func WithMaxAttempts(n uint) Option {
	return func(e *Extension) { e.config.MaxAttempts = n }
}

// WithBasicTokens sets the starter grant size.
func WithBasicTokens(n int64) Option {
	return func(e *Extension) { e.config.BasicTokens = n }
}

// WithDisableBasicGrant turns the starter grant off.
func WithDisableBasicGrant() Option {
	return func(e *Extension) { e.config.DisableBasicGrant = true }
}

// WithReconcileDelay sets the pause between users in batch reconciliation.
func WithReconcileDelay(d time.Duration) Option {
	return func(e *Extension) { e.config.ReconcileDelay = d }
}

// WithRetroactiveWatchPercent sets the retroactive credit share.
func WithRetroactiveWatchPercent(pct int64) Option {
	return func(e *Extension) { e.config.RetroactiveWatchPercent = pct }
}
