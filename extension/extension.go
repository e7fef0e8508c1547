// Package extension provides the Forge extension adapter for watchledger.
//
// It implements the forge.Extension interface to integrate the watch-time
// ledger into a Forge application with DI registration and lifecycle
// management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.watchledger" or
// "watchledger" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/store"
	"github.com/xraph/watchledger/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "watchledger"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Watch-time ledger and token currency"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the watchledger engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *watchledger.Engine
	store      store.Store
	engineOpts []watchledger.Option
}

// New creates a new watchledger Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *watchledger.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	s := e.store
	if e.config.DisableMigrate {
		s = skipMigrate{s}
	}

	e.engine = watchledger.New(s, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*watchledger.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return fmt.Errorf("%w: extension not initialized", watchledger.ErrStoreNotReady)
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return watchledger.ErrStoreNotReady
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs watchledger.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []watchledger.Option {
	opts := make([]watchledger.Option, 0, len(e.engineOpts)+6)

	opts = append(opts, watchledger.WithIntakeConfig(e.config.IntakeBatchSize, e.config.IntakeFlushInterval))
	opts = append(opts, watchledger.WithRetry(e.config.MaxAttempts, 0, 0))
	opts = append(opts, watchledger.WithReconcileDelay(e.config.ReconcileDelay))
	opts = append(opts, watchledger.WithRetroactiveWatchPercent(e.config.RetroactiveWatchPercent))

	if e.config.DisableBasicGrant {
		opts = append(opts, watchledger.WithBasicTokenGrant(0))
	} else {
		opts = append(opts, watchledger.WithBasicTokenGrant(e.config.BasicTokens))
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// skipMigrate leaves schema management to the operator.
type skipMigrate struct {
	store.Store
}

func (skipMigrate) Migrate(context.Context) error { return nil }

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("watchledger: configuration is required but not found in config files; " +
				"ensure 'extensions.watchledger' or 'watchledger' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("watchledger: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("intake_batch_size", e.config.IntakeBatchSize),
		forge.F("intake_flush_interval", e.config.IntakeFlushInterval),
		forge.F("max_attempts", e.config.MaxAttempts),
		forge.F("basic_tokens", e.config.BasicTokens),
		forge.F("reconcile_delay", e.config.ReconcileDelay),
		forge.F("retroactive_watch_percent", e.config.RetroactiveWatchPercent),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.watchledger", "watchledger"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("watchledger: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("watchledger: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.IntakeBatchSize == 0 {
		cfg.IntakeBatchSize = defaults.IntakeBatchSize
	}
	if cfg.IntakeFlushInterval == 0 {
		cfg.IntakeFlushInterval = defaults.IntakeFlushInterval
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BasicTokens == 0 {
		cfg.BasicTokens = defaults.BasicTokens
	}
	if cfg.ReconcileDelay == 0 {
		cfg.ReconcileDelay = defaults.ReconcileDelay
	}
	if cfg.RetroactiveWatchPercent == 0 {
		cfg.RetroactiveWatchPercent = defaults.RetroactiveWatchPercent
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableBasicGrant {
		yamlConfig.DisableBasicGrant = true
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.IntakeBatchSize == 0 {
		yamlConfig.IntakeBatchSize = programmaticConfig.IntakeBatchSize
	}
	if yamlConfig.IntakeFlushInterval == 0 {
		yamlConfig.IntakeFlushInterval = programmaticConfig.IntakeFlushInterval
	}
	if yamlConfig.MaxAttempts == 0 {
		yamlConfig.MaxAttempts = programmaticConfig.MaxAttempts
	}
	if yamlConfig.BasicTokens == 0 {
		yamlConfig.BasicTokens = programmaticConfig.BasicTokens
	}
	if yamlConfig.ReconcileDelay == 0 {
		yamlConfig.ReconcileDelay = programmaticConfig.ReconcileDelay
	}
	if yamlConfig.RetroactiveWatchPercent == 0 {
		yamlConfig.RetroactiveWatchPercent = programmaticConfig.RetroactiveWatchPercent
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
