package extension

import "time"

// Config holds the watchledger extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.watchledger" or "watchledger" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start. The intake worker
	// still runs.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// IntakeBatchSize is the number of distinct users to coalesce before
	// flushing queued watch-time (default: 100).
	IntakeBatchSize int `json:"intake_batch_size" mapstructure:"intake_batch_size" yaml:"intake_batch_size"`

	// IntakeFlushInterval is how frequently queued watch-time is flushed
	// even if the batch size has not been reached (default: 5s).
	IntakeFlushInterval time.Duration `json:"intake_flush_interval" mapstructure:"intake_flush_interval" yaml:"intake_flush_interval"`

	// MaxAttempts bounds compare-and-swap retries per mutation (default: 10).
	MaxAttempts uint `json:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`

	// BasicTokens is the size of the one-time starter grant (default: 1).
	BasicTokens int64 `json:"basic_tokens" mapstructure:"basic_tokens" yaml:"basic_tokens"`

	// DisableBasicGrant turns GrantBasicTokens off regardless of BasicTokens.
	DisableBasicGrant bool `json:"disable_basic_grant" mapstructure:"disable_basic_grant" yaml:"disable_basic_grant"`

	// ReconcileDelay is the pause between users during batch
	// reconciliation (default: 100ms).
	ReconcileDelay time.Duration `json:"reconcile_delay" mapstructure:"reconcile_delay" yaml:"reconcile_delay"`

	// RetroactiveWatchPercent is the share of a video's nominal duration
	// credited per historical watch event (default: 60).
	RetroactiveWatchPercent int64 `json:"retroactive_watch_percent" mapstructure:"retroactive_watch_percent" yaml:"retroactive_watch_percent"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IntakeBatchSize:         100,
		IntakeFlushInterval:     5 * time.Second,
		MaxAttempts:             10,
		BasicTokens:             1,
		ReconcileDelay:          100 * time.Millisecond,
		RetroactiveWatchPercent: 60,
	}
}
