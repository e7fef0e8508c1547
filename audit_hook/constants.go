package audithook

// Action constants for audit events.
const (
	// Ledger actions
	ActionWatchTimeAdded     = "watch_time.added"
	ActionTokensEarned       = "tokens.earned"
	ActionTokensSpent        = "tokens.spent"
	ActionSpendRejected      = "tokens.spend_rejected"
	ActionBasicTokensGranted = "tokens.basic_granted"

	// Pool actions
	ActionPoolAllocated = "pool.allocated"
	ActionPoolExhausted = "pool.exhausted"

	// Reconciliation actions
	ActionReconciled       = "reconcile.granted"
	ActionBatchReconciled  = "reconcile.batch"
	ActionRetroactiveReset = "reconcile.reset"
)

// Resource constants for audit events.
const (
	ResourceWatchStats = "watch_stats"
	ResourceVideoPool  = "video_pool"
	ResourceReconcile  = "reconcile_run"
)

// Category constants for audit events.
const (
	CategoryLedger    = "ledger"
	CategoryExposure  = "exposure"
	CategoryReconcile = "reconcile"
	CategoryAdmin     = "admin"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
