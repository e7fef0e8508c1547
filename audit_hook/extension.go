// Package audithook bridges watchledger events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/plugin"
	"github.com/xraph/watchledger/stats"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnWatchTimeAdded     = (*Extension)(nil)
	_ plugin.OnTokensEarned       = (*Extension)(nil)
	_ plugin.OnTokensSpent        = (*Extension)(nil)
	_ plugin.OnSpendRejected      = (*Extension)(nil)
	_ plugin.OnBasicTokensGranted = (*Extension)(nil)
	_ plugin.OnPoolAllocated      = (*Extension)(nil)
	_ plugin.OnPoolExhausted      = (*Extension)(nil)
	_ plugin.OnReconciled         = (*Extension)(nil)
	_ plugin.OnBatchReconciled    = (*Extension)(nil)
	_ plugin.OnRetroactiveReset   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges watchledger events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnWatchTimeAdded implements plugin.OnWatchTimeAdded.
func (e *Extension) OnWatchTimeAdded(ctx context.Context, userID string, seconds int64, s *stats.WatchStats) error {
	return e.record(ctx, ActionWatchTimeAdded, SeverityInfo, OutcomeSuccess,
		ResourceWatchStats, userID, CategoryLedger, nil,
		"seconds", seconds,
		"total_watch_seconds", s.TotalWatchSeconds,
	)
}

// OnTokensEarned implements plugin.OnTokensEarned.
func (e *Extension) OnTokensEarned(ctx context.Context, userID string, tokens int64) error {
	return e.record(ctx, ActionTokensEarned, SeverityInfo, OutcomeSuccess,
		ResourceWatchStats, userID, CategoryLedger, nil,
		"tokens", tokens,
	)
}

// OnTokensSpent implements plugin.OnTokensSpent.
func (e *Extension) OnTokensSpent(ctx context.Context, userID string, amount int64) error {
	return e.record(ctx, ActionTokensSpent, SeverityInfo, OutcomeSuccess,
		ResourceWatchStats, userID, CategoryLedger, nil,
		"amount", amount,
	)
}

// OnSpendRejected implements plugin.OnSpendRejected.
func (e *Extension) OnSpendRejected(ctx context.Context, userID string, amount, available int64) error {
	return e.record(ctx, ActionSpendRejected, SeverityWarning, OutcomeFailure,
		ResourceWatchStats, userID, CategoryLedger, watchledger.ErrInsufficientTokens,
		"amount", amount,
		"available", available,
	)
}

// OnBasicTokensGranted implements plugin.OnBasicTokensGranted.
func (e *Extension) OnBasicTokensGranted(ctx context.Context, userID string, tokens int64) error {
	return e.record(ctx, ActionBasicTokensGranted, SeverityInfo, OutcomeSuccess,
		ResourceWatchStats, userID, CategoryLedger, nil,
		"tokens", tokens,
	)
}

// ──────────────────────────────────────────────────
// Pool hooks
// ──────────────────────────────────────────────────

// OnPoolAllocated implements plugin.OnPoolAllocated.
func (e *Extension) OnPoolAllocated(ctx context.Context, videoID string, tokens int64) error {
	return e.record(ctx, ActionPoolAllocated, SeverityInfo, OutcomeSuccess,
		ResourceVideoPool, videoID, CategoryExposure, nil,
		"tokens", tokens,
	)
}

// OnPoolExhausted implements plugin.OnPoolExhausted.
func (e *Extension) OnPoolExhausted(ctx context.Context, videoID string) error {
	return e.record(ctx, ActionPoolExhausted, SeverityInfo, OutcomeSuccess,
		ResourceVideoPool, videoID, CategoryExposure, nil,
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciled implements plugin.OnReconciled.
func (e *Extension) OnReconciled(ctx context.Context, result interface{}) error {
	r, ok := result.(*watchledger.ReconcileResult)
	if !ok {
		return nil
	}
	return e.record(ctx, ActionReconciled, SeverityInfo, OutcomeSuccess,
		ResourceWatchStats, r.UserID, CategoryReconcile, nil,
		"branch", string(r.Branch),
		"seconds", r.Seconds,
		"tokens_granted", r.TokensGranted,
		"events_scanned", r.EventsScanned,
		"events_skipped", r.EventsSkipped,
	)
}

// OnBatchReconciled implements plugin.OnBatchReconciled.
func (e *Extension) OnBatchReconciled(ctx context.Context, result interface{}) error {
	r, ok := result.(*watchledger.BatchResult)
	if !ok {
		return nil
	}

	outcome, severity := OutcomeSuccess, SeverityInfo
	var err error
	if r.Failed > 0 {
		outcome, severity = OutcomePartial, SeverityWarning
	}
	if r.Errors.HasErrors() {
		err = r.Errors
	}
	return e.record(ctx, ActionBatchReconciled, severity, outcome,
		ResourceReconcile, r.RunID.String(), CategoryReconcile, err,
		"users", r.Users,
		"granted", r.Granted,
		"already_granted", r.AlreadyGranted,
		"failed", r.Failed,
		"tokens_granted", r.TokensGranted,
	)
}

// OnRetroactiveReset implements plugin.OnRetroactiveReset.
func (e *Extension) OnRetroactiveReset(ctx context.Context, userID string) error {
	return e.record(ctx, ActionRetroactiveReset, SeverityWarning, OutcomeSuccess,
		ResourceWatchStats, userID, CategoryAdmin, nil,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
