// Package observability provides a metrics extension for watchledger that
// records ledger, pool and reconciliation counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/plugin"
	"github.com/xraph/watchledger/stats"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnWatchTimeAdded     = (*MetricsExtension)(nil)
	_ plugin.OnTokensEarned       = (*MetricsExtension)(nil)
	_ plugin.OnTokensSpent        = (*MetricsExtension)(nil)
	_ plugin.OnSpendRejected      = (*MetricsExtension)(nil)
	_ plugin.OnBasicTokensGranted = (*MetricsExtension)(nil)
	_ plugin.OnIntakeFlushed      = (*MetricsExtension)(nil)
	_ plugin.OnPoolAllocated      = (*MetricsExtension)(nil)
	_ plugin.OnExposureConsumed   = (*MetricsExtension)(nil)
	_ plugin.OnPoolExhausted      = (*MetricsExtension)(nil)
	_ plugin.OnReconciled         = (*MetricsExtension)(nil)
	_ plugin.OnBatchReconciled    = (*MetricsExtension)(nil)
	_ plugin.OnRetroactiveReset   = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide watchledger metrics.
// Register it as an engine plugin to track watch-time and token flow.
type MetricsExtension struct {
	factory MetricFactory

	// Ledger metrics
	WatchSecondsCommitted Counter
	WatchSecondsPerCommit Histogram
	TokensEarned          Counter
	TokensSpent           Counter
	SpendRejected         Counter
	BasicTokensGranted    Counter

	// Intake metrics
	IntakeFlushes      Counter
	IntakeFlushUsers   Histogram
	IntakeFlushLatency Histogram

	// Pool metrics
	PoolTokensAllocated Counter
	ExposuresConsumed   Counter
	PoolsExhausted      Counter

	// Reconciliation metrics
	UsersReconciled       Counter
	ReconcileAlreadyDone  Counter
	RetroactiveTokens     Counter
	BatchRuns             Counter
	BatchFailures         Counter
	BatchDuration         Histogram
	RetroactiveGateResets Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		WatchSecondsCommitted: factory.Counter("watchledger.watch.seconds"),
		WatchSecondsPerCommit: factory.Histogram("watchledger.watch.commit_seconds"),
		TokensEarned:          factory.Counter("watchledger.tokens.earned"),
		TokensSpent:           factory.Counter("watchledger.tokens.spent"),
		SpendRejected:         factory.Counter("watchledger.tokens.spend_rejected"),
		BasicTokensGranted:    factory.Counter("watchledger.tokens.basic_granted"),

		IntakeFlushes:      factory.Counter("watchledger.intake.flushes"),
		IntakeFlushUsers:   factory.Histogram("watchledger.intake.flush.users"),
		IntakeFlushLatency: factory.Histogram("watchledger.intake.flush.latency_ms"),

		PoolTokensAllocated: factory.Counter("watchledger.pool.allocated"),
		ExposuresConsumed:   factory.Counter("watchledger.pool.exposures"),
		PoolsExhausted:      factory.Counter("watchledger.pool.exhausted"),

		UsersReconciled:       factory.Counter("watchledger.reconcile.users"),
		ReconcileAlreadyDone:  factory.Counter("watchledger.reconcile.already_granted"),
		RetroactiveTokens:     factory.Counter("watchledger.reconcile.tokens"),
		BatchRuns:             factory.Counter("watchledger.reconcile.batch.runs"),
		BatchFailures:         factory.Counter("watchledger.reconcile.batch.failures"),
		BatchDuration:         factory.Histogram("watchledger.reconcile.batch.duration_ms"),
		RetroactiveGateResets: factory.Counter("watchledger.reconcile.resets"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnWatchTimeAdded implements plugin.OnWatchTimeAdded.
func (m *MetricsExtension) OnWatchTimeAdded(_ context.Context, _ string, seconds int64, _ *stats.WatchStats) error {
	m.WatchSecondsCommitted.Add(float64(seconds))
	m.WatchSecondsPerCommit.Observe(float64(seconds))
	return nil
}

// OnTokensEarned implements plugin.OnTokensEarned.
func (m *MetricsExtension) OnTokensEarned(_ context.Context, _ string, tokens int64) error {
	m.TokensEarned.Add(float64(tokens))
	return nil
}

// OnTokensSpent implements plugin.OnTokensSpent.
func (m *MetricsExtension) OnTokensSpent(_ context.Context, _ string, amount int64) error {
	m.TokensSpent.Add(float64(amount))
	return nil
}

// OnSpendRejected implements plugin.OnSpendRejected.
func (m *MetricsExtension) OnSpendRejected(_ context.Context, _ string, _, _ int64) error {
	m.SpendRejected.Inc()
	return nil
}

// OnBasicTokensGranted implements plugin.OnBasicTokensGranted.
func (m *MetricsExtension) OnBasicTokensGranted(_ context.Context, _ string, tokens int64) error {
	m.BasicTokensGranted.Add(float64(tokens))
	return nil
}

// OnIntakeFlushed implements plugin.OnIntakeFlushed.
func (m *MetricsExtension) OnIntakeFlushed(_ context.Context, users int, elapsed time.Duration) error {
	m.IntakeFlushes.Inc()
	m.IntakeFlushUsers.Observe(float64(users))
	m.IntakeFlushLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Pool hooks
// ──────────────────────────────────────────────────

// OnPoolAllocated implements plugin.OnPoolAllocated.
func (m *MetricsExtension) OnPoolAllocated(_ context.Context, _ string, tokens int64) error {
	m.PoolTokensAllocated.Add(float64(tokens))
	return nil
}

// OnExposureConsumed implements plugin.OnExposureConsumed.
func (m *MetricsExtension) OnExposureConsumed(_ context.Context, _ string, _ int64) error {
	m.ExposuresConsumed.Inc()
	return nil
}

// OnPoolExhausted implements plugin.OnPoolExhausted.
func (m *MetricsExtension) OnPoolExhausted(_ context.Context, _ string) error {
	m.PoolsExhausted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciled implements plugin.OnReconciled.
func (m *MetricsExtension) OnReconciled(_ context.Context, result interface{}) error {
	r, ok := result.(*watchledger.ReconcileResult)
	if !ok {
		return nil
	}
	if r.AlreadyGranted {
		m.ReconcileAlreadyDone.Inc()
		return nil
	}
	m.UsersReconciled.Inc()
	m.RetroactiveTokens.Add(float64(r.TokensGranted))
	return nil
}

// OnBatchReconciled implements plugin.OnBatchReconciled.
func (m *MetricsExtension) OnBatchReconciled(_ context.Context, result interface{}) error {
	m.BatchRuns.Inc()
	r, ok := result.(*watchledger.BatchResult)
	if !ok {
		return nil
	}
	m.BatchFailures.Add(float64(r.Failed))
	m.BatchDuration.Observe(float64(r.FinishedAt.Sub(r.StartedAt).Milliseconds()))
	return nil
}

// OnRetroactiveReset implements plugin.OnRetroactiveReset.
func (m *MetricsExtension) OnRetroactiveReset(_ context.Context, _ string) error {
	m.RetroactiveGateResets.Inc()
	return nil
}
