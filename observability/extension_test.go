package observability_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/observability"
	"github.com/xraph/watchledger/store/memory"
)

func TestPrometheusFactoryNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	c := f.Counter("watchledger.tokens.spent")
	c.Add(3)
	assert.Same(t, c, f.Counter("watchledger.tokens.spent"))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "watchledger_tokens_spent", families[0].GetName())
}

func TestPrometheusFactorySharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := observability.NewPrometheusFactory(reg).Counter("watchledger.pool.exposures")
	b := observability.NewPrometheusFactory(reg).Counter("watchledger.pool.exposures")

	a.Inc()
	b.Inc()
	assert.InDelta(t, 2, testutil.ToFloat64(a.(prometheus.Counter)), 0)
}

func TestMetricsExtensionRecordsEngineActivity(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)
	m := observability.NewMetricsExtension(f)

	eng := watchledger.New(memory.New(), watchledger.WithPlugin(m))

	_, err := eng.AddWatchTime(ctx, "u1", 650)
	require.NoError(t, err)
	_, err = eng.SpendTokens(ctx, "u1", 1)
	require.NoError(t, err)
	_, err = eng.SpendTokens(ctx, "u1", 5)
	require.ErrorIs(t, err, watchledger.ErrInsufficientTokens)

	_, err = eng.AllocateVideoTokens(ctx, "v1", 1)
	require.NoError(t, err)
	_, err = eng.ConsumeVideoToken(ctx, "v1")
	require.NoError(t, err)

	value := func(name string) float64 {
		return testutil.ToFloat64(f.Counter(name).(prometheus.Counter))
	}
	assert.InDelta(t, 650, value("watchledger.watch.seconds"), 0)
	assert.InDelta(t, 1, value("watchledger.tokens.earned"), 0)
	assert.InDelta(t, 1, value("watchledger.tokens.spent"), 0)
	assert.InDelta(t, 1, value("watchledger.tokens.spend_rejected"), 0)
	assert.InDelta(t, 1, value("watchledger.pool.allocated"), 0)
	assert.InDelta(t, 1, value("watchledger.pool.exposures"), 0)
	assert.InDelta(t, 1, value("watchledger.pool.exhausted"), 0)
}

func TestMetricsExtensionReconcile(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	require.NoError(t, m.OnReconciled(ctx, &watchledger.ReconcileResult{TokensGranted: 3}))
	require.NoError(t, m.OnReconciled(ctx, &watchledger.ReconcileResult{AlreadyGranted: true}))
	require.NoError(t, m.OnBatchReconciled(ctx, &watchledger.BatchResult{Failed: 2}))
	require.NoError(t, m.OnReconciled(ctx, "unexpected"))

	value := func(name string) float64 {
		return testutil.ToFloat64(f.Counter(name).(prometheus.Counter))
	}
	assert.InDelta(t, 1, value("watchledger.reconcile.users"), 0)
	assert.InDelta(t, 1, value("watchledger.reconcile.already_granted"), 0)
	assert.InDelta(t, 3, value("watchledger.reconcile.tokens"), 0)
	assert.InDelta(t, 1, value("watchledger.reconcile.batch.runs"), 0)
	assert.InDelta(t, 2, value("watchledger.reconcile.batch.failures"), 0)
}
