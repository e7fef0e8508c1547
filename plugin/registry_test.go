package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/watchledger/stats"
)

type countingPlugin struct {
	name   string
	added  atomic.Int64
	spent  atomic.Int64
	veto   error
	block  chan struct{}
	resets atomic.Int64
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) OnWatchTimeAdded(_ context.Context, _ string, seconds int64, _ *stats.WatchStats) error {
	if p.block != nil {
		<-p.block
	}
	p.added.Add(seconds)
	return nil
}

func (p *countingPlugin) OnTokensSpent(_ context.Context, _ string, amount int64) error {
	p.spent.Add(amount)
	return errors.New("ignored")
}

func (p *countingPlugin) ValidateSpend(context.Context, string, int64) error { return p.veto }

func (p *countingPlugin) OnRetroactiveReset(context.Context, string) error {
	p.resets.Add(1)
	return nil
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := quietRegistry()
	require.NoError(t, r.Register(&countingPlugin{name: "a"}))
	assert.Error(t, r.Register(&countingPlugin{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("b"))
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	r := quietRegistry()
	p := &countingPlugin{name: "counter"}
	require.NoError(t, r.Register(p))

	ctx := context.Background()
	r.EmitWatchTimeAdded(ctx, "u", 30, stats.New("u"))
	r.EmitWatchTimeAdded(ctx, "u", 12, stats.New("u"))
	r.EmitTokensSpent(ctx, "u", 2) // error is logged, not propagated
	r.EmitRetroactiveReset(ctx, "u")
	r.EmitPoolExhausted(ctx, "v") // not implemented: no-op

	assert.Equal(t, int64(42), p.added.Load())
	assert.Equal(t, int64(2), p.spent.Load())
	assert.Equal(t, int64(1), p.resets.Load())
}

func TestImplementedInterfaces(t *testing.T) {
	names := implementedInterfaces(&countingPlugin{})
	assert.ElementsMatch(t, []string{"OnWatchTimeAdded", "OnTokensSpent", "SpendValidator", "OnRetroactiveReset"}, names)
}

func TestValidateSpendVeto(t *testing.T) {
	r := quietRegistry()
	veto := errors.New("frozen account")
	require.NoError(t, r.Register(&countingPlugin{name: "ok"}))
	require.NoError(t, r.Register(&countingPlugin{name: "guard", veto: veto}))

	err := r.ValidateSpend(context.Background(), "u", 1)
	assert.ErrorIs(t, err, veto)
	assert.Contains(t, err.Error(), "guard")

	assert.NoError(t, r.AuthorizeReset(context.Background(), "u"))
}

func TestSlowPluginTimesOut(t *testing.T) {
	r := quietRegistry().WithTimeout(20 * time.Millisecond)
	block := make(chan struct{})
	defer close(block)
	p := &countingPlugin{name: "slow", block: block}
	require.NoError(t, r.Register(p))

	start := time.Now()
	r.EmitWatchTimeAdded(context.Background(), "u", 5, nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, p.added.Load())
}
