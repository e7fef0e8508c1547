package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	audithook "github.com/xraph/watchledger/audit_hook"
	"github.com/xraph/watchledger/store/memory"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) record(_ context.Context, e *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

func (c *captured) find(action string) *audithook.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Action == action {
			return e
		}
	}
	return nil
}

func TestExtensionRecordsLedgerEvents(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	eng := watchledger.New(memory.New(),
		watchledger.WithPlugin(audithook.New(audithook.RecorderFunc(rec.record))),
	)

	_, err := eng.AddWatchTime(ctx, "u1", 600)
	require.NoError(t, err)
	_, err = eng.SpendTokens(ctx, "u1", 2)
	require.ErrorIs(t, err, watchledger.ErrInsufficientTokens)

	assert.Equal(t, []string{
		audithook.ActionWatchTimeAdded,
		audithook.ActionTokensEarned,
		audithook.ActionSpendRejected,
	}, rec.actions())

	rejected := rec.find(audithook.ActionSpendRejected)
	require.NotNil(t, rejected)
	assert.Equal(t, "u1", rejected.ResourceID)
	assert.Equal(t, audithook.OutcomeFailure, rejected.Outcome)
	assert.Equal(t, int64(2), rejected.Metadata["amount"])
	assert.Equal(t, int64(1), rejected.Metadata["available"])
	assert.NotEmpty(t, rejected.Reason)
}

func TestExtensionBatchOutcome(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := audithook.New(audithook.RecorderFunc(rec.record))

	var errs watchledger.MultiError
	errs.Add(errors.New("boom"))
	require.NoError(t, ext.OnBatchReconciled(ctx, &watchledger.BatchResult{Users: 2, Granted: 1, Failed: 1, Errors: errs}))

	evt := rec.find(audithook.ActionBatchReconciled)
	require.NotNil(t, evt)
	assert.Equal(t, audithook.OutcomePartial, evt.Outcome)
	assert.Equal(t, audithook.SeverityWarning, evt.Severity)
	assert.Equal(t, "boom", evt.Reason)
}

func TestEnabledAndDisabledActions(t *testing.T) {
	ctx := context.Background()

	t.Run("Enabled", func(t *testing.T) {
		rec := &captured{}
		ext := audithook.New(audithook.RecorderFunc(rec.record),
			audithook.WithEnabledActions(audithook.ActionTokensSpent),
		)
		require.NoError(t, ext.OnTokensEarned(ctx, "u1", 1))
		require.NoError(t, ext.OnTokensSpent(ctx, "u1", 1))
		assert.Equal(t, []string{audithook.ActionTokensSpent}, rec.actions())
	})

	t.Run("Disabled", func(t *testing.T) {
		rec := &captured{}
		ext := audithook.New(audithook.RecorderFunc(rec.record),
			audithook.WithDisabledActions(audithook.ActionTokensEarned),
		)
		require.NoError(t, ext.OnTokensEarned(ctx, "u1", 1))
		require.NoError(t, ext.OnRetroactiveReset(ctx, "u1"))
		assert.Equal(t, []string{audithook.ActionRetroactiveReset}, rec.actions())
	})
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	}))
	assert.NoError(t, ext.OnPoolExhausted(context.Background(), "v1"))
}
