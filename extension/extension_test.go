package extension

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/store/memory"
)

func TestNotReadyBeforeRegister(t *testing.T) {
	ctx := context.Background()
	e := New()

	err := e.Health(ctx)
	assert.ErrorIs(t, err, watchledger.ErrStoreNotReady)
	assert.True(t, watchledger.IsRetryable(err))

	assert.ErrorIs(t, e.Start(ctx), watchledger.ErrStoreNotReady)
}

func TestHealthPingsStore(t *testing.T) {
	s := memory.New()
	e := New(WithStore(s))
	require.NoError(t, e.Health(context.Background()))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, e.Health(context.Background()), watchledger.ErrStoreClosed)
}
