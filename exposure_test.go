package watchledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/pool"
)

func TestConsumeVideoToken(t *testing.T) {
	ctx := context.Background()

	t.Run("LastTokenDeactivates", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.AllocateVideoTokens(ctx, "v1", 2)
		require.NoError(t, err)

		p, err := e.ConsumeVideoToken(ctx, "v1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.RemainingTokens)
		assert.True(t, p.IsActive)

		p, err = e.ConsumeVideoToken(ctx, "v1")
		require.NoError(t, err)
		assert.Zero(t, p.RemainingTokens)
		assert.False(t, p.IsActive)
		assert.Equal(t, int64(2), p.TotalExposures)

		_, err = e.ConsumeVideoToken(ctx, "v1")
		assert.ErrorIs(t, err, watchledger.ErrTokenPoolExhausted)

		stored, err := e.GetVideoPool(ctx, "v1")
		require.NoError(t, err)
		assert.Zero(t, stored.RemainingTokens, "never negative")
		assert.Equal(t, int64(2), stored.TotalExposures)
	})

	t.Run("EmptyActivePoolIsDeactivated", func(t *testing.T) {
		e, s := newEngine(t)
		p := pool.New("stale")
		p.AllocatedTokens = 3
		p.IsActive = true
		require.NoError(t, s.PutVideoPool(ctx, p, 0))

		_, err := e.ConsumeVideoToken(ctx, "stale")
		assert.ErrorIs(t, err, watchledger.ErrTokenPoolExhausted)

		stored, err := e.GetVideoPool(ctx, "stale")
		require.NoError(t, err)
		assert.False(t, stored.IsActive)
		assert.Zero(t, stored.TotalExposures)
	})

	t.Run("MissingPool", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.ConsumeVideoToken(ctx, "ghost")
		assert.ErrorIs(t, err, watchledger.ErrPoolNotFound)
		assert.True(t, watchledger.IsNotFound(err))
	})

	t.Run("AllocateReactivates", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.AllocateVideoTokens(ctx, "v2", 1)
		require.NoError(t, err)
		_, err = e.ConsumeVideoToken(ctx, "v2")
		require.NoError(t, err)

		p, err := e.AllocateVideoTokens(ctx, "v2", 4)
		require.NoError(t, err)
		assert.True(t, p.IsActive)
		assert.Equal(t, int64(4), p.RemainingTokens)
		assert.Equal(t, int64(5), p.AllocatedTokens)

		_, err = e.AllocateVideoTokens(ctx, "v2", 0)
		assert.ErrorIs(t, err, watchledger.ErrInvalidAmount)
	})
}

func TestFilterActiveVideos(t *testing.T) {
	ptr := func(v int64) *int64 { return &v }
	flag := func(b bool) *bool { return &b }

	videos := []pool.Video{
		{ID: "legacy"},
		{ID: "funded", AllocatedTokens: ptr(5), RemainingTokens: ptr(2), IsActive: flag(true)},
		{ID: "drained", AllocatedTokens: ptr(5), RemainingTokens: ptr(0), IsActive: flag(true)},
		{ID: "paused", AllocatedTokens: ptr(5), RemainingTokens: ptr(3), IsActive: flag(false)},
	}

	e, _ := newEngine(t)
	got := e.FilterActiveVideos(videos)

	ids := make([]string, 0, len(got))
	for _, v := range got {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"legacy", "funded"}, ids)
}

func TestActiveVideos(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.AllocateVideoTokens(ctx, "pooled", 1)
	require.NoError(t, err)
	_, err = e.AllocateVideoTokens(ctx, "spent", 1)
	require.NoError(t, err)
	_, err = e.ConsumeVideoToken(ctx, "spent")
	require.NoError(t, err)

	got, err := e.ActiveVideos(ctx, []pool.Video{{ID: "pooled"}, {ID: "spent"}, {ID: "unpooled"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pooled", got[0].ID)
	require.NotNil(t, got[0].RemainingTokens)
	assert.Equal(t, int64(1), *got[0].RemainingTokens)
	assert.Equal(t, "unpooled", got[1].ID)
}
