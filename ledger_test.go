package watchledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/estimator"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/store/memory"
)

func newEngine(t *testing.T, opts ...watchledger.Option) (*watchledger.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	return watchledger.New(s, opts...), s
}

func TestAddWatchTime(t *testing.T) {
	ctx := context.Background()

	t.Run("AccumulatesAndMints", func(t *testing.T) {
		e, _ := newEngine(t)

		res, err := e.AddWatchTime(ctx, "u1", 650)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.NewTokensEarned)
		assert.Equal(t, int64(650), res.Stats.TotalWatchSeconds)
		assert.Equal(t, int64(1), res.Stats.TotalTokens)
		assert.Equal(t, int64(1), res.Stats.AvailableTokens)

		view := res.Stats.View()
		assert.Equal(t, int64(550), view.NextTokenIn)
		assert.InDelta(t, 8.33, view.ProgressToNextToken, 0.01)

		res, err = e.AddWatchTime(ctx, "u1", 550)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.NewTokensEarned)
		assert.Equal(t, int64(1200), res.Stats.TotalWatchSeconds)
		assert.Equal(t, int64(2), res.Stats.TotalTokens)
	})

	t.Run("AdditivityMatchesSingleCall", func(t *testing.T) {
		e, _ := newEngine(t)

		for _, secs := range []int64{599, 1, 300, 300, 1234} {
			_, err := e.AddWatchTime(ctx, "split", secs)
			require.NoError(t, err)
		}
		_, err := e.AddWatchTime(ctx, "whole", 599+1+300+300+1234)
		require.NoError(t, err)

		split, err := e.GetUserWatchStats(ctx, "split")
		require.NoError(t, err)
		whole, err := e.GetUserWatchStats(ctx, "whole")
		require.NoError(t, err)

		assert.Equal(t, whole.TotalWatchSeconds, split.TotalWatchSeconds)
		assert.Equal(t, whole.TotalTokens, split.TotalTokens)
		assert.Equal(t, whole.AvailableTokens, split.AvailableTokens)
		assert.Equal(t, int64(4), split.TotalTokens)
		assert.NoError(t, split.Check())
	})

	t.Run("ZeroIsARead", func(t *testing.T) {
		e, _ := newEngine(t)

		res, err := e.AddWatchTime(ctx, "u0", 0)
		require.NoError(t, err)
		assert.Zero(t, res.NewTokensEarned)
		assert.Zero(t, res.Stats.TotalWatchSeconds)
	})

	t.Run("RejectsNegative", func(t *testing.T) {
		e, s := newEngine(t)

		_, err := e.AddWatchTime(ctx, "neg", -5)
		assert.ErrorIs(t, err, watchledger.ErrInvalidSeconds)

		_, err = s.GetWatchStats(ctx, "neg")
		assert.True(t, watchledger.IsNotFound(err), "no record is created: %v", err)
	})

	t.Run("RejectsOverflow", func(t *testing.T) {
		e, _ := newEngine(t)

		_, err := e.AddWatchTime(ctx, "big", 650)
		require.NoError(t, err)
		_, err = e.SpendTokens(ctx, "big", 1)
		require.NoError(t, err)

		_, err = e.AddWatchTime(ctx, "big", math.MaxInt64-100)
		require.ErrorIs(t, err, watchledger.ErrInvalidSeconds)

		got, err := e.GetUserWatchStats(ctx, "big")
		require.NoError(t, err)
		assert.Equal(t, int64(650), got.TotalWatchSeconds)
		assert.Equal(t, int64(1), got.TotalTokens)
		assert.Zero(t, got.AvailableTokens)
		assert.NoError(t, got.Check())
	})

	t.Run("RequiresUser", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.AddWatchTime(ctx, "", 10)
		assert.ErrorIs(t, err, watchledger.ErrInvalidInput)
	})
}

func TestAddWatchTimeConcurrent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t, watchledger.WithRetry(1000, time.Microsecond, time.Millisecond))

	const (
		workers = 16
		calls   = 10
		seconds = 75
	)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				if _, err := e.AddWatchTime(ctx, "busy", seconds); err != nil {
					t.Errorf("add watch-time: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	s, err := e.GetUserWatchStats(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*calls*seconds), s.TotalWatchSeconds, "no update is lost")
	assert.Equal(t, int64(workers*calls*seconds/600), s.TotalTokens)
	assert.Equal(t, s.TotalTokens, s.AvailableTokens)
	assert.NoError(t, s.Check())
}

func TestRecordSession(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	sess, err := estimator.NewSession(estimator.Video{ID: "v1", NominalDurationSeconds: 600})
	require.NoError(t, err)
	r := sess.Stop()

	res, err := e.RecordSession(ctx, "viewer", r)
	require.NoError(t, err)
	assert.Equal(t, r.WatchTimeSeconds, res.Stats.TotalWatchSeconds)

	_, err = e.RecordSession(ctx, "viewer", estimator.Result{WatchTimeSeconds: 1200})
	require.NoError(t, err)
	s, err := e.GetUserWatchStats(ctx, "viewer")
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.TotalTokens)
}

func TestSpendTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("Debits", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.AddWatchTime(ctx, "u", 3000)
		require.NoError(t, err)

		s, err := e.SpendTokens(ctx, "u", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), s.SpentTokens)
		assert.Equal(t, int64(2), s.AvailableTokens)
		assert.Equal(t, int64(5), s.TotalTokens)
		assert.NoError(t, s.Check())
	})

	t.Run("InsufficientLeavesRecordUntouched", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.AddWatchTime(ctx, "u", 1200)
		require.NoError(t, err)
		before, err := e.GetUserWatchStats(ctx, "u")
		require.NoError(t, err)

		_, err = e.SpendTokens(ctx, "u", 3)
		assert.ErrorIs(t, err, watchledger.ErrInsufficientTokens)
		assert.True(t, watchledger.IsBalanceError(err))

		after, err := e.GetUserWatchStats(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, int64(2), after.AvailableTokens)
		assert.Zero(t, after.SpentTokens)
	})

	t.Run("ExactBalance", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.AddWatchTime(ctx, "u", 600)
		require.NoError(t, err)

		s, err := e.SpendTokens(ctx, "u", 1)
		require.NoError(t, err)
		assert.Zero(t, s.AvailableTokens)

		_, err = e.SpendTokens(ctx, "u", 1)
		assert.ErrorIs(t, err, watchledger.ErrInsufficientTokens)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.SpendTokens(ctx, "u", 0)
		assert.ErrorIs(t, err, watchledger.ErrInvalidAmount)
		_, err = e.SpendTokens(ctx, "u", -1)
		assert.ErrorIs(t, err, watchledger.ErrInvalidAmount)
	})

	t.Run("ValidatorRejects", func(t *testing.T) {
		refuse := errors.New("frozen account")
		e, _ := newEngine(t, watchledger.WithPlugin(&spendGuard{err: refuse}))
		_, err := e.AddWatchTime(ctx, "u", 600)
		require.NoError(t, err)

		_, err = e.SpendTokens(ctx, "u", 1)
		assert.ErrorIs(t, err, watchledger.ErrSpendRejected)
		assert.ErrorIs(t, err, refuse)

		s, err := e.GetUserWatchStats(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, int64(1), s.AvailableTokens)
	})

	t.Run("ConcurrentSpendNeverOverdraws", func(t *testing.T) {
		e, _ := newEngine(t, watchledger.WithRetry(1000, time.Microsecond, time.Millisecond))
		_, err := e.AddWatchTime(ctx, "u", 6000)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.SpendTokens(ctx, "u", 1)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				if !errors.Is(err, watchledger.ErrInsufficientTokens) {
					t.Errorf("spend: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)
		s, err := e.GetUserWatchStats(ctx, "u")
		require.NoError(t, err)
		assert.Zero(t, s.AvailableTokens)
		assert.Equal(t, int64(10), s.SpentTokens)
	})
}

func TestGrantBasicTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("OnlyOnce", func(t *testing.T) {
		e, _ := newEngine(t, watchledger.WithBasicTokenGrant(2))

		s, granted, err := e.GrantBasicTokens(ctx, "newbie")
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, int64(2), s.AvailableTokens)
		assert.Equal(t, int64(2), s.BasicTokensGranted)
		require.NotNil(t, s.BasicTokensGrantedAt)

		s, granted, err = e.GrantBasicTokens(ctx, "newbie")
		require.NoError(t, err)
		assert.False(t, granted)
		assert.Equal(t, int64(2), s.AvailableTokens)
		assert.NoError(t, s.Check(), "starter tokens are part of the derived balance")
	})

	t.Run("Disabled", func(t *testing.T) {
		e, _ := newEngine(t, watchledger.WithBasicTokenGrant(0))
		_, _, err := e.GrantBasicTokens(ctx, "newbie")
		assert.ErrorIs(t, err, watchledger.ErrBasicGrantDisabled)
	})
}

func TestGetUserWatchStats(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	got, err := e.GetUserWatchStats(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version, "first read persists a zeroed record")
	assert.Zero(t, got.TotalWatchSeconds)

	_, err = s.GetWatchStats(ctx, "fresh")
	require.NoError(t, err)

	again, err := e.GetUserWatchStats(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Version, "later reads do not write")

	view, err := e.GetTokenView(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", view.UserID)
	assert.Equal(t, int64(600), view.NextTokenIn)
}

func TestVerifyAndRepairStats(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	broken := stats.New("drifted")
	broken.TotalWatchSeconds = 1900
	broken.TotalTokens = 1
	broken.SpentTokens = 1
	broken.AvailableTokens = 5
	require.NoError(t, s.PutWatchStats(ctx, broken, 0))

	err := e.VerifyStats(ctx, "drifted")
	assert.ErrorIs(t, err, watchledger.ErrInconsistentStats)

	fixed, repaired, err := e.RepairStats(ctx, "drifted")
	require.NoError(t, err)
	assert.True(t, repaired)
	assert.Equal(t, int64(3), fixed.TotalTokens)
	assert.Equal(t, int64(2), fixed.AvailableTokens)
	assert.NoError(t, e.VerifyStats(ctx, "drifted"))

	_, repaired, err = e.RepairStats(ctx, "drifted")
	require.NoError(t, err)
	assert.False(t, repaired)

	assert.True(t, watchledger.IsNotFound(e.VerifyStats(ctx, "nobody")))
}

type spendGuard struct {
	err error
}

func (g *spendGuard) Name() string { return "spend-guard" }

func (g *spendGuard) ValidateSpend(context.Context, string, int64) error { return g.err }
