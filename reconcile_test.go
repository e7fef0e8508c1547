package watchledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/store/memory"
)

func seedCatalog(t *testing.T, s *memory.Store) {
	t.Helper()
	ctx := context.Background()
	for _, v := range []*history.CatalogVideo{
		{VideoID: "global", DurationSeconds: 1000},
		{VideoID: "roomed", RoomID: "r1", DurationSeconds: 1000},
		{VideoID: "elsewhere", RoomID: "r9", DurationSeconds: 500},
	} {
		require.NoError(t, s.PutCatalogVideo(ctx, v))
	}
}

func watch(t *testing.T, e *watchledger.Engine, userID, videoID, roomID string) {
	t.Helper()
	require.NoError(t, e.RecordWatchEvent(context.Background(), &history.WatchEvent{
		UserID:  userID,
		VideoID: videoID,
		RoomID:  roomID,
	}))
}

func TestReconcileHistoryBranch(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)
	seedCatalog(t, s)

	watch(t, e, "old", "global", "")
	watch(t, e, "old", "roomed", "r1")
	watch(t, e, "old", "elsewhere", "r1")
	watch(t, e, "old", "unknown", "")

	res, err := e.Reconcile(ctx, "old")
	require.NoError(t, err)
	assert.False(t, res.AlreadyGranted)
	assert.Equal(t, watchledger.BranchHistory, res.Branch)
	assert.Equal(t, 4, res.EventsScanned)
	assert.Equal(t, 1, res.EventsSkipped)
	// 60% of 1000 + 1000 + 500.
	assert.Equal(t, int64(1500), res.Seconds)
	assert.Equal(t, int64(2), res.TokensGranted)

	assert.Equal(t, int64(1500), res.Stats.TotalWatchSeconds)
	assert.Equal(t, int64(2), res.Stats.TotalTokens)
	assert.Equal(t, int64(2), res.Stats.AvailableTokens)
	assert.Equal(t, int64(1500), res.Stats.RetroactiveSeconds)
	assert.Equal(t, int64(2), res.Stats.RetroactiveTokens)
	require.NotNil(t, res.Stats.RetroactiveGrantedAt)
	assert.NoError(t, res.Stats.Check())

	again, err := e.Reconcile(ctx, "old")
	require.NoError(t, err)
	assert.True(t, again.AlreadyGranted)
	assert.Zero(t, again.TokensGranted)
	assert.Equal(t, int64(2), again.Stats.TotalTokens)
}

func TestReconcileTopUpBranch(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	behind := stats.New("behind")
	behind.TotalWatchSeconds = 1300
	require.NoError(t, s.PutWatchStats(ctx, behind, 0))
	watch(t, e, "behind", "global", "")

	res, err := e.Reconcile(ctx, "behind")
	require.NoError(t, err)
	assert.Equal(t, watchledger.BranchTopUp, res.Branch)
	assert.Equal(t, int64(2), res.TokensGranted)
	assert.Zero(t, res.EventsScanned, "history is ignored when the ledger has seconds")
	assert.Equal(t, int64(1300), res.Stats.TotalWatchSeconds)
	assert.Equal(t, int64(2), res.Stats.TotalTokens)
	assert.Equal(t, int64(2), res.Stats.AvailableTokens)

	// Already in sync: the gate is still set.
	_, err = e.AddWatchTime(ctx, "synced", 900)
	require.NoError(t, err)
	res, err = e.Reconcile(ctx, "synced")
	require.NoError(t, err)
	assert.Equal(t, watchledger.BranchTopUp, res.Branch)
	assert.Zero(t, res.TokensGranted)
	assert.NotNil(t, res.Stats.RetroactiveGrantedAt)
}

func TestReconcileWithoutHistory(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	res, err := e.Reconcile(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, watchledger.BranchHistory, res.Branch)
	assert.Zero(t, res.Seconds)
	assert.Zero(t, res.TokensGranted)
	assert.True(t, res.Stats.HasRetroactiveGrant())
}

func TestReconcileCustomPercent(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t, watchledger.WithRetroactiveWatchPercent(90))
	seedCatalog(t, s)
	watch(t, e, "u", "global", "")

	res, err := e.Reconcile(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(900), res.Seconds)
	assert.Equal(t, int64(1), res.TokensGranted)
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t, watchledger.WithReconcileDelay(0))
	seedCatalog(t, s)

	watch(t, e, "a", "global", "")
	watch(t, e, "b", "roomed", "r1")
	watch(t, e, "b", "global", "")
	watch(t, e, "c", "unknown", "")

	_, err := e.Reconcile(ctx, "c")
	require.NoError(t, err)

	res, err := e.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.False(t, res.RunID.IsNil())
	assert.Equal(t, 3, res.Users)
	assert.Equal(t, 2, res.Granted)
	assert.Equal(t, 1, res.AlreadyGranted)
	assert.Zero(t, res.Failed)
	assert.False(t, res.Errors.HasErrors())
	// a: 600s = 1 token, b: 1200s = 2 tokens.
	assert.Equal(t, int64(3), res.TokensGranted)

	rerun, err := e.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rerun.AlreadyGranted)
	assert.Zero(t, rerun.TokensGranted)
}

// flakyCatalog fails catalog reads while down is set.
type flakyCatalog struct {
	*memory.Store
	down bool
}

var errCatalogDown = errors.New("connection reset by peer")

func (c *flakyCatalog) GetCatalogVideo(ctx context.Context, roomID, videoID string) (*history.CatalogVideo, error) {
	if c.down {
		return nil, errCatalogDown
	}
	return c.Store.GetCatalogVideo(ctx, roomID, videoID)
}

func TestReconcileCatalogFailureKeepsGateOpen(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	s := &flakyCatalog{Store: mem, down: true}
	e := watchledger.New(s, watchledger.WithReconcileDelay(0))
	seedCatalog(t, mem)
	watch(t, e, "old", "global", "")

	_, err := e.Reconcile(ctx, "old")
	require.ErrorIs(t, err, errCatalogDown)

	res, err := e.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Granted)
	assert.True(t, res.Errors.HasErrors())

	_, err = mem.GetWatchStats(ctx, "old")
	assert.True(t, watchledger.IsNotFound(err), "no record is written on a failed estimate: %v", err)

	s.down = false
	retry, err := e.Reconcile(ctx, "old")
	require.NoError(t, err)
	assert.False(t, retry.AlreadyGranted)
	assert.Equal(t, int64(600), retry.Seconds)
	assert.Equal(t, int64(1), retry.TokensGranted)
}

func TestReconcileAllCancelled(t *testing.T) {
	e, _ := newEngine(t, watchledger.WithReconcileDelay(time.Hour))
	watch(t, e, "a", "x", "")
	watch(t, e, "b", "x", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := e.ReconcileAll(ctx)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Users, "the first user runs before the limiter pauses")
}

func TestResetRetroactiveGrant(t *testing.T) {
	ctx := context.Background()

	t.Run("ClearsGateKeepsTokens", func(t *testing.T) {
		e, s := newEngine(t)
		seedCatalog(t, s)
		watch(t, e, "u", "global", "")

		_, err := e.Reconcile(ctx, "u")
		require.NoError(t, err)

		ws, err := e.ResetRetroactiveGrant(ctx, "u")
		require.NoError(t, err)
		assert.Nil(t, ws.RetroactiveGrantedAt)
		assert.Zero(t, ws.RetroactiveSeconds)
		assert.Equal(t, int64(1), ws.TotalTokens)

		// The ledger now holds seconds, so a second run tops up instead.
		res, err := e.Reconcile(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, watchledger.BranchTopUp, res.Branch)
		assert.Zero(t, res.TokensGranted)
	})

	t.Run("AuthorizerRefuses", func(t *testing.T) {
		e, _ := newEngine(t, watchledger.WithPlugin(&resetGuard{err: errors.New("admins only")}))
		_, err := e.Reconcile(ctx, "u")
		require.NoError(t, err)

		_, err = e.ResetRetroactiveGrant(ctx, "u")
		assert.ErrorIs(t, err, watchledger.ErrUnauthorized)

		ws, err := e.GetUserWatchStats(ctx, "u")
		require.NoError(t, err)
		assert.True(t, ws.HasRetroactiveGrant())
	})
}

func TestRecordWatchEventValidation(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	assert.ErrorIs(t, e.RecordWatchEvent(ctx, &history.WatchEvent{VideoID: "v"}), watchledger.ErrInvalidInput)
	assert.ErrorIs(t, e.RecordWatchEvent(ctx, &history.WatchEvent{UserID: "u"}), watchledger.ErrInvalidInput)

	ev := &history.WatchEvent{UserID: "u", VideoID: "v"}
	require.NoError(t, e.RecordWatchEvent(ctx, ev))
	assert.False(t, ev.ID.IsNil())
	assert.False(t, ev.WatchedAt.IsZero())

	events, err := s.ListWatchEvents(ctx, "u")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.ID.String(), events[0].ID.String())
}

type resetGuard struct {
	err error
}

func (g *resetGuard) Name() string { return "reset-guard" }

func (g *resetGuard) AuthorizeReset(context.Context, string) error { return g.err }
