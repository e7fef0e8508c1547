// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/id"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/store"
)

// Factory returns an empty, migrated store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("WatchStatsCAS", func(t *testing.T) { testWatchStatsCAS(t, newStore(t)) })
	t.Run("WatchStatsRoundTrip", func(t *testing.T) { testWatchStatsRoundTrip(t, newStore(t)) })
	t.Run("ListWatchStats", func(t *testing.T) { testListWatchStats(t, newStore(t)) })
	t.Run("VideoPoolCAS", func(t *testing.T) { testVideoPoolCAS(t, newStore(t)) })
	t.Run("ListVideoPools", func(t *testing.T) { testListVideoPools(t, newStore(t)) })
	t.Run("WatchEvents", func(t *testing.T) { testWatchEvents(t, newStore(t)) })
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("ConcurrentCAS", func(t *testing.T) { testConcurrentCAS(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func testWatchStatsCAS(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetWatchStats(ctx, "u1")
	require.True(t, watchledger.IsNotFound(err), "missing record: %v", err)

	ws := stats.New("u1")
	ws.TotalWatchSeconds = 650
	ws.TotalTokens = 1
	ws.AvailableTokens = 1
	require.NoError(t, s.PutWatchStats(ctx, ws, 0))
	assert.Equal(t, int64(1), ws.Version)

	// A second create loses.
	dup := stats.New("u1")
	assert.ErrorIs(t, s.PutWatchStats(ctx, dup, 0), watchledger.ErrConflict)

	got, err := s.GetWatchStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(650), got.TotalWatchSeconds)
	assert.Equal(t, int64(1), got.Version)

	got.TotalWatchSeconds = 700
	require.NoError(t, s.PutWatchStats(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	// Stale writer.
	stale := ws.Clone()
	stale.TotalWatchSeconds = 9999
	assert.ErrorIs(t, s.PutWatchStats(ctx, stale, 1), watchledger.ErrConflict)

	final, err := s.GetWatchStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), final.TotalWatchSeconds)
	assert.Equal(t, int64(2), final.Version)

	// Updates against a missing record conflict rather than create.
	ghost := stats.New("ghost")
	assert.ErrorIs(t, s.PutWatchStats(ctx, ghost, 3), watchledger.ErrConflict)
}

func testWatchStatsRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	ws := stats.New("u2")
	ws.CreatedAt = now
	ws.UpdatedAt = now
	ws.LastUpdated = now
	ws.TotalWatchSeconds = 1800
	ws.TotalTokens = 3
	ws.SpentTokens = 1
	ws.AvailableTokens = 4
	ws.BasicTokensGranted = 2
	ws.BasicTokensGrantedAt = &now
	ws.RetroactiveGrantedAt = &now
	ws.RetroactiveSeconds = 1800
	ws.RetroactiveTokens = 3
	require.NoError(t, s.PutWatchStats(ctx, ws, 0))

	got, err := s.GetWatchStats(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, ws.TotalWatchSeconds, got.TotalWatchSeconds)
	assert.Equal(t, ws.TotalTokens, got.TotalTokens)
	assert.Equal(t, ws.SpentTokens, got.SpentTokens)
	assert.Equal(t, ws.AvailableTokens, got.AvailableTokens)
	assert.Equal(t, ws.BasicTokensGranted, got.BasicTokensGranted)
	assert.Equal(t, ws.RetroactiveSeconds, got.RetroactiveSeconds)
	assert.Equal(t, ws.RetroactiveTokens, got.RetroactiveTokens)
	require.NotNil(t, got.BasicTokensGrantedAt)
	require.NotNil(t, got.RetroactiveGrantedAt)
	assert.True(t, now.Equal(*got.RetroactiveGrantedAt), "retroactive_granted_at: %v != %v", now, *got.RetroactiveGrantedAt)
	assert.True(t, now.Equal(got.LastUpdated))

	got.RetroactiveGrantedAt = nil
	require.NoError(t, s.PutWatchStats(ctx, got, got.Version))
	cleared, err := s.GetWatchStats(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, cleared.RetroactiveGrantedAt)
}

func testListWatchStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, u := range []string{"c", "a", "b"} {
		require.NoError(t, s.PutWatchStats(ctx, stats.New(u), 0))
	}

	all, err := s.ListWatchStats(ctx, stats.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, userIDs(all))

	paged, err := s.ListWatchStats(ctx, stats.ListOpts{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, userIDs(paged))
}

func testVideoPoolCAS(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.GetVideoPool(ctx, "v1")
	require.True(t, watchledger.IsNotFound(err), "missing pool: %v", err)

	p := pool.New("v1")
	p.AllocatedTokens = 5
	p.RemainingTokens = 5
	p.IsActive = true
	require.NoError(t, s.PutVideoPool(ctx, p, 0))
	assert.Equal(t, int64(1), p.Version)
	assert.ErrorIs(t, s.PutVideoPool(ctx, pool.New("v1"), 0), watchledger.ErrConflict)

	got, err := s.GetVideoPool(ctx, "v1")
	require.NoError(t, err)
	got.RemainingTokens = 4
	got.TotalExposures = 1
	require.NoError(t, s.PutVideoPool(ctx, got, 1))
	assert.ErrorIs(t, s.PutVideoPool(ctx, got, 1), watchledger.ErrConflict)

	final, err := s.GetVideoPool(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), final.RemainingTokens)
	assert.Equal(t, int64(1), final.TotalExposures)
	assert.Equal(t, int64(5), final.AllocatedTokens)
	assert.True(t, final.IsActive)
	assert.Equal(t, int64(2), final.Version)
}

func testListVideoPools(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, v := range []string{"v3", "v1", "v2"} {
		p := pool.New(v)
		p.RemainingTokens = int64(i)
		p.IsActive = i > 0
		require.NoError(t, s.PutVideoPool(ctx, p, 0))
	}

	all, err := s.ListVideoPools(ctx, pool.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2", "v3"}, videoIDs(all))

	active, err := s.ListVideoPools(ctx, pool.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, videoIDs(active))
}

func testWatchEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	record := func(user, video, room string, at time.Time) {
		require.NoError(t, s.RecordWatchEvent(ctx, &history.WatchEvent{
			ID:        id.NewWatchEventID(),
			UserID:    user,
			VideoID:   video,
			RoomID:    room,
			WatchedAt: at,
		}))
	}
	record("bob", "v2", "", base.Add(time.Minute))
	record("bob", "v1", "r1", base)
	record("alice", "v1", "", base)

	events, err := s.ListWatchEvents(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "v1", events[0].VideoID, "events are ordered by watched_at")
	assert.Equal(t, "r1", events[0].RoomID)
	assert.False(t, events[0].ID.IsNil())

	none, err := s.ListWatchEvents(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	watchers, err := s.ListWatchers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, watchers)
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.PutCatalogVideo(ctx, &history.CatalogVideo{VideoID: "v1", DurationSeconds: 300, Title: "intro"}))
	require.NoError(t, s.PutCatalogVideo(ctx, &history.CatalogVideo{VideoID: "v1", RoomID: "r2", DurationSeconds: 320}))
	require.NoError(t, s.PutCatalogVideo(ctx, &history.CatalogVideo{VideoID: "v1", RoomID: "r1", DurationSeconds: 310}))
	require.NoError(t, s.PutCatalogVideo(ctx, &history.CatalogVideo{VideoID: "v2", RoomID: "r1", DurationSeconds: 90}))

	global, err := s.GetCatalogVideo(ctx, "", "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), global.DurationSeconds)
	assert.Equal(t, "intro", global.Title)
	assert.True(t, global.Global())

	room, err := s.GetCatalogVideo(ctx, "r1", "v2")
	require.NoError(t, err)
	assert.Equal(t, int64(90), room.DurationSeconds)

	_, err = s.GetCatalogVideo(ctx, "", "v2")
	assert.True(t, watchledger.IsNotFound(err), "global miss: %v", err)

	// Upsert replaces the entry.
	require.NoError(t, s.PutCatalogVideo(ctx, &history.CatalogVideo{VideoID: "v2", RoomID: "r1", DurationSeconds: 95}))
	room, err = s.GetCatalogVideo(ctx, "r1", "v2")
	require.NoError(t, err)
	assert.Equal(t, int64(95), room.DurationSeconds)

	rooms, err := s.ListCatalogRooms(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, rooms)

	rooms, err = s.ListCatalogRooms(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

// testConcurrentCAS checks that exactly one of several writers racing on
// the same version wins.
func testConcurrentCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutWatchStats(ctx, stats.New("race"), 0))

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws := stats.New("race")
			ws.TotalWatchSeconds = int64(i + 1)
			err := s.PutWatchStats(ctx, ws, 1)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, watchledger.ErrConflict) {
				t.Errorf("writer %d: unexpected error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := s.GetWatchStats(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func userIDs(list []*stats.WatchStats) []string {
	out := make([]string, 0, len(list))
	for _, ws := range list {
		out = append(out, ws.UserID)
	}
	return out
}

func videoIDs(list []*pool.VideoTokenPool) []string {
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.VideoID)
	}
	return out
}
