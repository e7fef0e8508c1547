package watchledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/stats"
)

// intakeRecorder captures watch-time hooks.
type intakeRecorder struct {
	mu      sync.Mutex
	added   map[string][]int64
	last    map[string]*stats.WatchStats
	flushes int
	flushed chan struct{}
}

func newIntakeRecorder() *intakeRecorder {
	return &intakeRecorder{
		added:   make(map[string][]int64),
		last:    make(map[string]*stats.WatchStats),
		flushed: make(chan struct{}, 16),
	}
}

func (r *intakeRecorder) Name() string { return "intake-recorder" }

func (r *intakeRecorder) OnWatchTimeAdded(_ context.Context, userID string, seconds int64, s *stats.WatchStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added[userID] = append(r.added[userID], seconds)
	r.last[userID] = s
	return nil
}

func (r *intakeRecorder) OnIntakeFlushed(context.Context, int, time.Duration) error {
	r.mu.Lock()
	r.flushes++
	r.mu.Unlock()
	r.flushed <- struct{}{}
	return nil
}

func TestEnqueueCoalescesOnStop(t *testing.T) {
	rec := newIntakeRecorder()
	e, _ := newEngine(t,
		watchledger.WithClock(clock.NewMock()),
		watchledger.WithPlugin(rec),
		watchledger.WithIntakeConfig(100, time.Hour),
	)
	require.NoError(t, e.Start(context.Background()))

	for _, secs := range []int64{100, 200, 300} {
		require.NoError(t, e.Enqueue("u1", secs))
	}
	require.NoError(t, e.Enqueue("u2", 650))
	require.NoError(t, e.Enqueue("u2", 0))

	require.NoError(t, e.Stop())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int64{600}, rec.added["u1"])
	assert.Equal(t, []int64{650}, rec.added["u2"])
	assert.Equal(t, int64(1), rec.last["u1"].TotalTokens)
	assert.Equal(t, int64(1), rec.last["u2"].TotalTokens)
	assert.Equal(t, 1, rec.flushes)
}

func TestEnqueueFlushesOnInterval(t *testing.T) {
	mock := clock.NewMock()
	rec := newIntakeRecorder()
	e, s := newEngine(t,
		watchledger.WithClock(mock),
		watchledger.WithPlugin(rec),
		watchledger.WithIntakeConfig(100, time.Second),
	)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	require.NoError(t, e.Enqueue("u", 1200))

	// The worker may not have picked the credit up yet; keep ticking until a
	// flush lands.
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		ws, err := s.GetWatchStats(ctx, "u")
		return err == nil && ws.TotalWatchSeconds == 1200
	}, 2*time.Second, 10*time.Millisecond)

	ws, err := s.GetWatchStats(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ws.TotalTokens)
}

func TestEnqueueValidation(t *testing.T) {
	e, _ := newEngine(t)

	assert.ErrorIs(t, e.Enqueue("", 10), watchledger.ErrInvalidInput)
	assert.ErrorIs(t, e.Enqueue("u", -1), watchledger.ErrInvalidSeconds)
}

func TestEnqueueBufferFull(t *testing.T) {
	// Not started, so nothing drains the buffer.
	e, _ := newEngine(t)

	var err error
	for i := 0; i < 20000 && err == nil; i++ {
		err = e.Enqueue("u", 1)
	}
	assert.ErrorIs(t, err, watchledger.ErrIntakeBufferFull)
	assert.True(t, watchledger.IsRetryable(err))
}

func TestEnqueueAfterStop(t *testing.T) {
	e, _ := newEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Enqueue("u", 10))
	require.NoError(t, e.Stop())

	assert.ErrorIs(t, e.Enqueue("u", 650), watchledger.ErrStoreClosed)
	assert.NoError(t, e.Enqueue("u", 0), "zero is a no-op even after stop")
}

func TestStartStop(t *testing.T) {
	e, s := newEngine(t)
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())

	assert.ErrorIs(t, s.Ping(context.Background()), watchledger.ErrStoreClosed)
}
