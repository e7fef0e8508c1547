package accumulator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	watchledger "github.com/xraph/watchledger"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (s *recordingSink) AddWatchTime(_ context.Context, _ string, seconds int64) (*watchledger.WatchTimeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, seconds)
	if s.err != nil {
		return nil, s.err
	}
	return &watchledger.WatchTimeResult{}, nil
}

func (s *recordingSink) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.calls {
		n += c
	}
	return n
}

func newTestAccumulator(sink Sink) (*Accumulator, *clock.Mock) {
	mock := clock.NewMock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("user-1", sink, WithClock(mock), WithLogger(logger)), mock
}

func TestPlayPauseFlush(t *testing.T) {
	sink := &recordingSink{}
	a, mock := newTestAccumulator(sink)
	ctx := context.Background()

	a.Play()
	mock.Add(90 * time.Second)
	a.Pause()
	mock.Add(time.Hour) // paused time is not counted

	a.Play()
	mock.Add(30 * time.Second)
	a.Stop()

	n, err := a.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)
	assert.Equal(t, []int64{120}, sink.calls)

	// Drained: a second flush sends nothing.
	n, err = a.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sink.calls, 1)
}

func TestFlushWhilePlayingKeepsPlaying(t *testing.T) {
	sink := &recordingSink{}
	a, mock := newTestAccumulator(sink)
	ctx := context.Background()

	a.Play()
	mock.Add(40 * time.Second)
	_, err := a.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, a.Playing())

	mock.Add(20 * time.Second)
	require.NoError(t, a.Close(ctx))

	assert.Equal(t, []int64{40, 20}, sink.calls)
}

func TestSubSecondRemainderCarried(t *testing.T) {
	sink := &recordingSink{}
	a, mock := newTestAccumulator(sink)
	ctx := context.Background()

	a.Play()
	mock.Add(1500 * time.Millisecond)
	a.Pause()
	_, _ = a.Flush(ctx)
	assert.Equal(t, 500*time.Millisecond, a.Pending())

	a.Play()
	mock.Add(600 * time.Millisecond)
	a.Pause()
	_, _ = a.Flush(ctx)

	assert.Equal(t, []int64{1, 1}, sink.calls)
	assert.Equal(t, 100*time.Millisecond, a.Pending())
}

func TestFailedFlushIsDropped(t *testing.T) {
	sink := &recordingSink{err: errors.New("store unavailable")}
	a, mock := newTestAccumulator(sink)
	ctx := context.Background()

	a.Play()
	mock.Add(45 * time.Second)
	a.Pause()

	n, err := a.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, int64(45), n)

	sink.err = nil
	n, err = a.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "dropped seconds are never resent")
	assert.Equal(t, int64(45), sink.total())
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	a, mock := newTestAccumulator(sink)
	ctx := context.Background()

	a.Play()
	mock.Add(10 * time.Second)

	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx))

	a.Play()
	mock.Add(10 * time.Second)
	_, _ = a.Flush(ctx)

	assert.Equal(t, []int64{10}, sink.calls)
	assert.False(t, a.Playing())
}
