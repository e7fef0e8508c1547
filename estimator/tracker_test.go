package estimator

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, tr *Tracker) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not finish")
	}
}

func TestTrackerCompletesOnFocus(t *testing.T) {
	mock := clock.NewMock()
	results := make(chan Result, 1)

	tr, err := Track(Video{ID: "v", NominalDurationSeconds: 300},
		WithClock(mock),
		WithOnFinish(func(r Result) { results <- r }),
	)
	require.NoError(t, err)

	tr.Blur()
	mock.Add(210 * time.Second)
	tr.Focus()

	waitDone(t, tr)
	r := <-results
	assert.True(t, r.Completed)
	assert.Equal(t, int64(210), r.WatchTimeSeconds)

	got, ok := tr.Result()
	require.True(t, ok)
	assert.Equal(t, r, got)
}

func TestTrackerMaxTimeFromTicker(t *testing.T) {
	mock := clock.NewMock()
	tr, err := Track(Video{ID: "v", NominalDurationSeconds: 60}, WithClock(mock))
	require.NoError(t, err)

	tr.Blur()
	mock.Add(78 * time.Second)

	waitDone(t, tr)
	r, ok := tr.Result()
	require.True(t, ok)
	assert.Equal(t, ReasonMaxTime, r.Reason)

	// Events after teardown return immediately.
	tr.Blur()
	tr.Focus()
	assert.Equal(t, r, tr.Stop())
}

func TestTrackerStopIsIdempotent(t *testing.T) {
	mock := clock.NewMock()
	var calls int
	var mu sync.Mutex

	tr, err := Track(Video{ID: "v", NominalDurationSeconds: 600},
		WithClock(mock),
		WithOnFinish(func(Result) {
			mu.Lock()
			calls++
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	tr.Blur()
	mock.Add(20 * time.Second)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = tr.Stop()
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, ReasonStopped, r.Reason)
		assert.Equal(t, int64(20), r.WatchTimeSeconds)
	}
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestTrackerCallbackMayCallBack(t *testing.T) {
	mock := clock.NewMock()
	var (
		tr      *Tracker
		stopped Result
	)
	tr, err := Track(Video{ID: "v", NominalDurationSeconds: 300},
		WithClock(mock),
		WithOnFinish(func(Result) {
			tr.Blur()
			stopped = tr.Stop()
		}),
	)
	require.NoError(t, err)

	tr.Blur()
	mock.Add(210 * time.Second)
	tr.Focus()

	waitDone(t, tr)
	assert.Equal(t, ReasonCompleted, stopped.Reason)
	assert.Equal(t, int64(210), stopped.WatchTimeSeconds)
	assert.Equal(t, stopped, tr.Stop())
}

func TestTrackerStopFromCallbackDuringStop(t *testing.T) {
	mock := clock.NewMock()
	var (
		tr    *Tracker
		inner Result
	)
	tr, err := Track(Video{ID: "v", NominalDurationSeconds: 600},
		WithClock(mock),
		WithOnFinish(func(Result) { inner = tr.Stop() }),
	)
	require.NoError(t, err)

	tr.Blur()
	mock.Add(20 * time.Second)

	outer := make(chan Result, 1)
	go func() { outer <- tr.Stop() }()

	select {
	case r := <-outer:
		assert.Equal(t, ReasonStopped, r.Reason)
		assert.Equal(t, r, inner)
	case <-time.After(5 * time.Second):
		t.Fatal("stop deadlocked")
	}
}

func TestTrackRejectsInvalidVideo(t *testing.T) {
	_, err := Track(Video{ID: "v"})
	assert.ErrorIs(t, err, ErrInvalidVideo)
}
