package estimator

import (
	"sync"
	"sync/atomic"
	"time"
)

type eventKind int

const (
	eventBlur eventKind = iota
	eventFocus
	eventStop
)

type event struct {
	kind eventKind
	ack  chan struct{}
}

// Tracker drives a Session from a periodic ticker and window events on a
// single goroutine. Blur, Focus and Stop are synchronous: they return once
// the loop has applied the event. After the session finishes the ticker is
// released and Done is closed; later calls are no-ops. The finish callback
// may call back into the tracker; such calls return without waiting on the
// loop it is running on.
type Tracker struct {
	session *Session
	events  chan event
	done    chan struct{}

	// finishing is closed once the result is recorded, before the user
	// callback runs. inCallback is set while that callback runs.
	finishing  chan struct{}
	inCallback atomic.Bool

	resultMu sync.Mutex
	result   *Result

	// stopSent lets exactly one caller send the stop event; the others
	// only wait.
	stopSent atomic.Bool
}

// Track starts a session for video and the goroutine that owns it.
func Track(video Video, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		events:    make(chan event),
		done:      make(chan struct{}),
		finishing: make(chan struct{}),
	}

	// Capture the result before any user callback runs.
	opts = append(opts, func(cfg *config) {
		user := cfg.onFinish
		cfg.onFinish = func(r Result) {
			t.resultMu.Lock()
			t.result = &r
			t.resultMu.Unlock()
			close(t.finishing)
			if user != nil {
				t.inCallback.Store(true)
				defer t.inCallback.Store(false)
				user(r)
			}
		}
	})

	s, err := NewSession(video, opts...)
	if err != nil {
		return nil, err
	}
	t.session = s

	ticker := s.cfg.clock.Ticker(s.cfg.tickInterval)
	go t.run(ticker.C, ticker.Stop)
	return t, nil
}

// Session returns the underlying session. It must not be mutated while the
// tracker is running.
func (t *Tracker) Session() *Session { return t.session }

// Blur forwards a host-window blur.
func (t *Tracker) Blur() { t.send(eventBlur) }

// Focus forwards a host-window focus.
func (t *Tracker) Focus() { t.send(eventFocus) }

// Stop finishes the session if it is still tracking, waits for the loop to
// exit and returns the result. It is safe to call more than once and from
// several goroutines.
func (t *Tracker) Stop() Result {
	if t.stopSent.CompareAndSwap(false, true) {
		t.send(eventStop)
	}
	<-t.finishing
	// From inside the finish callback the loop cannot exit until we return.
	if !t.inCallback.Load() {
		<-t.done
	}
	r, _ := t.Result()
	return r
}

// Done is closed once the session has finished and its timer is released.
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Result returns the final result if the session has finished.
func (t *Tracker) Result() (Result, bool) {
	t.resultMu.Lock()
	defer t.resultMu.Unlock()
	if t.result == nil {
		return Result{}, false
	}
	return *t.result, true
}

func (t *Tracker) send(kind eventKind) bool {
	ev := event{kind: kind, ack: make(chan struct{})}
	select {
	case t.events <- ev:
		<-ev.ack
		return true
	case <-t.finishing:
		return false
	case <-t.done:
		return false
	}
}

func (t *Tracker) run(ticks <-chan time.Time, stopTicker func()) {
	defer close(t.done)
	defer stopTicker()

	for {
		select {
		case <-ticks:
			t.session.Tick()
		case ev := <-t.events:
			switch ev.kind {
			case eventBlur:
				t.session.OnBlur()
			case eventFocus:
				t.session.OnFocus()
			case eventStop:
				t.session.Stop()
			}
			close(ev.ack)
		}

		if t.session.Finished() {
			return
		}
	}
}
