// Package estimator infers how long a user watched a video that plays in an
// external tab the host application cannot observe.
//
// The host window's focus and blur transitions stand in for "the user is on
// the video tab": a blur starts a viewing interval, the matching focus ends
// it. Only these precise blur→focus deltas are committed to the watch total;
// the periodic tick feeds live progress and evaluates the finish guards.
//
// A Session is a two-state machine (Tracking, Finished). It is not safe for
// concurrent use; Tracker provides the single-owner event loop that drives a
// Session from timers and window events.
package estimator

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xraph/watchledger/id"
)

// ErrInvalidVideo is returned when a session is started for a video without
// an ID or with a non-positive nominal duration.
var ErrInvalidVideo = errors.New("estimator: invalid video")

// Video is a typed reference to the video being tracked.
type Video struct {
	ID                     string `json:"id"`
	NominalDurationSeconds int64  `json:"nominal_duration_seconds"`
}

// Duration returns the nominal duration as a time.Duration.
func (v Video) Duration() time.Duration {
	return time.Duration(v.NominalDurationSeconds) * time.Second
}

// State is the lifecycle state of a Session.
type State int

const (
	// StateTracking means the session is accepting events.
	StateTracking State = iota
	// StateFinished means the result has been produced; all events are ignored.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateTracking:
		return "tracking"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason explains why a session finished.
type Reason string

const (
	ReasonCompleted Reason = "completed" // completion policy satisfied on refocus
	ReasonMaxTime   Reason = "max_time"  // tracking outlived the safety bound
	ReasonAbandoned Reason = "abandoned" // user never left the host window
	ReasonStopped   Reason = "stopped"   // owner stopped the session
)

// Result is delivered exactly once when a session finishes.
type Result struct {
	SessionID        id.SessionID `json:"session_id"`
	Video            Video        `json:"video"`
	WatchTimeSeconds int64        `json:"watch_time_seconds"`
	WatchPercentage  float64      `json:"watch_percentage"`
	VideoDuration    int64        `json:"video_duration"`
	Completed        bool         `json:"completed"`
	Reason           Reason       `json:"reason"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
}

// Progress is the live estimate reported on every tick.
type Progress struct {
	WatchTimeSeconds int64         `json:"watch_time_seconds"`
	WatchPercentage  float64       `json:"watch_percentage"`
	Watching         bool          `json:"watching"`
	Elapsed          time.Duration `json:"elapsed"`
}

// Session tracks one (user, video) viewing.
type Session struct {
	id    id.SessionID
	video Video
	cfg   config

	startedAt  time.Time
	committed  time.Duration
	watching   bool
	lastActive time.Time

	// hostFocused tracks the host window itself. left latches on the first
	// blur and disarms the abandonment guard for the rest of the session.
	hostFocused bool
	left        bool

	state  State
	result Result
}

// NewSession starts tracking video. The session begins in StateTracking with
// the watching flag raised, exactly as if the user had just opened the video.
func NewSession(video Video, opts ...Option) (*Session, error) {
	if video.ID == "" || video.NominalDurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: id=%q duration=%d", ErrInvalidVideo, video.ID, video.NominalDurationSeconds)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	now := cfg.clock.Now()
	return &Session{
		id:          id.NewSessionID(),
		video:       video,
		cfg:         cfg,
		startedAt:   now,
		watching:    true,
		lastActive:  now,
		hostFocused: true,
		state:       StateTracking,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() id.SessionID { return s.id }

// Video returns the tracked video.
func (s *Session) Video() Video { return s.video }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Finished reports whether the session has produced its result.
func (s *Session) Finished() bool { return s.state == StateFinished }

// Result returns the final result once the session has finished.
func (s *Session) Result() (Result, bool) {
	return s.result, s.state == StateFinished
}

// OnBlur records that the user left the host window, assumed for the video.
func (s *Session) OnBlur() {
	if s.state != StateTracking {
		return
	}
	now := s.cfg.clock.Now()

	// A second blur without a focus in between keeps the running interval.
	if s.watching && !s.hostFocused {
		return
	}

	s.hostFocused = false
	s.left = true
	s.watching = true
	s.lastActive = now
}

// OnFocus records that the user came back to the host window. The interval
// since the last activity is committed and the completion policy evaluated.
func (s *Session) OnFocus() {
	if s.state != StateTracking {
		return
	}
	now := s.cfg.clock.Now()

	if s.watching {
		if elapsed := now.Sub(s.lastActive); elapsed > 0 {
			s.committed += elapsed
		}
		s.watching = false
	}
	s.hostFocused = true
	s.lastActive = now

	s.checkProgress(now)
}

// Tick is driven by the owner's periodic timer. It reports live progress
// and finishes the session when a safety guard trips.
func (s *Session) Tick() {
	if s.state != StateTracking {
		return
	}
	now := s.cfg.clock.Now()

	switch {
	case now.Sub(s.startedAt) >= s.maxTrackingTime():
		s.finish(now, ReasonMaxTime)
		return
	case !s.left && now.Sub(s.startedAt) >= s.cfg.abandonAfter:
		s.finish(now, ReasonAbandoned)
		return
	}

	if s.cfg.onProgress != nil {
		s.cfg.onProgress(s.Progress())
	}
}

// Stop finishes the session on the owner's request and returns the result.
// Calling Stop on a finished session returns the existing result.
func (s *Session) Stop() Result {
	if s.state == StateTracking {
		s.finish(s.cfg.clock.Now(), ReasonStopped)
	}
	return s.result
}

// Progress returns the live estimate including any running interval.
func (s *Session) Progress() Progress {
	now := s.cfg.clock.Now()
	watch := s.committed
	if s.watching {
		watch += now.Sub(s.lastActive)
	}
	secs := wholeSeconds(watch)
	return Progress{
		WatchTimeSeconds: secs,
		WatchPercentage:  s.percentage(secs),
		Watching:         s.watching,
		Elapsed:          now.Sub(s.startedAt),
	}
}

func (s *Session) checkProgress(now time.Time) {
	if s.completed(wholeSeconds(s.committed)) {
		s.finish(now, ReasonCompleted)
	}
}

func (s *Session) finish(now time.Time, reason Reason) {
	if s.state == StateFinished {
		return
	}

	// The user is still away on the video tab: close the running interval.
	if s.watching && !s.hostFocused {
		if elapsed := now.Sub(s.lastActive); elapsed > 0 {
			s.committed += elapsed
		}
	}
	s.watching = false
	s.state = StateFinished

	secs := wholeSeconds(s.committed)
	s.result = Result{
		SessionID:        s.id,
		Video:            s.video,
		WatchTimeSeconds: secs,
		WatchPercentage:  s.percentage(secs),
		VideoDuration:    s.video.NominalDurationSeconds,
		Completed:        s.completed(secs),
		Reason:           reason,
		StartedAt:        s.startedAt,
		FinishedAt:       now,
	}

	if s.cfg.onFinish != nil {
		s.cfg.onFinish(s.result)
	}
}

// completed compares in integers so that 70% of 300s is exactly 210s.
func (s *Session) completed(watchSeconds int64) bool {
	return watchSeconds*100 >= s.video.NominalDurationSeconds*s.cfg.completionPercent &&
		watchSeconds >= int64(s.cfg.minWatch/time.Second)
}

func (s *Session) percentage(watchSeconds int64) float64 {
	return float64(watchSeconds) / float64(s.video.NominalDurationSeconds) * 100
}

func (s *Session) maxTrackingTime() time.Duration {
	return s.video.Duration() * time.Duration(s.cfg.maxTimePercent) / 100
}

func wholeSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

// config holds the tunables shared by Session and Tracker.
type config struct {
	clock             clock.Clock
	completionPercent int64
	minWatch          time.Duration
	maxTimePercent    int64
	abandonAfter      time.Duration
	tickInterval      time.Duration
	onFinish          func(Result)
	onProgress        func(Progress)
}

func defaultConfig() config {
	return config{
		clock:             clock.New(),
		completionPercent: 70,
		minWatch:          30 * time.Second,
		maxTimePercent:    130,
		abandonAfter:      5 * time.Minute,
		tickInterval:      time.Second,
	}
}
