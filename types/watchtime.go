package types

import (
	"math"
	"time"
)

// SecondsPerToken is the amount of accumulated watch-time that mints one token.
const SecondsPerToken int64 = 600

// WatchTime is an amount of watch-time in whole seconds.
// All arithmetic is integer-only; conversions to tokens use floor division.
type WatchTime int64

// Seconds returns the raw number of seconds.
func (w WatchTime) Seconds() int64 { return int64(w) }

// Add returns the sum of two watch-times.
func (w WatchTime) Add(other WatchTime) WatchTime { return w + other }

// Tokens returns floor(w / SecondsPerToken). Negative values yield zero.
func (w WatchTime) Tokens() int64 {
	if w <= 0 {
		return 0
	}
	return int64(w) / SecondsPerToken
}

// Remainder returns the seconds accumulated towards the next token.
func (w WatchTime) Remainder() int64 {
	if w <= 0 {
		return 0
	}
	return int64(w) % SecondsPerToken
}

// NextTokenIn returns how many more seconds are needed for the next token.
func (w WatchTime) NextTokenIn() int64 {
	return SecondsPerToken - w.Remainder()
}

// ProgressPercent returns the progress towards the next token in [0, 100).
func (w WatchTime) ProgressPercent() float64 {
	return float64(w.Remainder()) / float64(SecondsPerToken) * 100
}

// Hours returns the watch-time in hours rounded to one decimal place.
func (w WatchTime) Hours() float64 {
	return math.Round(float64(w)/3600*10) / 10
}

// Duration converts the watch-time to a time.Duration.
func (w WatchTime) Duration() time.Duration {
	return time.Duration(w) * time.Second
}

// String renders the watch-time as a Go duration string ("1h5m0s").
func (w WatchTime) String() string {
	return w.Duration().String()
}

// WatchTimeOf truncates a duration to whole seconds.
func WatchTimeOf(d time.Duration) WatchTime {
	if d <= 0 {
		return 0
	}
	return WatchTime(d / time.Second)
}
