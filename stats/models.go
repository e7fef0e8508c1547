// Package stats defines the per-user watch-time ledger record.
//
// TotalTokens is cached on the record for reads but is always re-derivable
// from TotalWatchSeconds; AvailableTokens is re-derivable from the totals,
// the basic grant and SpentTokens.
package stats

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/watchledger/types"
)

// WatchStats is the authoritative ledger record for one user.
type WatchStats struct {
	types.Entity
	UserID               string     `json:"user_id"`
	TotalWatchSeconds    int64      `json:"total_watch_seconds"`
	TotalTokens          int64      `json:"total_tokens"`
	SpentTokens          int64      `json:"spent_tokens"`
	AvailableTokens      int64      `json:"available_tokens"`
	BasicTokensGranted   int64      `json:"basic_tokens_granted"`
	BasicTokensGrantedAt *time.Time `json:"basic_tokens_granted_at,omitempty"`
	RetroactiveGrantedAt *time.Time `json:"retroactive_granted_at,omitempty"`
	RetroactiveSeconds   int64      `json:"retroactive_seconds"`
	RetroactiveTokens    int64      `json:"retroactive_tokens"`
	LastUpdated          time.Time  `json:"last_updated"`

	// Version is the compare-and-swap counter. Zero means the record has
	// never been written.
	Version int64 `json:"version"`
}

// New returns a zeroed, unsaved record for userID.
func New(userID string) *WatchStats {
	return &WatchStats{
		Entity: types.NewEntity(),
		UserID: userID,
	}
}

// WatchTime returns the cumulative watch-time.
func (s *WatchStats) WatchTime() types.WatchTime {
	return types.WatchTime(s.TotalWatchSeconds)
}

// ExpectedTokens is the pure conversion floor(TotalWatchSeconds / 600).
func (s *WatchStats) ExpectedTokens() int64 {
	return s.WatchTime().Tokens()
}

// ExpectedAvailable recomputes the spendable balance from primitives.
func (s *WatchStats) ExpectedAvailable() int64 {
	return s.ExpectedTokens() + s.BasicTokensGranted - s.SpentTokens
}

// HasRetroactiveGrant reports whether the one-time backfill has been applied.
func (s *WatchStats) HasRetroactiveGrant() bool {
	return s.RetroactiveGrantedAt != nil
}

// HasBasicGrant reports whether the starter grant has been applied.
func (s *WatchStats) HasBasicGrant() bool {
	return s.BasicTokensGrantedAt != nil
}

// Clone returns a deep copy.
func (s *WatchStats) Clone() *WatchStats {
	c := *s
	if s.BasicTokensGrantedAt != nil {
		t := *s.BasicTokensGrantedAt
		c.BasicTokensGrantedAt = &t
	}
	if s.RetroactiveGrantedAt != nil {
		t := *s.RetroactiveGrantedAt
		c.RetroactiveGrantedAt = &t
	}
	return &c
}

// Check verifies the derived invariants and returns every violation joined.
func (s *WatchStats) Check() error {
	var errs []error
	if s.TotalWatchSeconds < 0 {
		errs = append(errs, fmt.Errorf("total_watch_seconds %d is negative", s.TotalWatchSeconds))
	}
	if want := s.ExpectedTokens(); s.TotalTokens != want {
		errs = append(errs, fmt.Errorf("total_tokens %d, derived %d", s.TotalTokens, want))
	}
	if s.AvailableTokens < 0 {
		errs = append(errs, fmt.Errorf("available_tokens %d is negative", s.AvailableTokens))
	}
	if want := s.ExpectedAvailable(); s.AvailableTokens != want {
		errs = append(errs, fmt.Errorf("available_tokens %d, derived %d", s.AvailableTokens, want))
	}
	return errors.Join(errs...)
}

// View returns the read-side derivations shown to UI collaborators.
func (s *WatchStats) View() View {
	w := s.WatchTime()
	return View{
		UserID:              s.UserID,
		AvailableTokens:     s.AvailableTokens,
		TotalTokens:         s.TotalTokens,
		SpentTokens:         s.SpentTokens,
		TotalWatchSeconds:   s.TotalWatchSeconds,
		TotalWatchHours:     w.Hours(),
		NextTokenIn:         w.NextTokenIn(),
		ProgressToNextToken: w.ProgressPercent(),
	}
}

// View is a pure projection of WatchStats; it is never persisted.
type View struct {
	UserID              string  `json:"user_id"`
	AvailableTokens     int64   `json:"available_tokens"`
	TotalTokens         int64   `json:"total_tokens"`
	SpentTokens         int64   `json:"spent_tokens"`
	TotalWatchSeconds   int64   `json:"total_watch_seconds"`
	TotalWatchHours     float64 `json:"total_watch_hours"`
	NextTokenIn         int64   `json:"next_token_in"`
	ProgressToNextToken float64 `json:"progress_to_next_token"`
}
