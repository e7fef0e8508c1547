package watchledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/xraph/watchledger/estimator"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/types"
)

// WatchTimeResult is returned by AddWatchTime.
type WatchTimeResult struct {
	NewTokensEarned int64             `json:"new_tokens_earned"`
	Stats           *stats.WatchStats `json:"stats"`
}

// ──────────────────────────────────────────────────
// Watch-time
// ──────────────────────────────────────────────────

// AddWatchTime commits seconds of watch-time to the user's ledger and mints
// floor(total/600) − stored tokens. The delta is always computed from the
// stored value, so a retried call never double counts.
func (e *Engine) AddWatchTime(ctx context.Context, userID string, seconds int64) (*WatchTimeResult, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}
	if seconds < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeconds, seconds)
	}
	if seconds == 0 {
		s, err := e.GetUserWatchStats(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &WatchTimeResult{Stats: s}, nil
	}

	var earned int64
	s, err := e.mutateStats(ctx, "add_watch_time", userID, func(s *stats.WatchStats) (bool, error) {
		if seconds > math.MaxInt64-s.TotalWatchSeconds {
			return false, fmt.Errorf("%w: %d overflows total %d", ErrInvalidSeconds, seconds, s.TotalWatchSeconds)
		}
		newTotal := s.TotalWatchSeconds + seconds
		shouldHave := types.WatchTime(newTotal).Tokens()
		earned = shouldHave - s.TotalTokens

		s.TotalWatchSeconds = newTotal
		s.TotalTokens = shouldHave
		s.AvailableTokens += earned
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.plugins.EmitWatchTimeAdded(ctx, userID, seconds, s)
	if earned > 0 {
		e.plugins.EmitTokensEarned(ctx, userID, earned)
	}

	e.logger.Debug("watch-time added",
		"user_id", userID,
		"seconds", seconds,
		"total_seconds", s.TotalWatchSeconds,
		"tokens_earned", earned,
	)

	return &WatchTimeResult{NewTokensEarned: earned, Stats: s}, nil
}

// RecordSession commits a finished estimator session.
func (e *Engine) RecordSession(ctx context.Context, userID string, r estimator.Result) (*WatchTimeResult, error) {
	res, err := e.AddWatchTime(ctx, userID, r.WatchTimeSeconds)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("watch session recorded",
		"user_id", userID,
		"session_id", r.SessionID.String(),
		"video_id", r.Video.ID,
		"watch_seconds", r.WatchTimeSeconds,
		"completed", r.Completed,
		"reason", string(r.Reason),
	)
	return res, nil
}

// ──────────────────────────────────────────────────
// Balances
// ──────────────────────────────────────────────────

// SpendTokens debits amount from the available balance. It fails with
// ErrInsufficientTokens, leaving the record untouched, when the balance is
// too small.
func (e *Engine) SpendTokens(ctx context.Context, userID string, amount int64) (*stats.WatchStats, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if err := e.plugins.ValidateSpend(ctx, userID, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpendRejected, err)
	}

	var available int64
	s, err := e.mutateStats(ctx, "spend_tokens", userID, func(s *stats.WatchStats) (bool, error) {
		available = s.AvailableTokens
		if amount > s.AvailableTokens {
			return false, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientTokens, amount, s.AvailableTokens)
		}
		s.SpentTokens += amount
		s.AvailableTokens -= amount
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientTokens) {
			e.plugins.EmitSpendRejected(ctx, userID, amount, available)
		}
		return nil, err
	}

	e.plugins.EmitTokensSpent(ctx, userID, amount)
	return s, nil
}

// GrantBasicTokens applies the one-time starter grant. The boolean reports
// whether this call applied it.
func (e *Engine) GrantBasicTokens(ctx context.Context, userID string) (*stats.WatchStats, bool, error) {
	if userID == "" {
		return nil, false, ValidationError{Field: "user_id", Message: "required"}
	}
	if e.basicTokens <= 0 {
		return nil, false, ErrBasicGrantDisabled
	}

	var granted bool
	s, err := e.mutateStats(ctx, "grant_basic_tokens", userID, func(s *stats.WatchStats) (bool, error) {
		granted = false
		if s.HasBasicGrant() {
			return false, nil
		}
		now := e.now()
		s.BasicTokensGranted += e.basicTokens
		s.BasicTokensGrantedAt = &now
		s.AvailableTokens += e.basicTokens
		granted = true
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}

	if granted {
		e.plugins.EmitBasicTokensGranted(ctx, userID, e.basicTokens)
	}
	return s, granted, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// GetUserWatchStats returns the user's record, creating a zeroed one on
// first access.
func (e *Engine) GetUserWatchStats(ctx context.Context, userID string) (*stats.WatchStats, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}
	return e.mutateStats(ctx, "get_watch_stats", userID, func(s *stats.WatchStats) (bool, error) {
		return s.Version == 0, nil
	})
}

// GetTokenView returns the read-side projection of the user's record.
func (e *Engine) GetTokenView(ctx context.Context, userID string) (stats.View, error) {
	s, err := e.GetUserWatchStats(ctx, userID)
	if err != nil {
		return stats.View{}, err
	}
	return s.View(), nil
}

// ──────────────────────────────────────────────────
// Integrity
// ──────────────────────────────────────────────────

// VerifyStats checks the user's derived fields against the primitives.
func (e *Engine) VerifyStats(ctx context.Context, userID string) error {
	s, err := e.store.GetWatchStats(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Check(); err != nil {
		return fmt.Errorf("%w: user %s: %w", ErrInconsistentStats, userID, err)
	}
	return nil
}

// RepairStats recomputes TotalTokens and AvailableTokens from the watch
// seconds, the basic grant and the spent tokens. The boolean reports whether
// anything changed.
func (e *Engine) RepairStats(ctx context.Context, userID string) (*stats.WatchStats, bool, error) {
	if userID == "" {
		return nil, false, ValidationError{Field: "user_id", Message: "required"}
	}

	var repaired bool
	s, err := e.mutateStats(ctx, "repair_stats", userID, func(s *stats.WatchStats) (bool, error) {
		repaired = false
		if s.Version == 0 {
			return false, nil
		}
		checkErr := s.Check()
		if checkErr == nil {
			return false, nil
		}

		e.logger.Warn("repairing watch stats",
			"user_id", userID,
			"error", checkErr,
		)
		s.TotalTokens = s.ExpectedTokens()
		s.AvailableTokens = max(0, s.ExpectedAvailable())
		repaired = true
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	return s, repaired, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// mutateStats runs apply against a fresh copy of the user's record and
// commits it with compare-and-swap. Missing records start zeroed.
func (e *Engine) mutateStats(ctx context.Context, name, userID string, apply func(*stats.WatchStats) (bool, error)) (*stats.WatchStats, error) {
	return runCAS(ctx, e, casOp[*stats.WatchStats]{
		name: name,
		load: func(ctx context.Context) (*stats.WatchStats, int64, error) {
			s, err := e.store.GetWatchStats(ctx, userID)
			if IsNotFound(err) {
				now := e.now()
				s = stats.New(userID)
				s.CreatedAt = now
				s.UpdatedAt = now
				s.LastUpdated = now
				return s, 0, nil
			}
			if err != nil {
				return nil, 0, err
			}
			return s, s.Version, nil
		},
		apply: func(s *stats.WatchStats) (bool, error) {
			write, err := apply(s)
			if write {
				now := e.now()
				s.UpdatedAt = now
				s.LastUpdated = now
			}
			return write, err
		},
		put: e.store.PutWatchStats,
	})
}
