package watchledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/id"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/types"
)

// Branch identifies how a retroactive grant was computed.
type Branch string

const (
	// BranchTopUp tops up tokens owed for seconds already on the ledger.
	BranchTopUp Branch = "topup"
	// BranchHistory estimates seconds from historical watch events.
	BranchHistory Branch = "history"
)

// ReconcileResult describes one user's retroactive reconciliation.
// AlreadyGranted marks the idempotent no-op; it is not an error.
type ReconcileResult struct {
	UserID         string            `json:"user_id"`
	AlreadyGranted bool              `json:"already_granted"`
	Branch         Branch            `json:"branch,omitempty"`
	Seconds        int64             `json:"seconds"`
	TokensGranted  int64             `json:"tokens_granted"`
	EventsScanned  int               `json:"events_scanned"`
	EventsSkipped  int               `json:"events_skipped"`
	Stats          *stats.WatchStats `json:"stats"`
}

// UserError ties a batch failure to its user.
type UserError struct {
	UserID string
	Err    error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("watchledger: user %s: %v", e.UserID, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

// BatchResult aggregates a ReconcileAll run.
type BatchResult struct {
	RunID          id.ReconcileRunID `json:"run_id"`
	Users          int               `json:"users"`
	Granted        int               `json:"granted"`
	AlreadyGranted int               `json:"already_granted"`
	Failed         int               `json:"failed"`
	TokensGranted  int64             `json:"tokens_granted"`
	Errors         MultiError        `json:"-"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// historyEstimate is the branch (b) input derived from watch events.
type historyEstimate struct {
	seconds int64
	scanned int
	skipped int
}

// Reconcile applies the one-time retroactive grant for userID.
//
// The gate is re-checked inside the compare-and-swap, and the branch is
// chosen from the record that is actually written, so concurrent runs and
// concurrent watch-time cannot double grant.
func (e *Engine) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}

	var (
		result ReconcileResult
		est    *historyEstimate
	)
	s, err := e.mutateStats(ctx, "reconcile", userID, func(s *stats.WatchStats) (bool, error) {
		result = ReconcileResult{UserID: userID}
		if s.HasRetroactiveGrant() {
			result.AlreadyGranted = true
			return false, nil
		}

		if s.TotalWatchSeconds > 0 {
			result.Branch = BranchTopUp
			result.TokensGranted = max(0, s.ExpectedTokens()-s.TotalTokens)
		} else {
			if est == nil {
				var err error
				if est, err = e.estimateHistory(ctx, userID); err != nil {
					return false, err
				}
			}
			result.Branch = BranchHistory
			result.Seconds = est.seconds
			result.EventsScanned = est.scanned
			result.EventsSkipped = est.skipped

			s.TotalWatchSeconds += est.seconds
			result.TokensGranted = max(0, types.WatchTime(s.TotalWatchSeconds).Tokens()-s.TotalTokens)
		}

		now := e.now()
		s.TotalTokens += result.TokensGranted
		s.AvailableTokens += result.TokensGranted
		s.RetroactiveGrantedAt = &now
		s.RetroactiveSeconds = result.Seconds
		s.RetroactiveTokens = result.TokensGranted
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	result.Stats = s

	if result.AlreadyGranted {
		e.logger.Debug("retroactive grant already applied", "user_id", userID)
		return &result, nil
	}

	e.plugins.EmitReconciled(ctx, &result)
	if result.TokensGranted > 0 {
		e.plugins.EmitTokensEarned(ctx, userID, result.TokensGranted)
	}

	e.logger.Info("retroactive grant applied",
		"user_id", userID,
		"branch", string(result.Branch),
		"seconds", result.Seconds,
		"tokens", result.TokensGranted,
		"events_scanned", result.EventsScanned,
		"events_skipped", result.EventsSkipped,
	)
	return &result, nil
}

// estimateHistory credits a fixed share of each watched video's nominal
// duration. Events no catalog knows are skipped; any other lookup failure
// aborts the estimate so the gate stays open for a later run.
func (e *Engine) estimateHistory(ctx context.Context, userID string) (*historyEstimate, error) {
	events, err := e.store.ListWatchEvents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list watch events: %w", err)
	}

	est := &historyEstimate{scanned: len(events)}
	var nominal int64
	for _, ev := range events {
		d, err := e.resolver.Duration(ctx, ev)
		if err != nil && !errors.Is(err, history.ErrUnresolved) {
			return nil, fmt.Errorf("resolve %s: %w", ev.VideoID, err)
		}
		if err != nil {
			est.skipped++
			e.logger.Debug("skipping unresolved watch event",
				"user_id", userID,
				"video_id", ev.VideoID,
				"error", err,
			)
			continue
		}
		nominal += d
	}
	est.seconds = nominal * e.retroactivePercent / 100
	return est, nil
}

// ReconcileAll reconciles every user with at least one historical watch
// event, pausing between users. Per-user failures are collected, not fatal;
// the run is safe to repeat because finished users are gated. Cancelling ctx
// stops the run and returns the partial result with the context error.
func (e *Engine) ReconcileAll(ctx context.Context) (*BatchResult, error) {
	users, err := e.store.ListWatchers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watchers: %w", err)
	}

	limit := rate.Inf
	if e.reconcileDelay > 0 {
		limit = rate.Every(e.reconcileDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	res := &BatchResult{
		RunID:     id.NewReconcileRunID(),
		StartedAt: e.now(),
	}

	e.logger.Info("batch reconciliation started",
		"run_id", res.RunID.String(),
		"users", len(users),
	)

	var runErr error
	for _, userID := range users {
		if err := limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}

		res.Users++
		r, err := e.Reconcile(ctx, userID)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				res.Users--
				runErr = err
			} else {
				res.Failed++
				res.Errors.Add(&UserError{UserID: userID, Err: err})
				e.logger.Warn("reconciliation failed",
					"run_id", res.RunID.String(),
					"user_id", userID,
					"error", err,
				)
			}
		case r.AlreadyGranted:
			res.AlreadyGranted++
		default:
			res.Granted++
			res.TokensGranted += r.TokensGranted
		}
		if runErr != nil {
			break
		}
	}
	res.FinishedAt = e.now()

	e.plugins.EmitBatchReconciled(ctx, res)
	e.logger.Info("batch reconciliation finished",
		"run_id", res.RunID.String(),
		"users", res.Users,
		"granted", res.Granted,
		"already_granted", res.AlreadyGranted,
		"failed", res.Failed,
		"tokens", res.TokensGranted,
	)

	return res, runErr
}

// ResetRetroactiveGrant clears the user's retroactive gate so a later
// Reconcile may run again. Tokens already granted are kept. Registered
// ResetAuthorizer plugins must all approve.
func (e *Engine) ResetRetroactiveGrant(ctx context.Context, userID string) (*stats.WatchStats, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}
	if err := e.plugins.AuthorizeReset(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	var cleared bool
	s, err := e.mutateStats(ctx, "reset_retroactive_grant", userID, func(s *stats.WatchStats) (bool, error) {
		cleared = false
		if !s.HasRetroactiveGrant() {
			return false, nil
		}
		s.RetroactiveGrantedAt = nil
		s.RetroactiveSeconds = 0
		s.RetroactiveTokens = 0
		cleared = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if cleared {
		e.plugins.EmitRetroactiveReset(ctx, userID)
		e.logger.Info("retroactive grant reset", "user_id", userID)
	}
	return s, nil
}

// RecordWatchEvent stores a historical watch event, assigning its ID and
// timestamp when unset.
func (e *Engine) RecordWatchEvent(ctx context.Context, ev *history.WatchEvent) error {
	if ev.UserID == "" {
		return ValidationError{Field: "user_id", Message: "required"}
	}
	if ev.VideoID == "" {
		return ValidationError{Field: "video_id", Message: "required"}
	}
	if ev.ID.IsNil() {
		ev.ID = id.NewWatchEventID()
	}
	if ev.WatchedAt.IsZero() {
		ev.WatchedAt = e.now()
	}
	return e.store.RecordWatchEvent(ctx, ev)
}
