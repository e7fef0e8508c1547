// Package watchledger attributes watch-time to users and converts it into a
// redeemable token currency.
//
// Watchledger is designed as a library, not a service. Import it directly into
// your Go application and back it with the store of your choice. It provides:
//
//   - Watch-time estimation for videos playing in an unobservable external tab
//   - A play/pause accumulator for players the host controls
//   - A per-user ledger with compare-and-swap commits and bounded retry
//   - Per-video exposure pools that deactivate videos once drained
//   - One-time retroactive reconciliation of pre-ledger watch history
//   - Lifecycle hooks for metrics, auditing and authorization
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/watchledger"
//	    "github.com/xraph/watchledger/store/memory"
//	)
//
//	engine := watchledger.New(memory.New())
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// Watch-time is committed in whole seconds. Every 600 accumulated seconds
// mint one token, always as floor(total/600), so the token count is a pure
// function of the watch total:
//
//	res, err := engine.AddWatchTime(ctx, userID, 650)
//	// res.Stats.TotalTokens == 1, res.NewTokensEarned == 1
//
// Tokens are spent all or nothing:
//
//	_, err := engine.SpendTokens(ctx, userID, 5)
//	if errors.Is(err, watchledger.ErrInsufficientTokens) {
//	    // balance untouched
//	}
//
// Sessions in an external tab are estimated from host-window focus and blur
// and committed once they finish:
//
//	tr, _ := estimator.Track(estimator.Video{ID: "v1", NominalDurationSeconds: 300},
//	    estimator.WithOnFinish(func(r estimator.Result) {
//	        engine.RecordSession(ctx, userID, r)
//	    }),
//	)
//	window.OnBlur(tr.Blur)
//	window.OnFocus(tr.Focus)
//
// Each exposure of a video consumes one unit of its pool:
//
//	_, err := engine.ConsumeVideoToken(ctx, videoID)
//	if errors.Is(err, watchledger.ErrTokenPoolExhausted) {
//	    // stop surfacing the video
//	}
//
// # Consistency
//
// Every mutation reads one document, applies the change to a copy and writes
// it back only if the document's version is unchanged. Conflicts are retried
// with exponential backoff. Because each delta is computed from the stored
// value, a retry never double counts. Users and videos are independent
// serialization domains; nothing locks across documents.
//
// # Reconciliation
//
// Reconcile backfills tokens once per user. Users whose ledger already holds
// seconds are topped up to floor(seconds/600); users without any are credited
// 60% of the nominal duration of every video in their watch history. The
// grant timestamp on the record is the idempotency gate, re-checked inside
// the same compare-and-swap that writes the grant.
package watchledger
