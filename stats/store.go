package stats

import "context"

// Store persists WatchStats records.
//
// PutWatchStats is a compare-and-swap: it succeeds only if the stored
// version equals expectedVersion (0 means the record must not exist yet),
// and on success sets s.Version to expectedVersion+1. A mismatch returns
// watchledger.ErrConflict and writes nothing.
type Store interface {
	GetWatchStats(ctx context.Context, userID string) (*WatchStats, error)
	PutWatchStats(ctx context.Context, s *WatchStats, expectedVersion int64) error
	ListWatchStats(ctx context.Context, opts ListOpts) ([]*WatchStats, error)
}

// ListOpts pages through ledger records ordered by user ID.
type ListOpts struct {
	Limit  int
	Offset int
}
