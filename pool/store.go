package pool

import "context"

// Store persists token pools. PutVideoPool follows the same
// compare-and-swap contract as stats.Store.PutWatchStats.
type Store interface {
	GetVideoPool(ctx context.Context, videoID string) (*VideoTokenPool, error)
	PutVideoPool(ctx context.Context, p *VideoTokenPool, expectedVersion int64) error
	ListVideoPools(ctx context.Context, opts ListOpts) ([]*VideoTokenPool, error)
}

// ListOpts filters and pages pool listings ordered by video ID.
type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
