package store

import (
	"context"

	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
)

// Store is the unified storage interface for all watchledger records.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// Put* methods are single-document compare-and-swap writes; backends without
// native transactions implement them with version counters.
type Store interface {
	// Ledger methods
	GetWatchStats(ctx context.Context, userID string) (*stats.WatchStats, error)
	PutWatchStats(ctx context.Context, s *stats.WatchStats, expectedVersion int64) error
	ListWatchStats(ctx context.Context, opts stats.ListOpts) ([]*stats.WatchStats, error)

	// Pool methods
	GetVideoPool(ctx context.Context, videoID string) (*pool.VideoTokenPool, error)
	PutVideoPool(ctx context.Context, p *pool.VideoTokenPool, expectedVersion int64) error
	ListVideoPools(ctx context.Context, opts pool.ListOpts) ([]*pool.VideoTokenPool, error)

	// History methods
	RecordWatchEvent(ctx context.Context, e *history.WatchEvent) error
	ListWatchEvents(ctx context.Context, userID string) ([]*history.WatchEvent, error)
	ListWatchers(ctx context.Context) ([]string, error)
	PutCatalogVideo(ctx context.Context, v *history.CatalogVideo) error
	GetCatalogVideo(ctx context.Context, roomID, videoID string) (*history.CatalogVideo, error)
	ListCatalogRooms(ctx context.Context, videoID string) ([]string, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ stats.Store     = (Store)(nil)
	_ pool.Store      = (Store)(nil)
	_ history.Store   = (Store)(nil)
	_ history.Catalog = (Store)(nil)
)
