// Package memory provides an in-process Store for tests and single-node
// deployments. Records are copied on the way in and out, so callers never
// share memory with the store.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Ledger storage, keyed by user ID
	stats map[string]*stats.WatchStats

	// Pool storage, keyed by video ID
	pools map[string]*pool.VideoTokenPool

	// History: events per user, catalog keyed by room then video
	events  map[string][]*history.WatchEvent
	catalog map[string]map[string]*history.CatalogVideo
}

func New() *Store {
	return &Store{
		stats:   make(map[string]*stats.WatchStats),
		pools:   make(map[string]*pool.VideoTokenPool),
		events:  make(map[string][]*history.WatchEvent),
		catalog: make(map[string]map[string]*history.CatalogVideo),
	}
}

// Ledger Store implementation
func (s *Store) GetWatchStats(_ context.Context, userID string) (*stats.WatchStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	if ws, ok := s.stats[userID]; ok {
		return ws.Clone(), nil
	}
	return nil, watchledger.ErrNotFound
}

func (s *Store) PutWatchStats(_ context.Context, ws *stats.WatchStats, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return watchledger.ErrStoreClosed
	}
	if current := versionOf(s.stats[ws.UserID]); current != expectedVersion {
		return watchledger.ErrConflict
	}
	ws.Version = expectedVersion + 1
	s.stats[ws.UserID] = ws.Clone()
	return nil
}

func (s *Store) ListWatchStats(_ context.Context, opts stats.ListOpts) ([]*stats.WatchStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	result := make([]*stats.WatchStats, 0, len(s.stats))
	for _, ws := range s.stats {
		result = append(result, ws.Clone())
	}
	slices.SortFunc(result, func(a, b *stats.WatchStats) int { return strings.Compare(a.UserID, b.UserID) })

	return page(result, opts.Offset, opts.Limit), nil
}

// Pool Store implementation
func (s *Store) GetVideoPool(_ context.Context, videoID string) (*pool.VideoTokenPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	if p, ok := s.pools[videoID]; ok {
		return p.Clone(), nil
	}
	return nil, watchledger.ErrPoolNotFound
}

func (s *Store) PutVideoPool(_ context.Context, p *pool.VideoTokenPool, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return watchledger.ErrStoreClosed
	}
	var current int64
	if existing, ok := s.pools[p.VideoID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return watchledger.ErrConflict
	}
	p.Version = expectedVersion + 1
	s.pools[p.VideoID] = p.Clone()
	return nil
}

func (s *Store) ListVideoPools(_ context.Context, opts pool.ListOpts) ([]*pool.VideoTokenPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	result := make([]*pool.VideoTokenPool, 0, len(s.pools))
	for _, p := range s.pools {
		if opts.ActiveOnly && !p.IsActive {
			continue
		}
		result = append(result, p.Clone())
	}
	slices.SortFunc(result, func(a, b *pool.VideoTokenPool) int { return strings.Compare(a.VideoID, b.VideoID) })

	return page(result, opts.Offset, opts.Limit), nil
}

// History Store implementation
func (s *Store) RecordWatchEvent(_ context.Context, e *history.WatchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return watchledger.ErrStoreClosed
	}
	ev := *e
	s.events[e.UserID] = append(s.events[e.UserID], &ev)
	return nil
}

func (s *Store) ListWatchEvents(_ context.Context, userID string) ([]*history.WatchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	events := s.events[userID]
	result := make([]*history.WatchEvent, 0, len(events))
	for _, e := range events {
		ev := *e
		result = append(result, &ev)
	}
	slices.SortStableFunc(result, func(a, b *history.WatchEvent) int { return a.WatchedAt.Compare(b.WatchedAt) })
	return result, nil
}

func (s *Store) ListWatchers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	users := make([]string, 0, len(s.events))
	for userID, events := range s.events {
		if len(events) > 0 {
			users = append(users, userID)
		}
	}
	slices.Sort(users)
	return users, nil
}

func (s *Store) PutCatalogVideo(_ context.Context, v *history.CatalogVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return watchledger.ErrStoreClosed
	}
	room, ok := s.catalog[v.RoomID]
	if !ok {
		room = make(map[string]*history.CatalogVideo)
		s.catalog[v.RoomID] = room
	}
	cv := *v
	room[v.VideoID] = &cv
	return nil
}

func (s *Store) GetCatalogVideo(_ context.Context, roomID, videoID string) (*history.CatalogVideo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	if v, ok := s.catalog[roomID][videoID]; ok {
		cv := *v
		return &cv, nil
	}
	return nil, watchledger.ErrNotFound
}

func (s *Store) ListCatalogRooms(_ context.Context, videoID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, watchledger.ErrStoreClosed
	}
	var rooms []string
	for roomID, videos := range s.catalog {
		if roomID == "" {
			continue
		}
		if _, ok := videos[videoID]; ok {
			rooms = append(rooms, roomID)
		}
	}
	slices.Sort(rooms)
	return rooms, nil
}

// Store management
func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return watchledger.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Helper functions
func versionOf(ws *stats.WatchStats) int64 {
	if ws == nil {
		return 0
	}
	return ws.Version
}

func page[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
