// Package redis implements store.Store on Redis. Documents are CBOR-encoded
// and compare-and-swap runs as an optimistic WATCH/MULTI transaction on the
// document key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/id"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
	wlstore "github.com/xraph/watchledger/store"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "watchledger"

// compile-time interface check
var _ wlstore.Store = (*Store)(nil)

// Store implements store.Store using Redis.
type Store struct {
	client *redis.Client
	prefix string
	enc    cbor.EncMode
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a Redis store on an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	// RFC 3339 keeps sub-second precision on timestamps.
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("watchledger/redis: cbor enc mode: %v", err))
	}

	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		enc:    enc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() *redis.Client { return s.client }

// Migrate is a no-op; Redis needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.client.Ping(ctx).Err())
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ==================== Keys ====================

func (s *Store) statsKey(userID string) string  { return s.prefix + ":stats:" + userID }
func (s *Store) statsIndex() string             { return s.prefix + ":stats" }
func (s *Store) poolKey(videoID string) string  { return s.prefix + ":pool:" + videoID }
func (s *Store) poolIndex() string              { return s.prefix + ":pools" }
func (s *Store) eventsKey(userID string) string { return s.prefix + ":events:" + userID }
func (s *Store) watchersKey() string            { return s.prefix + ":watchers" }

func (s *Store) catalogKey(roomID, videoID string) string {
	return s.prefix + ":catalog:" + roomID + ":" + videoID
}

func (s *Store) catalogRoomsKey(videoID string) string {
	return s.prefix + ":catalog-rooms:" + videoID
}

// ==================== Watch stats ====================

func (s *Store) GetWatchStats(ctx context.Context, userID string) (*stats.WatchStats, error) {
	var ws stats.WatchStats
	if err := s.get(ctx, s.statsKey(userID), &ws); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, watchledger.ErrNotFound
		}
		return nil, err
	}
	return &ws, nil
}

func (s *Store) PutWatchStats(ctx context.Context, ws *stats.WatchStats, expectedVersion int64) error {
	next := ws.Clone()
	next.Version = expectedVersion + 1

	err := s.swap(ctx, s.statsKey(ws.UserID), expectedVersion, next, func(data []byte) (int64, error) {
		var current stats.WatchStats
		if err := cbor.Unmarshal(data, &current); err != nil {
			return 0, err
		}
		return current.Version, nil
	}, func(pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, s.statsIndex(), redis.Z{Member: ws.UserID})
	})
	if err != nil {
		return err
	}
	ws.Version = next.Version
	return nil
}

func (s *Store) ListWatchStats(ctx context.Context, opts stats.ListOpts) ([]*stats.WatchStats, error) {
	ids, err := s.rangeIndex(ctx, s.statsIndex(), opts.Offset, opts.Limit)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, userID := range ids {
		keys[i] = s.statsKey(userID)
	}

	result := make([]*stats.WatchStats, 0, len(keys))
	err = s.mget(ctx, keys, func(data []byte) error {
		var ws stats.WatchStats
		if err := cbor.Unmarshal(data, &ws); err != nil {
			return err
		}
		result = append(result, &ws)
		return nil
	})
	return result, err
}

// ==================== Video pools ====================

func (s *Store) GetVideoPool(ctx context.Context, videoID string) (*pool.VideoTokenPool, error) {
	var p pool.VideoTokenPool
	if err := s.get(ctx, s.poolKey(videoID), &p); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, watchledger.ErrPoolNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) PutVideoPool(ctx context.Context, p *pool.VideoTokenPool, expectedVersion int64) error {
	next := p.Clone()
	next.Version = expectedVersion + 1

	err := s.swap(ctx, s.poolKey(p.VideoID), expectedVersion, next, func(data []byte) (int64, error) {
		var current pool.VideoTokenPool
		if err := cbor.Unmarshal(data, &current); err != nil {
			return 0, err
		}
		return current.Version, nil
	}, func(pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, s.poolIndex(), redis.Z{Member: p.VideoID})
	})
	if err != nil {
		return err
	}
	p.Version = next.Version
	return nil
}

func (s *Store) ListVideoPools(ctx context.Context, opts pool.ListOpts) ([]*pool.VideoTokenPool, error) {
	// Paging applies after the active filter, so the index is read whole.
	ids, err := s.rangeIndex(ctx, s.poolIndex(), 0, 0)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, videoID := range ids {
		keys[i] = s.poolKey(videoID)
	}

	var result []*pool.VideoTokenPool
	err = s.mget(ctx, keys, func(data []byte) error {
		var p pool.VideoTokenPool
		if err := cbor.Unmarshal(data, &p); err != nil {
			return err
		}
		if !opts.ActiveOnly || p.IsActive {
			result = append(result, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page(result, opts.Offset, opts.Limit), nil
}

// ==================== History ====================

// eventRecord is the stored form of a watch event.
type eventRecord struct {
	ID        string    `cbor:"id"`
	UserID    string    `cbor:"user_id"`
	VideoID   string    `cbor:"video_id"`
	RoomID    string    `cbor:"room_id,omitempty"`
	WatchedAt time.Time `cbor:"watched_at"`
}

func (s *Store) RecordWatchEvent(ctx context.Context, e *history.WatchEvent) error {
	data, err := s.enc.Marshal(eventRecord{
		ID:        e.ID.String(),
		UserID:    e.UserID,
		VideoID:   e.VideoID,
		RoomID:    e.RoomID,
		WatchedAt: e.WatchedAt,
	})
	if err != nil {
		return fmt.Errorf("watchledger/redis: encode watch event: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.eventsKey(e.UserID), data)
		pipe.ZAdd(ctx, s.watchersKey(), redis.Z{Member: e.UserID})
		return nil
	})
	return mapErr(err)
}

func (s *Store) ListWatchEvents(ctx context.Context, userID string) ([]*history.WatchEvent, error) {
	raw, err := s.client.LRange(ctx, s.eventsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, mapErr(err)
	}

	events := make([]*history.WatchEvent, 0, len(raw))
	for _, item := range raw {
		var rec eventRecord
		if err := cbor.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("watchledger/redis: decode watch event: %w", err)
		}
		eventID, err := id.ParseWatchEventID(rec.ID)
		if err != nil {
			return nil, fmt.Errorf("watchledger/redis: decode watch event: %w", err)
		}
		events = append(events, &history.WatchEvent{
			ID:        eventID,
			UserID:    rec.UserID,
			VideoID:   rec.VideoID,
			RoomID:    rec.RoomID,
			WatchedAt: rec.WatchedAt,
		})
	}
	slices.SortStableFunc(events, func(a, b *history.WatchEvent) int { return a.WatchedAt.Compare(b.WatchedAt) })
	return events, nil
}

func (s *Store) ListWatchers(ctx context.Context) ([]string, error) {
	return s.rangeIndex(ctx, s.watchersKey(), 0, 0)
}

func (s *Store) PutCatalogVideo(ctx context.Context, v *history.CatalogVideo) error {
	data, err := s.enc.Marshal(v)
	if err != nil {
		return fmt.Errorf("watchledger/redis: encode catalog video: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.catalogKey(v.RoomID, v.VideoID), data, 0)
		if v.RoomID != "" {
			pipe.ZAdd(ctx, s.catalogRoomsKey(v.VideoID), redis.Z{Member: v.RoomID})
		}
		return nil
	})
	return mapErr(err)
}

func (s *Store) GetCatalogVideo(ctx context.Context, roomID, videoID string) (*history.CatalogVideo, error) {
	var v history.CatalogVideo
	if err := s.get(ctx, s.catalogKey(roomID, videoID), &v); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, watchledger.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListCatalogRooms(ctx context.Context, videoID string) ([]string, error) {
	return s.rangeIndex(ctx, s.catalogRoomsKey(videoID), 0, 0)
}

// ==================== Helpers ====================

// swap writes doc at key only while the stored version equals expected.
// A missing key counts as version zero. extra runs inside the same
// transaction.
func (s *Store) swap(
	ctx context.Context,
	key string,
	expected int64,
	doc any,
	version func([]byte) (int64, error),
	extra func(redis.Pipeliner),
) error {
	data, err := s.enc.Marshal(doc)
	if err != nil {
		return fmt.Errorf("watchledger/redis: encode %s: %w", key, err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if current, err = version(raw); err != nil {
				return fmt.Errorf("watchledger/redis: decode %s: %w", key, err)
			}
		}
		if current != expected {
			return watchledger.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			extra(pipe)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return watchledger.ErrConflict
	}
	return mapErr(err)
}

func (s *Store) get(ctx context.Context, key string, dst any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return err
		}
		return mapErr(err)
	}
	if err := cbor.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("watchledger/redis: decode %s: %w", key, err)
	}
	return nil
}

// mget fetches keys in order, skipping any that vanished.
func (s *Store) mget(ctx context.Context, keys []string, fn func([]byte) error) error {
	if len(keys) == 0 {
		return nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return mapErr(err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if err := fn([]byte(str)); err != nil {
			return fmt.Errorf("watchledger/redis: decode: %w", err)
		}
	}
	return nil
}

// rangeIndex reads a zero-scored sorted set, which Redis orders
// lexicographically by member.
func (s *Store) rangeIndex(ctx context.Context, key string, offset, limit int) ([]string, error) {
	start := int64(max(offset, 0))
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}
	members, err := s.client.ZRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	return members, nil
}

func mapErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %w", watchledger.ErrStoreClosed, err)
	}
	return err
}

func page[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
