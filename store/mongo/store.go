package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
	wlstore "github.com/xraph/watchledger/store"
)

// Collection name constants.
const (
	colStats       = "watchledger_stats"
	colVideoPools  = "watchledger_video_pools"
	colWatchEvents = "watchledger_watch_events"
	colCatalog     = "watchledger_catalog"
)

// compile-time interface check
var _ wlstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all watchledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("watchledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Watch stats ====================

func (s *Store) GetWatchStats(ctx context.Context, userID string) (*stats.WatchStats, error) {
	var m watchStatsModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, watchledger.ErrNotFound
		}
		return nil, fmt.Errorf("watchledger/mongo: get watch stats: %w", err)
	}
	return fromWatchStatsModel(&m), nil
}

// PutWatchStats inserts when expectedVersion is zero, treating a duplicate
// key as a lost race, and otherwise replaces the document only while its
// version still matches.
func (s *Store) PutWatchStats(ctx context.Context, ws *stats.WatchStats, expectedVersion int64) error {
	m := toWatchStatsModel(ws)
	m.Version = expectedVersion + 1

	if expectedVersion == 0 {
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return watchledger.ErrConflict
			}
			return fmt.Errorf("watchledger/mongo: create watch stats: %w", err)
		}
		ws.Version = m.Version
		return nil
	}

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.UserID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("watchledger/mongo: update watch stats: %w", err)
	}
	if res.MatchedCount() == 0 {
		return watchledger.ErrConflict
	}
	ws.Version = m.Version
	return nil
}

func (s *Store) ListWatchStats(ctx context.Context, opts stats.ListOpts) ([]*stats.WatchStats, error) {
	var models []watchStatsModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("watchledger/mongo: list watch stats: %w", err)
	}

	result := make([]*stats.WatchStats, len(models))
	for i := range models {
		result[i] = fromWatchStatsModel(&models[i])
	}
	return result, nil
}

// ==================== Video pools ====================

func (s *Store) GetVideoPool(ctx context.Context, videoID string) (*pool.VideoTokenPool, error) {
	var m videoPoolModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": videoID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, watchledger.ErrPoolNotFound
		}
		return nil, fmt.Errorf("watchledger/mongo: get video pool: %w", err)
	}
	return fromVideoPoolModel(&m), nil
}

func (s *Store) PutVideoPool(ctx context.Context, p *pool.VideoTokenPool, expectedVersion int64) error {
	m := toVideoPoolModel(p)
	m.Version = expectedVersion + 1

	if expectedVersion == 0 {
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return watchledger.ErrConflict
			}
			return fmt.Errorf("watchledger/mongo: create video pool: %w", err)
		}
		p.Version = m.Version
		return nil
	}

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.VideoID, "version": expectedVersion}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("watchledger/mongo: update video pool: %w", err)
	}
	if res.MatchedCount() == 0 {
		return watchledger.ErrConflict
	}
	p.Version = m.Version
	return nil
}

func (s *Store) ListVideoPools(ctx context.Context, opts pool.ListOpts) ([]*pool.VideoTokenPool, error) {
	filter := bson.M{}
	if opts.ActiveOnly {
		filter["is_active"] = true
	}

	var models []videoPoolModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("watchledger/mongo: list video pools: %w", err)
	}

	result := make([]*pool.VideoTokenPool, len(models))
	for i := range models {
		result[i] = fromVideoPoolModel(&models[i])
	}
	return result, nil
}

// ==================== History ====================

func (s *Store) RecordWatchEvent(ctx context.Context, e *history.WatchEvent) error {
	if _, err := s.mdb.NewInsert(toWatchEventModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("watchledger/mongo: record watch event: %w", err)
	}
	return nil
}

func (s *Store) ListWatchEvents(ctx context.Context, userID string) ([]*history.WatchEvent, error) {
	var models []watchEventModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID}).
		Sort(bson.D{{Key: "watched_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("watchledger/mongo: list watch events: %w", err)
	}

	result := make([]*history.WatchEvent, 0, len(models))
	for i := range models {
		e, err := fromWatchEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// ListWatchers groups events by user so the batch run only sees each user once.
func (s *Store) ListWatchers(ctx context.Context) ([]string, error) {
	pipeline := bson.A{
		bson.M{"$group": bson.M{"_id": "$user_id"}},
		bson.M{"$sort": bson.M{"_id": 1}},
	}

	cursor, err := s.mdb.Collection(colWatchEvents).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("watchledger/mongo: list watchers: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		UserID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("watchledger/mongo: list watchers decode: %w", err)
	}

	users := make([]string, len(results))
	for i, r := range results {
		users[i] = r.UserID
	}
	return users, nil
}

func (s *Store) PutCatalogVideo(ctx context.Context, v *history.CatalogVideo) error {
	m := toCatalogVideoModel(v)
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.Key}).
		SetUpdate(bson.M{"$set": bson.M{
			"_id":              m.Key,
			"room_id":          m.RoomID,
			"video_id":         m.VideoID,
			"title":            m.Title,
			"duration_seconds": m.DurationSeconds,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("watchledger/mongo: put catalog video: %w", err)
	}
	return nil
}

func (s *Store) GetCatalogVideo(ctx context.Context, roomID, videoID string) (*history.CatalogVideo, error) {
	var m catalogVideoModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": catalogKey(roomID, videoID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, watchledger.ErrNotFound
		}
		return nil, fmt.Errorf("watchledger/mongo: get catalog video: %w", err)
	}
	return fromCatalogVideoModel(&m), nil
}

func (s *Store) ListCatalogRooms(ctx context.Context, videoID string) ([]string, error) {
	var models []catalogVideoModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"video_id": videoID, "room_id": bson.M{"$ne": ""}}).
		Sort(bson.D{{Key: "room_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("watchledger/mongo: list catalog rooms: %w", err)
	}

	rooms := make([]string, len(models))
	for i := range models {
		rooms[i] = models[i].RoomID
	}
	return rooms, nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all watchledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colStats: {
			{Keys: bson.D{{Key: "_id", Value: 1}, {Key: "version", Value: 1}}},
		},
		colVideoPools: {
			{Keys: bson.D{{Key: "is_active", Value: 1}}},
		},
		colWatchEvents: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "watched_at", Value: 1}}},
		},
		colCatalog: {
			{
				Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "video_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "video_id", Value: 1}}},
		},
	}
}
