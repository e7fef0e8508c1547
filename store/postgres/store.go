package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	watchledger "github.com/xraph/watchledger"
	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
	wlstore "github.com/xraph/watchledger/store"
)

// compile-time interface check
var _ wlstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("watchledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("watchledger/postgres: migration failed: %w", err)
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
	m := new(watchStatsModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, watchledger.ErrNotFound
		}
		return nil, err
	}
	return fromWatchStatsModel(m), nil
}

// PutWatchStats inserts when expectedVersion is zero and otherwise updates
// only the row still at expectedVersion.
func (s *Store) PutWatchStats(ctx context.Context, ws *stats.WatchStats, expectedVersion int64) error {
	m := toWatchStatsModel(ws)
	m.Version = expectedVersion + 1

	if expectedVersion == 0 {
		res, err := s.pg.NewInsert(m).
			OnConflict("(user_id) DO NOTHING").
			Exec(ctx)
		if err := checkSwapped(res, err); err != nil {
			return err
		}
	} else {
		res, err := s.pg.NewUpdate((*watchStatsModel)(nil)).
			Set("total_watch_seconds = $1", m.TotalWatchSeconds).
			Set("total_tokens = $2", m.TotalTokens).
			Set("spent_tokens = $3", m.SpentTokens).
			Set("available_tokens = $4", m.AvailableTokens).
			Set("basic_tokens_granted = $5", m.BasicTokensGranted).
			Set("basic_tokens_granted_at = $6", m.BasicTokensGrantedAt).
			Set("retroactive_granted_at = $7", m.RetroactiveGrantedAt).
			Set("retroactive_seconds = $8", m.RetroactiveSeconds).
			Set("retroactive_tokens = $9", m.RetroactiveTokens).
			Set("last_updated = $10", m.LastUpdated).
			Set("updated_at = $11", m.UpdatedAt).
			Set("version = $12", m.Version).
			Where("user_id = $13", m.UserID).
			Where("version = $14", expectedVersion).
			Exec(ctx)
		if err := checkSwapped(res, err); err != nil {
			return err
		}
	}
	ws.Version = m.Version
	return nil
}

func (s *Store) ListWatchStats(ctx context.Context, opts stats.ListOpts) ([]*stats.WatchStats, error) {
	var models []watchStatsModel
	q := s.pg.NewSelect(&models).OrderExpr("user_id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*stats.WatchStats, len(models))
	for i := range models {
		result[i] = fromWatchStatsModel(&models[i])
	}
	return result, nil
}

// ==================== Video pools ====================

func (s *Store) GetVideoPool(ctx context.Context, videoID string) (*pool.VideoTokenPool, error) {
	m := new(videoPoolModel)
	err := s.pg.NewSelect(m).
		Where("video_id = $1", videoID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, watchledger.ErrPoolNotFound
		}
		return nil, err
	}
	return fromVideoPoolModel(m), nil
}

func (s *Store) PutVideoPool(ctx context.Context, p *pool.VideoTokenPool, expectedVersion int64) error {
	m := toVideoPoolModel(p)
	m.Version = expectedVersion + 1

	if expectedVersion == 0 {
		res, err := s.pg.NewInsert(m).
			OnConflict("(video_id) DO NOTHING").
			Exec(ctx)
		if err := checkSwapped(res, err); err != nil {
			return err
		}
	} else {
		res, err := s.pg.NewUpdate((*videoPoolModel)(nil)).
			Set("allocated_tokens = $1", m.AllocatedTokens).
			Set("remaining_tokens = $2", m.RemainingTokens).
			Set("total_exposures = $3", m.TotalExposures).
			Set("is_active = $4", m.IsActive).
			Set("updated_at = $5", m.UpdatedAt).
			Set("version = $6", m.Version).
			Where("video_id = $7", m.VideoID).
			Where("version = $8", expectedVersion).
			Exec(ctx)
		if err := checkSwapped(res, err); err != nil {
			return err
		}
	}
	p.Version = m.Version
	return nil
}

func (s *Store) ListVideoPools(ctx context.Context, opts pool.ListOpts) ([]*pool.VideoTokenPool, error) {
	var models []videoPoolModel
	q := s.pg.NewSelect(&models)
	if opts.ActiveOnly {
		q = q.Where("is_active = $1", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("video_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*pool.VideoTokenPool, len(models))
	for i := range models {
		result[i] = fromVideoPoolModel(&models[i])
	}
	return result, nil
}

// ==================== History ====================

func (s *Store) RecordWatchEvent(ctx context.Context, e *history.WatchEvent) error {
	_, err := s.pg.NewInsert(toWatchEventModel(e)).Exec(ctx)
	return err
}

func (s *Store) ListWatchEvents(ctx context.Context, userID string) ([]*history.WatchEvent, error) {
	var models []watchEventModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		OrderExpr("watched_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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

func (s *Store) ListWatchers(ctx context.Context) ([]string, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT DISTINCT user_id FROM watchledger_watch_events
		ORDER BY user_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) PutCatalogVideo(ctx context.Context, v *history.CatalogVideo) error {
	_, err := s.pg.NewInsert(toCatalogVideoModel(v)).
		OnConflict("(room_id, video_id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("duration_seconds = EXCLUDED.duration_seconds").
		Exec(ctx)
	return err
}

func (s *Store) GetCatalogVideo(ctx context.Context, roomID, videoID string) (*history.CatalogVideo, error) {
	m := new(catalogVideoModel)
	err := s.pg.NewSelect(m).
		Where("room_id = $1", roomID).
		Where("video_id = $2", videoID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, watchledger.ErrNotFound
		}
		return nil, err
	}
	return fromCatalogVideoModel(m), nil
}

func (s *Store) ListCatalogRooms(ctx context.Context, videoID string) ([]string, error) {
	var models []catalogVideoModel
	err := s.pg.NewSelect(&models).
		Where("video_id = $1", videoID).
		Where("room_id <> ''").
		OrderExpr("room_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	rooms := make([]string, len(models))
	for i := range models {
		rooms[i] = models[i].RoomID
	}
	return rooms, nil
}

// ==================== Helpers ====================

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// checkSwapped maps a write that touched no row to ErrConflict.
func checkSwapped(res rowsAffecter, err error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return watchledger.ErrConflict
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
