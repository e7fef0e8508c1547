package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/watchledger/history"
	"github.com/xraph/watchledger/id"
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/types"
)

// ==================== Watch stats models ====================

type watchStatsModel struct {
	grove.BaseModel `grove:"table:watchledger_stats"`

	UserID               string     `grove:"user_id,pk"`
	TotalWatchSeconds    int64      `grove:"total_watch_seconds"`
	TotalTokens          int64      `grove:"total_tokens"`
	SpentTokens          int64      `grove:"spent_tokens"`
	AvailableTokens      int64      `grove:"available_tokens"`
	BasicTokensGranted   int64      `grove:"basic_tokens_granted"`
	BasicTokensGrantedAt *time.Time `grove:"basic_tokens_granted_at"`
	RetroactiveGrantedAt *time.Time `grove:"retroactive_granted_at"`
	RetroactiveSeconds   int64      `grove:"retroactive_seconds"`
	RetroactiveTokens    int64      `grove:"retroactive_tokens"`
	LastUpdated          time.Time  `grove:"last_updated"`
	Version              int64      `grove:"version"`
	CreatedAt            time.Time  `grove:"created_at"`
	UpdatedAt            time.Time  `grove:"updated_at"`
}

func toWatchStatsModel(s *stats.WatchStats) *watchStatsModel {
	return &watchStatsModel{
		UserID:               s.UserID,
		TotalWatchSeconds:    s.TotalWatchSeconds,
		TotalTokens:          s.TotalTokens,
		SpentTokens:          s.SpentTokens,
		AvailableTokens:      s.AvailableTokens,
		BasicTokensGranted:   s.BasicTokensGranted,
		BasicTokensGrantedAt: s.BasicTokensGrantedAt,
		RetroactiveGrantedAt: s.RetroactiveGrantedAt,
		RetroactiveSeconds:   s.RetroactiveSeconds,
		RetroactiveTokens:    s.RetroactiveTokens,
		LastUpdated:          s.LastUpdated,
		Version:              s.Version,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func fromWatchStatsModel(m *watchStatsModel) *stats.WatchStats {
	return &stats.WatchStats{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		UserID:               m.UserID,
		TotalWatchSeconds:    m.TotalWatchSeconds,
		TotalTokens:          m.TotalTokens,
		SpentTokens:          m.SpentTokens,
		AvailableTokens:      m.AvailableTokens,
		BasicTokensGranted:   m.BasicTokensGranted,
		BasicTokensGrantedAt: m.BasicTokensGrantedAt,
		RetroactiveGrantedAt: m.RetroactiveGrantedAt,
		RetroactiveSeconds:   m.RetroactiveSeconds,
		RetroactiveTokens:    m.RetroactiveTokens,
		LastUpdated:          m.LastUpdated,
		Version:              m.Version,
	}
}

// ==================== Video pool models ====================

type videoPoolModel struct {
	grove.BaseModel `grove:"table:watchledger_video_pools"`

	VideoID         string    `grove:"video_id,pk"`
	AllocatedTokens int64     `grove:"allocated_tokens"`
	RemainingTokens int64     `grove:"remaining_tokens"`
	TotalExposures  int64     `grove:"total_exposures"`
	IsActive        bool      `grove:"is_active"`
	Version         int64     `grove:"version"`
	CreatedAt       time.Time `grove:"created_at"`
	UpdatedAt       time.Time `grove:"updated_at"`
}

func toVideoPoolModel(p *pool.VideoTokenPool) *videoPoolModel {
	return &videoPoolModel{
		VideoID:         p.VideoID,
		AllocatedTokens: p.AllocatedTokens,
		RemainingTokens: p.RemainingTokens,
		TotalExposures:  p.TotalExposures,
		IsActive:        p.IsActive,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromVideoPoolModel(m *videoPoolModel) *pool.VideoTokenPool {
	return &pool.VideoTokenPool{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		VideoID:         m.VideoID,
		AllocatedTokens: m.AllocatedTokens,
		RemainingTokens: m.RemainingTokens,
		TotalExposures:  m.TotalExposures,
		IsActive:        m.IsActive,
		Version:         m.Version,
	}
}

// ==================== History models ====================

type watchEventModel struct {
	grove.BaseModel `grove:"table:watchledger_watch_events"`

	ID        string    `grove:"id,pk"`
	UserID    string    `grove:"user_id"`
	VideoID   string    `grove:"video_id"`
	RoomID    string    `grove:"room_id"`
	WatchedAt time.Time `grove:"watched_at"`
}

func toWatchEventModel(e *history.WatchEvent) *watchEventModel {
	return &watchEventModel{
		ID:        e.ID.String(),
		UserID:    e.UserID,
		VideoID:   e.VideoID,
		RoomID:    e.RoomID,
		WatchedAt: e.WatchedAt,
	}
}

func fromWatchEventModel(m *watchEventModel) (*history.WatchEvent, error) {
	eventID, err := id.ParseWatchEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &history.WatchEvent{
		ID:        eventID,
		UserID:    m.UserID,
		VideoID:   m.VideoID,
		RoomID:    m.RoomID,
		WatchedAt: m.WatchedAt,
	}, nil
}

type catalogVideoModel struct {
	grove.BaseModel `grove:"table:watchledger_catalog"`

	RoomID          string `grove:"room_id,pk"`
	VideoID         string `grove:"video_id,pk"`
	Title           string `grove:"title"`
	DurationSeconds int64  `grove:"duration_seconds"`
}

func toCatalogVideoModel(v *history.CatalogVideo) *catalogVideoModel {
	return &catalogVideoModel{
		RoomID:          v.RoomID,
		VideoID:         v.VideoID,
		Title:           v.Title,
		DurationSeconds: v.DurationSeconds,
	}
}

func fromCatalogVideoModel(m *catalogVideoModel) *history.CatalogVideo {
	return &history.CatalogVideo{
		VideoID:         m.VideoID,
		RoomID:          m.RoomID,
		Title:           m.Title,
		DurationSeconds: m.DurationSeconds,
	}
}
