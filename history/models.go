// Package history holds the watch activity recorded before the ledger and
// the catalog used to price it during reconciliation.
package history

import (
	"time"

	"github.com/xraph/watchledger/id"
)

// WatchEvent records that a user watched a video, without session detail.
type WatchEvent struct {
	ID        id.WatchEventID `json:"id"`
	UserID    string          `json:"user_id"`
	VideoID   string          `json:"video_id"`
	RoomID    string          `json:"room_id,omitempty"`
	WatchedAt time.Time       `json:"watched_at"`
}

// CatalogVideo is a catalog entry carrying a video's nominal duration.
// An empty RoomID places it in the global catalog; otherwise it belongs to
// that room's sub-catalog.
type CatalogVideo struct {
	VideoID         string `json:"video_id"`
	RoomID          string `json:"room_id,omitempty"`
	Title           string `json:"title,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// Global reports whether the entry belongs to the global catalog.
func (c *CatalogVideo) Global() bool { return c.RoomID == "" }
