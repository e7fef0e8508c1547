package history

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnresolved is returned when no catalog knows a usable duration for a
// watched video.
var ErrUnresolved = errors.New("history: video duration unresolved")

// Catalog is the lookup side of Store.
type Catalog interface {
	GetCatalogVideo(ctx context.Context, roomID, videoID string) (*CatalogVideo, error)
	ListCatalogRooms(ctx context.Context, videoID string) ([]string, error)
}

// Resolver finds a watched video's nominal duration: the global catalog
// first, then the event's own room, then any room listing the video.
type Resolver struct {
	catalog Catalog
	isMiss  func(error) bool
}

// NewResolver returns a Resolver over catalog. isMiss reports whether a
// lookup error means the entry does not exist; such misses fall through to
// the next catalog. Any other lookup error aborts resolution. A nil isMiss
// treats every error as fatal.
func NewResolver(catalog Catalog, isMiss func(error) bool) *Resolver {
	if isMiss == nil {
		isMiss = func(error) bool { return false }
	}
	return &Resolver{catalog: catalog, isMiss: isMiss}
}

// Duration returns the nominal duration in seconds. When every catalog
// misses, the error wraps ErrUnresolved. A lookup failure that is not a miss
// is returned as is, without ErrUnresolved, so callers can retry later.
func (r *Resolver) Duration(ctx context.Context, e *WatchEvent) (int64, error) {
	try := func(roomID string) (int64, bool, error) {
		v, err := r.catalog.GetCatalogVideo(ctx, roomID, e.VideoID)
		if err != nil {
			if r.isMiss(err) {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("history: lookup %s in room %q: %w", e.VideoID, roomID, err)
		}
		if v == nil || v.DurationSeconds <= 0 {
			return 0, false, nil
		}
		return v.DurationSeconds, true, nil
	}

	if d, ok, err := try(""); err != nil || ok {
		return d, err
	}
	if e.RoomID != "" {
		if d, ok, err := try(e.RoomID); err != nil || ok {
			return d, err
		}
	}

	rooms, err := r.catalog.ListCatalogRooms(ctx, e.VideoID)
	if err != nil {
		return 0, fmt.Errorf("history: list rooms for %s: %w", e.VideoID, err)
	}
	for _, room := range rooms {
		if room == "" || room == e.RoomID {
			continue
		}
		if d, ok, err := try(room); err != nil || ok {
			return d, err
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnresolved, e.VideoID)
}
