package history

import "context"

// Store persists historical watch events and catalog entries.
type Store interface {
	RecordWatchEvent(ctx context.Context, e *WatchEvent) error
	ListWatchEvents(ctx context.Context, userID string) ([]*WatchEvent, error)
	// ListWatchers returns the distinct users with at least one event,
	// ordered by user ID.
	ListWatchers(ctx context.Context) ([]string, error)

	PutCatalogVideo(ctx context.Context, v *CatalogVideo) error
	// GetCatalogVideo looks up videoID in roomID's catalog; an empty roomID
	// selects the global catalog.
	GetCatalogVideo(ctx context.Context, roomID, videoID string) (*CatalogVideo, error)
	// ListCatalogRooms returns every room whose sub-catalog lists videoID.
	ListCatalogRooms(ctx context.Context, videoID string) ([]string, error)
}
