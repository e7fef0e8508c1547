// Package pool defines per-video token pools. Each exposure of a video
// consumes one unit of its pool; a drained pool deactivates the video.
package pool

import (
	"github.com/xraph/watchledger/types"
)

// VideoTokenPool is the persisted exposure budget of one video.
type VideoTokenPool struct {
	types.Entity
	VideoID         string `json:"video_id"`
	AllocatedTokens int64  `json:"allocated_tokens"`
	RemainingTokens int64  `json:"remaining_tokens"`
	TotalExposures  int64  `json:"total_exposures"`
	IsActive        bool   `json:"is_active"`
	Version         int64  `json:"version"`
}

// New returns an empty, inactive pool for videoID.
func New(videoID string) *VideoTokenPool {
	return &VideoTokenPool{
		Entity:  types.NewEntity(),
		VideoID: videoID,
	}
}

// Clone returns a copy.
func (p *VideoTokenPool) Clone() *VideoTokenPool {
	c := *p
	return &c
}

// Exhausted reports whether no exposures remain.
func (p *VideoTokenPool) Exhausted() bool {
	return p.RemainingTokens <= 0
}

// Annotate copies the pool's token fields onto a listing record.
func (p *VideoTokenPool) Annotate(v Video) Video {
	allocated, remaining, active := p.AllocatedTokens, p.RemainingTokens, p.IsActive
	v.AllocatedTokens = &allocated
	v.RemainingTokens = &remaining
	v.IsActive = &active
	return v
}

// Video is a listing record as collaborators hand it over. The token fields
// are optional: videos created before pools existed carry none of them.
type Video struct {
	ID              string `json:"id"`
	Title           string `json:"title,omitempty"`
	RoomID          string `json:"room_id,omitempty"`
	AllocatedTokens *int64 `json:"allocated_tokens,omitempty"`
	RemainingTokens *int64 `json:"remaining_tokens,omitempty"`
	IsActive        *bool  `json:"is_active,omitempty"`
}

// Legacy reports whether the record lacks every token field.
func (v Video) Legacy() bool {
	return v.AllocatedTokens == nil && v.RemainingTokens == nil && v.IsActive == nil
}

// Active reports whether the video may still be surfaced. Legacy videos are
// always active; otherwise the video must not be flagged inactive and must
// have tokens remaining.
func (v Video) Active() bool {
	if v.Legacy() {
		return true
	}
	if v.IsActive != nil && !*v.IsActive {
		return false
	}
	return v.RemainingTokens != nil && *v.RemainingTokens > 0
}

// FilterActive returns the active videos in their original order.
func FilterActive(videos []Video) []Video {
	out := make([]Video, 0, len(videos))
	for _, v := range videos {
		if v.Active() {
			out = append(out, v)
		}
	}
	return out
}
