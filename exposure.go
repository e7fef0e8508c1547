package watchledger

import (
	"context"
	"fmt"

	"github.com/xraph/watchledger/pool"
)

// ConsumeVideoToken records one exposure of videoID against its pool.
// An empty pool fails with ErrTokenPoolExhausted and is marked inactive if
// it was still flagged active. Missing pools fail with ErrPoolNotFound.
func (e *Engine) ConsumeVideoToken(ctx context.Context, videoID string) (*pool.VideoTokenPool, error) {
	if videoID == "" {
		return nil, ValidationError{Field: "video_id", Message: "required"}
	}

	p, err := e.mutatePool(ctx, "consume_video_token", videoID, false, func(p *pool.VideoTokenPool) (bool, error) {
		if p.Exhausted() {
			exhausted := fmt.Errorf("%w: video %s", ErrTokenPoolExhausted, videoID)
			if p.IsActive {
				p.IsActive = false
				return true, exhausted
			}
			return false, exhausted
		}
		p.RemainingTokens--
		p.TotalExposures++
		p.IsActive = p.RemainingTokens > 0
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.plugins.EmitExposureConsumed(ctx, videoID, p.RemainingTokens)
	if p.Exhausted() {
		e.plugins.EmitPoolExhausted(ctx, videoID)
		e.logger.Info("video token pool exhausted",
			"video_id", videoID,
			"total_exposures", p.TotalExposures,
		)
	}
	return p, nil
}

// AllocateVideoTokens adds tokens to videoID's pool, creating it when
// needed, and re-activates it.
func (e *Engine) AllocateVideoTokens(ctx context.Context, videoID string, tokens int64) (*pool.VideoTokenPool, error) {
	if videoID == "" {
		return nil, ValidationError{Field: "video_id", Message: "required"}
	}
	if tokens <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, tokens)
	}

	p, err := e.mutatePool(ctx, "allocate_video_tokens", videoID, true, func(p *pool.VideoTokenPool) (bool, error) {
		p.AllocatedTokens += tokens
		p.RemainingTokens += tokens
		p.IsActive = p.RemainingTokens > 0
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.plugins.EmitPoolAllocated(ctx, videoID, tokens)
	return p, nil
}

// GetVideoPool returns videoID's pool.
func (e *Engine) GetVideoPool(ctx context.Context, videoID string) (*pool.VideoTokenPool, error) {
	return e.store.GetVideoPool(ctx, videoID)
}

// ListVideoPools lists pools.
func (e *Engine) ListVideoPools(ctx context.Context, opts pool.ListOpts) ([]*pool.VideoTokenPool, error) {
	return e.store.ListVideoPools(ctx, opts)
}

// FilterActiveVideos keeps the videos that may still be surfaced. It is
// pure: only the token fields on the records are consulted.
func (e *Engine) FilterActiveVideos(videos []pool.Video) []pool.Video {
	return pool.FilterActive(videos)
}

// ActiveVideos annotates each listing record with its stored pool, if any,
// then filters. Videos without a pool keep whatever fields they carried.
func (e *Engine) ActiveVideos(ctx context.Context, videos []pool.Video) ([]pool.Video, error) {
	annotated := make([]pool.Video, 0, len(videos))
	for _, v := range videos {
		p, err := e.store.GetVideoPool(ctx, v.ID)
		switch {
		case err == nil:
			v = p.Annotate(v)
		case IsNotFound(err):
		default:
			return nil, err
		}
		annotated = append(annotated, v)
	}
	return pool.FilterActive(annotated), nil
}

// mutatePool runs apply against a fresh copy of videoID's pool. With create
// set, a missing pool starts empty; otherwise it fails with ErrPoolNotFound.
func (e *Engine) mutatePool(ctx context.Context, name, videoID string, create bool, apply func(*pool.VideoTokenPool) (bool, error)) (*pool.VideoTokenPool, error) {
	return runCAS(ctx, e, casOp[*pool.VideoTokenPool]{
		name: name,
		load: func(ctx context.Context) (*pool.VideoTokenPool, int64, error) {
			p, err := e.store.GetVideoPool(ctx, videoID)
			if IsNotFound(err) {
				if !create {
					return nil, 0, fmt.Errorf("%w: video %s", ErrPoolNotFound, videoID)
				}
				now := e.now()
				p = pool.New(videoID)
				p.CreatedAt = now
				p.UpdatedAt = now
				return p, 0, nil
			}
			if err != nil {
				return nil, 0, err
			}
			return p, p.Version, nil
		},
		apply: func(p *pool.VideoTokenPool) (bool, error) {
			write, err := apply(p)
			if write {
				p.UpdatedAt = e.now()
			}
			return write, err
		},
		put: e.store.PutVideoPool,
	})
}
