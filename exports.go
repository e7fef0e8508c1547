package watchledger

import (
	"github.com/xraph/watchledger/pool"
	"github.com/xraph/watchledger/stats"
	"github.com/xraph/watchledger/types"
)

// Re-export common types for convenience so users don't have to import the
// model packages.

// WatchTime is re-exported from types package.
type WatchTime = types.WatchTime

// Entity is re-exported from types package.
type Entity = types.Entity

// WatchStats is re-exported from stats package.
type WatchStats = stats.WatchStats

// TokenView is re-exported from stats package.
type TokenView = stats.View

// VideoTokenPool is re-exported from pool package.
type VideoTokenPool = pool.VideoTokenPool

// Video is re-exported from pool package.
type Video = pool.Video

// SecondsPerToken is the watch-time that mints one token.
const SecondsPerToken = types.SecondsPerToken

// Re-export constructors
var (
	NewEntity   = types.NewEntity
	WatchTimeOf = types.WatchTimeOf
)
