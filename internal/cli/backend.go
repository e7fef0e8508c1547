package cli

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/watchledger/store"
	"github.com/xraph/watchledger/store/memory"
	"github.com/xraph/watchledger/store/redis"
)

// OpenStore connects to the backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return redis.New(client, redis.WithPrefix(cfg.RedisPrefix)), nil
	default:
		return nil, ErrUnknownBackend
	}
}
