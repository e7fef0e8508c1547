package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the watchledger store.
var Migrations = migrate.NewGroup("watchledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_watchledger_stats",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS watchledger_stats (
    user_id                 TEXT PRIMARY KEY,
    total_watch_seconds     BIGINT NOT NULL DEFAULT 0 CHECK (total_watch_seconds >= 0),
    total_tokens            BIGINT NOT NULL DEFAULT 0,
    spent_tokens            BIGINT NOT NULL DEFAULT 0,
    available_tokens        BIGINT NOT NULL DEFAULT 0 CHECK (available_tokens >= 0),
    basic_tokens_granted    BIGINT NOT NULL DEFAULT 0,
    basic_tokens_granted_at TIMESTAMPTZ,
    retroactive_granted_at  TIMESTAMPTZ,
    retroactive_seconds     BIGINT NOT NULL DEFAULT 0,
    retroactive_tokens      BIGINT NOT NULL DEFAULT 0,
    last_updated            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    version                 BIGINT NOT NULL DEFAULT 1,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS watchledger_stats`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_watchledger_video_pools",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS watchledger_video_pools (
    video_id         TEXT PRIMARY KEY,
    allocated_tokens BIGINT NOT NULL DEFAULT 0,
    remaining_tokens BIGINT NOT NULL DEFAULT 0 CHECK (remaining_tokens >= 0),
    total_exposures  BIGINT NOT NULL DEFAULT 0,
    is_active        BOOLEAN NOT NULL DEFAULT FALSE,
    version          BIGINT NOT NULL DEFAULT 1,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_watchledger_pools_active ON watchledger_video_pools (is_active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS watchledger_video_pools`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_watchledger_watch_events",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS watchledger_watch_events (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    video_id   TEXT NOT NULL,
    room_id    TEXT NOT NULL DEFAULT '',
    watched_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_watchledger_events_user ON watchledger_watch_events (user_id, watched_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS watchledger_watch_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_watchledger_catalog",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS watchledger_catalog (
    room_id          TEXT NOT NULL DEFAULT '',
    video_id         TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    duration_seconds BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (room_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_watchledger_catalog_video ON watchledger_catalog (video_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS watchledger_catalog`)
				return err
			},
		},
	)
}
