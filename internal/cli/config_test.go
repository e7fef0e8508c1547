package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, errs := LoadConfig("")
	require.Empty(t, errs)

	assert.Equal(t, DefaultBackend, cfg.Backend)
	assert.Equal(t, DefaultRedisAddr, cfg.RedisAddr)
	assert.Equal(t, DefaultRedisPrefix, cfg.RedisPrefix)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultReconcileDelay, cfg.ReconcileDelay)
	assert.Equal(t, DefaultRetroactiveWatchPercent, cfg.RetroactiveWatchPercent)
}

func TestLoadConfigFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: redis
redis_addr: cache:6379
redis_prefix: staging
max_attempts: 4
reconcile_delay: 250ms
retroactive_watch_percent: 75
`), 0o600))

	t.Setenv("WATCHLEDGER_REDIS_ADDR", "override:6380")
	t.Setenv("WATCHLEDGER_MAX_ATTEMPTS", "6")

	cfg, errs := LoadConfig(path)
	require.Empty(t, errs)

	assert.Equal(t, "override:6380", cfg.RedisAddr, "env wins over file")
	assert.Equal(t, 6, cfg.MaxAttempts)
	assert.Equal(t, "staging", cfg.RedisPrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconcileDelay)
	assert.Equal(t, 75, cfg.RetroactiveWatchPercent)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, errs := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Len(t, errs, 1)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		t.Setenv("WATCHLEDGER_BACKEND", "etcd")
		t.Setenv("WATCHLEDGER_RETROACTIVE_WATCH_PERCENT", "150")
		t.Setenv("WATCHLEDGER_REDIS_DB", "zero")

		_, errs := LoadConfig("")
		assert.Len(t, errs, 3)
		assert.ErrorIs(t, errs[0], ErrInvalidNumber)
		assert.Contains(t, errs, ErrUnknownBackend)
		assert.Contains(t, errs, ErrInvalidPercent)
	})

	t.Run("BadDuration", func(t *testing.T) {
		t.Setenv("WATCHLEDGER_RECONCILE_DELAY", "soon")
		_, errs := LoadConfig("")
		require.Len(t, errs, 1)
	})
}

func TestLogSummaryMasksPassword(t *testing.T) {
	cfg := &Config{RedisPassword: "hunter2"}
	assert.Equal(t, "****", cfg.LogSummary()["redis_password"])
}
