package extension

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/watchledger/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	e := &Extension{}
	cfg := e.mergeWithDefaults(Config{IntakeBatchSize: 7})

	assert.Equal(t, 7, cfg.IntakeBatchSize)
	assert.Equal(t, 5*time.Second, cfg.IntakeFlushInterval)
	assert.Equal(t, uint(10), cfg.MaxAttempts)
	assert.Equal(t, int64(1), cfg.BasicTokens)
	assert.Equal(t, int64(60), cfg.RetroactiveWatchPercent)
}

func TestMergeConfigurations(t *testing.T) {
	e := &Extension{}
	yamlCfg := Config{ReconcileDelay: time.Second}
	programmatic := Config{
		ReconcileDelay:    time.Minute,
		MaxAttempts:       3,
		DisableMigrate:    true,
		DisableBasicGrant: true,
	}

	cfg := e.mergeConfigurations(yamlCfg, programmatic)
	assert.Equal(t, time.Second, cfg.ReconcileDelay, "file wins")
	assert.Equal(t, uint(3), cfg.MaxAttempts, "programmatic fills gaps")
	assert.True(t, cfg.DisableMigrate)
	assert.True(t, cfg.DisableBasicGrant)
	assert.Equal(t, 100, cfg.IntakeBatchSize)
}

func TestOptions(t *testing.T) {
	s := memory.New()
	e := New(
		WithStore(s),
		WithIntakeBatchSize(5),
		WithMaxAttempts(4),
		WithDisableMigrate(),
		WithRetroactiveWatchPercent(50),
	)

	assert.Same(t, s, e.store)
	assert.Equal(t, 5, e.config.IntakeBatchSize)
	assert.Equal(t, uint(4), e.config.MaxAttempts)
	assert.True(t, e.config.DisableMigrate)
	assert.Equal(t, int64(50), e.config.RetroactiveWatchPercent)
}

func TestSkipMigrate(t *testing.T) {
	s := memory.New()
	wrapped := skipMigrate{s}

	require.NoError(t, wrapped.Migrate(context.Background()))
	require.NoError(t, wrapped.Ping(context.Background()))
}
