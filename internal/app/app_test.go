package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobby-s-dev/trip-planner/internal/apperrors"
	"github.com/bobby-s-dev/trip-planner/internal/config"
	"github.com/bobby-s-dev/trip-planner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Pipeline.Cities = []string{"Paris"}
	cfg.Pipeline.Country = "france"
	cfg.Pipeline.TopN = 5
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.Weights = models.DefaultScoreWeights()
	cfg.Weather.Provider = "openmeteo"
	cfg.Warehouse.Driver = "sqlite"
	cfg.Warehouse.DSN = ":memory:"
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = filepath.Join(t.TempDir(), "data")
	cfg.Storage.Prefix = "plan"
	cfg.Cache.Backend = "memory"
	cfg.Cache.MaxSize = 10
	cfg.Cache.CleanupInterval = time.Minute
	cfg.HTTP.Timeout = time.Second
	return cfg
}

func TestBuild_LocalStack(t *testing.T) {
	a, err := Build(context.Background(), localConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Ranking)
	assert.Equal(t, "local", a.Store.Type())
	assert.False(t, a.Pipeline.Running())

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	names, err := a.Artifacts.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestBuild_UnknownStorage(t *testing.T) {
	cfg := localConfig(t)
	cfg.Storage.Backend = "s3"

	a, err := Build(context.Background(), cfg, zap.NewNop())
	defer a.Close()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := localConfig(t)
	cfg.Weather.Provider = "darksky"

	a, err := Build(context.Background(), cfg, zap.NewNop())
	defer a.Close()
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestBuild_RedisUnavailable(t *testing.T) {
	cfg := localConfig(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	a, err := Build(ctx, cfg, zap.NewNop())
	defer a.Close()
	assert.Error(t, err)
}
