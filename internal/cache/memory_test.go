package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryCache_SetGet(t *testing.T) {
	c := NewMemoryCache(10, time.Minute, zap.NewNop())
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "geo:france:Paris", []byte(`[{"name":"Paris"}]`), time.Hour)

	data, ok := c.Get(ctx, "geo:france:Paris")
	require.True(t, ok)
	assert.Equal(t, `[{"name":"Paris"}]`, string(data))

	_, ok = c.Get(ctx, "geo:france:Lyon")
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(10, time.Minute, zap.NewNop())
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "weather:48.8566,2.3522", []byte("{}"), -time.Second)

	_, ok := c.Get(ctx, "weather:48.8566,2.3522")
	assert.False(t, ok)
	assert.Equal(t, 0, c.GetStats()["items"])
}

func TestMemoryCache_EvictsOldestWhenFull(t *testing.T) {
	c := NewMemoryCache(2, time.Minute, zap.NewNop())
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Hour)
	c.Set(ctx, "c", []byte("3"), time.Hour)

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok, "entry expiring first should be evicted")
	_, ok = c.Get(ctx, "b")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemoryCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewMemoryCache(2, time.Minute, zap.NewNop())
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Hour)
	c.Set(ctx, "b", []byte("2"), time.Hour)
	c.Set(ctx, "b", []byte("3"), time.Hour)

	data, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "1", string(data))
	data, ok = c.Get(ctx, "b")
	require.True(t, ok)
	assert.Equal(t, "3", string(data))
}

func TestMemoryCache_CleanupRemovesExpired(t *testing.T) {
	c := NewMemoryCache(10, time.Hour, zap.NewNop())
	defer c.Stop()
	ctx := context.Background()

	c.Set(ctx, "stale", []byte("x"), -time.Minute)
	c.Set(ctx, "fresh", []byte("y"), time.Hour)

	c.cleanup()

	assert.Equal(t, 1, c.GetStats()["items"])
}

func TestMemoryCache_StopIsIdempotent(t *testing.T) {
	c := NewMemoryCache(1, time.Minute, zap.NewNop())
	c.Stop()
	assert.NotPanics(t, c.Stop)
}
