package cache

import (
	"context"
	"time"
)

// Cache stores raw upstream response bodies keyed by a request fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	GetStats() map[string]interface{}
}
