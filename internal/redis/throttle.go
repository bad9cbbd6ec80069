package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const throttlePrefix = "throttle:"

// Throttle rate-limits events per key across every instance sharing the Redis.
type Throttle struct {
	client *redis.Client
}

// NewThrottle creates a new Throttle.
func NewThrottle(client *redis.Client) *Throttle {
	return &Throttle{client: client}
}

// Allow reports whether no event for key was allowed within the last interval.
// The first caller in a window sets a key that expires after interval.
func (t *Throttle) Allow(ctx context.Context, key string, interval time.Duration) (bool, error) {
	return t.client.SetNX(ctx, throttlePrefix+key, 1, interval).Result()
}
