package redis

import (
	"context"
	"time"
)

// LocationStoreInterface is driver presence: the last reported position and a
// radius search over everyone online.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error
	GetLocation(ctx context.Context, driverID string) (*DriverLocation, error)
	FindNearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]DriverLocation, error)
	RemoveLocation(ctx context.Context, driverID string) error
}

// LockStoreInterface guards a driver while one claim is being decided. Each
// acquire hands out its own token and only that token releases the lock.
type LockStoreInterface interface {
	AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseDriverLock(ctx context.Context, driverID, token string) error
}

// ThrottleInterface admits at most one event per key and interval across instances.
type ThrottleInterface interface {
	Allow(ctx context.Context, key string, interval time.Duration) (bool, error)
}

// Sink receives events relayed from other instances.
type Sink interface {
	Deliver(ctx context.Context, topic string, payload []byte) error
}

// RelayInterface fans dispatch events out to every instance.
type RelayInterface interface {
	Sink
	Listen(ctx context.Context, sink Sink) error
}

var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ ThrottleInterface      = (*Throttle)(nil)
	_ RelayInterface         = (*PubSub)(nil)
)
