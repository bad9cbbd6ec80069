package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a lock
// that expired and was taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles per-driver claim locks in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func driverLockKey(driverID string) string {
	return "lock:claim:driver:" + driverID
}

// AcquireDriverLock attempts to acquire the claim lock of a driver. On
// success it returns the token that ReleaseDriverLock needs.
func (s *LockStore) AcquireDriverLock(ctx context.Context, driverID string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, driverLockKey(driverID), token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseDriverLock releases the lock if it is still held with token.
func (s *LockStore) ReleaseDriverLock(ctx context.Context, driverID, token string) error {
	if token == "" {
		return nil
	}
	return releaseScript.Run(ctx, s.client, []string{driverLockKey(driverID)}, token).Err()
}
