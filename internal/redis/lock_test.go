package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestLockStore_AcquireRelease(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	locks := NewLockStore(client)
	ctx := context.Background()

	token, ok, err := locks.AcquireDriverLock(ctx, "d1", time.Second)
	if err != nil || !ok || token == "" {
		t.Fatalf("first acquire = %q, %v, %v", token, ok, err)
	}
	if _, ok, err := locks.AcquireDriverLock(ctx, "d1", time.Second); err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want refused", ok, err)
	}
	if _, ok, _ := locks.AcquireDriverLock(ctx, "d2", time.Second); !ok {
		t.Error("locks are per driver")
	}

	if err := locks.ReleaseDriverLock(ctx, "d1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locks.AcquireDriverLock(ctx, "d1", time.Second); !ok {
		t.Error("expected the lock to be free after release")
	}
}

func TestLockStore_StaleReleaseKeepsNewerLock(t *testing.T) {
	t.Parallel()
	client, mr := newTestClient(t)
	locks := NewLockStore(client)
	ctx := context.Background()

	stale, ok, err := locks.AcquireDriverLock(ctx, "d1", time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: %v, %v", ok, err)
	}
	mr.FastForward(2 * time.Second)

	current, ok, err := locks.AcquireDriverLock(ctx, "d1", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: %v, %v", ok, err)
	}

	// The first claim finishes late and releases its expired lock.
	if err := locks.ReleaseDriverLock(ctx, "d1", stale); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if got, _ := mr.Get(driverLockKey("d1")); got != current {
		t.Fatalf("lock holds %q, want the newer token %q", got, current)
	}
	if _, ok, _ := locks.AcquireDriverLock(ctx, "d1", time.Second); ok {
		t.Fatal("the newer lock must still be held")
	}

	if err := locks.ReleaseDriverLock(ctx, "d1", current); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(driverLockKey("d1")) {
		t.Error("expected the lock to be gone")
	}
}

func TestIdempotencyStore(t *testing.T) {
	t.Parallel()
	client, mr := newTestClient(t)
	store := NewIdempotencyStore(client)
	ctx := context.Background()

	if v, err := store.Get(ctx, "k"); err != nil || v != nil {
		t.Fatalf("missing key = %q, %v", v, err)
	}
	if ok, err := store.SetNX(ctx, "k:lock", []byte("1"), time.Minute); err != nil || !ok {
		t.Fatalf("SetNX = %v, %v", ok, err)
	}
	if ok, _ := store.SetNX(ctx, "k:lock", []byte("1"), time.Minute); ok {
		t.Error("SetNX should refuse a held key")
	}
	if err := store.Set(ctx, "k", []byte(`{"status":200}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := store.Get(ctx, "k"); string(v) != `{"status":200}` {
		t.Errorf("Get = %q", v)
	}
	if err := store.Del(ctx, "k:lock"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("k:lock") {
		t.Error("lock still present after Del")
	}

	mr.FastForward(2 * time.Minute)
	if v, _ := store.Get(ctx, "k"); v != nil {
		t.Errorf("expected the entry to expire, got %q", v)
	}
}
