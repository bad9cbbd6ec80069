package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"hailing/internal/domain"
)

type memoryIdempotencyStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{data: make(map[string][]byte)}
}

func (s *memoryIdempotencyStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memoryIdempotencyStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memoryIdempotencyStore) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value
	return true, nil
}

func (s *memoryIdempotencyStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryIdempotencyStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// newIdempotentRouter serves /trips/:id/complete, answering with the next
// status from statuses on every call that reaches the handler.
func newIdempotentRouter(store IdempotencyStore, statuses ...int) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)
	calls := 0

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(actorKey, domain.Actor{UserID: "d1", Role: domain.RoleDriver})
		c.Next()
	})
	router.Use(Idempotency(store))
	handler := func(c *gin.Context) {
		status := statuses[min(calls, len(statuses)-1)]
		calls++
		c.JSON(status, gin.H{"call": calls})
	}
	router.POST("/trips/:id/complete", handler)
	router.POST("/trips/:id/cancel", handler)
	return router, &calls
}

func postWithKey(router *gin.Engine, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(idempotencyHeader, key)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysSuccess(t *testing.T) {
	t.Parallel()
	router, calls := newIdempotentRouter(newMemoryIdempotencyStore(), http.StatusOK)

	first := postWithKey(router, "/trips/t1/complete", "k1")
	second := postWithKey(router, "/trips/t1/complete", "k1")

	if *calls != 1 {
		t.Fatalf("handler ran %d times, want 1", *calls)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %s, want %d %s", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected the replay header")
	}
}

func TestIdempotency_RetriesRefusedRequests(t *testing.T) {
	t.Parallel()
	store := newMemoryIdempotencyStore()
	// Completion refused for the balance, then accepted after a top-up.
	router, calls := newIdempotentRouter(store, http.StatusPaymentRequired, http.StatusOK)

	if w := postWithKey(router, "/trips/t1/complete", "k1"); w.Code != http.StatusPaymentRequired {
		t.Fatalf("first attempt: got %d", w.Code)
	}
	w := postWithKey(router, "/trips/t1/complete", "k1")
	if w.Code != http.StatusOK {
		t.Fatalf("retry: expected 200, got %d", w.Code)
	}
	if *calls != 2 {
		t.Errorf("handler ran %d times, want 2", *calls)
	}
	if w.Header().Get("Idempotent-Replayed") != "" {
		t.Error("a retry after a refusal must not be a replay")
	}
	for _, k := range store.keys() {
		if strings.HasSuffix(k, ":lock") {
			t.Errorf("lock %s left behind", k)
		}
	}
}

func TestIdempotency_ScopedByEndpoint(t *testing.T) {
	t.Parallel()
	router, calls := newIdempotentRouter(newMemoryIdempotencyStore(), http.StatusOK)

	postWithKey(router, "/trips/t1/complete", "k1")
	postWithKey(router, "/trips/t2/complete", "k1")
	postWithKey(router, "/trips/t1/cancel", "k1")

	if *calls != 3 {
		t.Errorf("handler ran %d times, want 3", *calls)
	}
}

func TestIdempotency_InFlightKey(t *testing.T) {
	t.Parallel()
	store := newMemoryIdempotencyStore()
	router, calls := newIdempotentRouter(store, http.StatusOK)

	lock := strings.Join([]string{"idempotency", "d1", http.MethodPost, "/trips/t1/complete", "k1"}, ":") + ":lock"
	_ = store.Set(context.Background(), lock, []byte("1"), time.Minute)

	if w := postWithKey(router, "/trips/t1/complete", "k1"); w.Code != http.StatusConflict {
		t.Errorf("expected 409 while in flight, got %d", w.Code)
	}
	if *calls != 0 {
		t.Errorf("handler ran %d times, want 0", *calls)
	}
}

func TestIdempotency_Disabled(t *testing.T) {
	t.Parallel()
	router, calls := newIdempotentRouter(nil, http.StatusOK)

	postWithKey(router, "/trips/t1/complete", "k1")
	postWithKey(router, "/trips/t1/complete", "k1")

	if *calls != 2 {
		t.Errorf("handler ran %d times, want 2", *calls)
	}
}
