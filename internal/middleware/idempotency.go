package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hailing/internal/domain"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = 30 * time.Second
)

// IdempotencyStore is the key-value backend of Idempotency. Get returns nil
// without error on a miss.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// cachedResponse stores the response for idempotent requests.
type cachedResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"headers"`
}

// responseWriter wraps gin.ResponseWriter to capture the response.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a mutating request retried with
// the same Idempotency-Key by the same user on the same endpoint. It must run
// after Authenticate. A nil store disables it.
//
// Only successful responses are stored. A refused request (402, 409, 422) may
// succeed later, for example after a top-up, so its retry runs the handler again.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" || len(key) > 255 {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := idempotencyKey(c, key)

		cached, err := getCachedResponse(ctx, store, cacheKey)
		if err != nil {
			zap.L().Warn("idempotency lookup failed", zap.String("key", cacheKey), zap.Error(err))
			c.Next()
			return
		}
		if cached != nil {
			for k, v := range cached.Headers {
				for _, val := range v {
					c.Header(k, val)
				}
			}
			c.Header("Idempotent-Replayed", "true")
			c.Data(cached.StatusCode, "application/json", cached.Body)
			c.Abort()
			return
		}

		// Only one request per key runs at a time.
		lockKey := cacheKey + ":lock"
		locked, err := store.SetNX(ctx, lockKey, []byte("1"), idempotencyLockTTL)
		if err != nil {
			zap.L().Warn("idempotency lock failed", zap.String("key", cacheKey), zap.Error(err))
			c.Next()
			return
		}
		if !locked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": gin.H{
					"code":    domain.CodeValidation,
					"message": "a request with this Idempotency-Key is still in progress",
				},
				"request_id": RequestIDFrom(c),
			})
			return
		}
		defer func() {
			if err := store.Del(context.WithoutCancel(ctx), lockKey); err != nil {
				zap.L().Warn("idempotency unlock failed", zap.String("key", cacheKey), zap.Error(err))
			}
		}()

		w := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
		}
		c.Writer = w

		c.Next()

		if status := c.Writer.Status(); status >= 200 && status < 300 {
			response := cachedResponse{
				StatusCode: status,
				Body:       w.body.Bytes(),
				Headers:    extractResponseHeaders(c),
			}
			if err := setCachedResponse(context.WithoutCancel(ctx), store, cacheKey, &response, idempotencyTTL); err != nil {
				zap.L().Warn("idempotency store failed", zap.String("key", cacheKey), zap.Error(err))
			}
		}
	}
}

// idempotencyKey scopes key by caller, method and concrete path, so a key
// reused on another endpoint or another trip never replays a foreign response.
func idempotencyKey(c *gin.Context, key string) string {
	scope := "anonymous"
	if actor, ok := ActorFrom(c); ok {
		scope = actor.UserID
	}
	return strings.Join([]string{"idempotency", scope, c.Request.Method, c.Request.URL.Path, key}, ":")
}

// getCachedResponse retrieves a cached response, nil on a miss.
func getCachedResponse(ctx context.Context, store IdempotencyStore, key string) (*cachedResponse, error) {
	data, err := store.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}

	return &cached, nil
}

// setCachedResponse stores a response.
func setCachedResponse(ctx context.Context, store IdempotencyStore, key string, response *cachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}

	return store.Set(ctx, key, data, ttl)
}

// extractResponseHeaders keeps the headers worth replaying.
func extractResponseHeaders(c *gin.Context) http.Header {
	headers := make(http.Header)
	if ct := c.Writer.Header().Get("Content-Type"); ct != "" {
		headers.Set("Content-Type", ct)
	}
	return headers
}
