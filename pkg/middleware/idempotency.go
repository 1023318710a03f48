package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/response"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader is the header a client sets to make a write safe to retry
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ReplayedHeader is set on responses served from a stored record
	ReplayedHeader = "Idempotent-Replayed"
	// ContextKeyIdempotencyKey is the gin context key holding the client key
	ContextKeyIdempotencyKey = "idempotency_key"
	// IdempotencyKeyPrefix namespaces records in Redis
	IdempotencyKeyPrefix = "idempotency:"

	// DefaultIdempotencyTTL keeps completed responses long enough to cover client retries
	DefaultIdempotencyTTL = 5 * time.Minute
	// DefaultLockTTL bounds how long an unfinished request blocks its key
	DefaultLockTTL = 60 * time.Second

	maxIdempotencyKeyLength = 128
)

type recordState string

const (
	stateProcessing recordState = "processing"
	stateCompleted  recordState = "completed"
)

// idempotencyRecord is what is stored under a key. While the request runs
// only the state and fingerprint are set.
type idempotencyRecord struct {
	State       recordState `json:"state"`
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        string      `json:"body,omitempty"`
	StoredAt    time.Time   `json:"stored_at"`
}

// RedisClient is the subset of go-redis the middleware needs
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig configures IdempotencyMiddleware
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL of a completed record
	TTL time.Duration
	// LockTTL of the in-flight marker
	LockTTL time.Duration
	// RequireKey rejects writes that carry no key
	RequireKey bool
}

// DefaultIdempotencyConfig returns the configuration used by the booking routes
func DefaultIdempotencyConfig(redis RedisClient) *IdempotencyConfig {
	return &IdempotencyConfig{
		Redis:   redis,
		TTL:     DefaultIdempotencyTTL,
		LockTTL: DefaultLockTTL,
	}
}

// IdempotencyMiddleware replays the stored response when a client repeats a
// write with the same X-Idempotency-Key. Keys are scoped to the caller.
// Reusing a key for a different request is rejected with 422. 5xx outcomes
// are not stored. Redis outages fail open.
func IdempotencyMiddleware(config *IdempotencyConfig) gin.HandlerFunc {
	if config.TTL <= 0 {
		config.TTL = DefaultIdempotencyTTL
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		switch {
		case key == "" && config.RequireKey:
			c.AbortWithStatusJSON(http.StatusBadRequest, response.Fail("MISSING_IDEMPOTENCY_KEY", "X-Idempotency-Key header is required"))
			return
		case key == "":
			c.Next()
			return
		case len(key) > maxIdempotencyKeyLength:
			c.AbortWithStatusJSON(http.StatusBadRequest, response.Fail("INVALID_REQUEST", "X-Idempotency-Key is too long"))
			return
		}
		c.Set(ContextKeyIdempotencyKey, key)

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		userID, _ := GetUserID(c)
		storeKey := recordKey(userID, key)
		fingerprint := requestFingerprint(c.Request.Method, c.Request.URL.Path, body)
		ctx := c.Request.Context()

		existing, err := loadRecord(ctx, config.Redis, storeKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			logger.Get().Warn("idempotency store unavailable, serving without replay protection",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if existing == nil {
			claimed, err := storeRecord(ctx, config.Redis, storeKey, &idempotencyRecord{
				State:       stateProcessing,
				Fingerprint: fingerprint,
				StoredAt:    time.Now(),
			}, config.LockTTL, true)
			if err == nil && !claimed {
				// lost the race to a concurrent request with the same key
				existing, _ = loadRecord(ctx, config.Redis, storeKey)
			}
		}
		if existing != nil {
			replay(c, existing, fingerprint)
			return
		}

		capture := &capturingWriter{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = capture
		c.Next()

		if capture.status >= http.StatusInternalServerError {
			_ = config.Redis.Del(ctx, storeKey).Err()
			return
		}

		_, err = storeRecord(ctx, config.Redis, storeKey, &idempotencyRecord{
			State:       stateCompleted,
			Fingerprint: fingerprint,
			Status:      capture.status,
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.body.String(),
			StoredAt:    time.Now(),
		}, config.TTL, false)
		if err != nil {
			logger.Get().Warn("failed to store idempotent response", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
	}
}

func replay(c *gin.Context, rec *idempotencyRecord, fingerprint string) {
	switch {
	case rec.Fingerprint != fingerprint:
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, response.Fail("IDEMPOTENCY_KEY_REUSED", "Idempotency key already used with a different request"))
	case rec.State == stateProcessing:
		c.AbortWithStatusJSON(http.StatusConflict, response.Fail("REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed"))
	default:
		contentType := rec.ContentType
		if contentType == "" {
			contentType = "application/json; charset=utf-8"
		}
		c.Header(ReplayedHeader, "true")
		c.Data(rec.Status, contentType, []byte(rec.Body))
		c.Abort()
	}
}

func recordKey(userID, key string) string {
	if userID == "" {
		return IdempotencyKeyPrefix + key
	}
	return IdempotencyKeyPrefix + userID + ":" + key
}

func requestFingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func loadRecord(ctx context.Context, rdb RedisClient, key string) (*idempotencyRecord, error) {
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// storeRecord writes rec. With onlyIfAbsent it reports whether the key was claimed.
func storeRecord(ctx context.Context, rdb RedisClient, key string, rec *idempotencyRecord, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if onlyIfAbsent {
		return rdb.SetNX(ctx, key, string(data), ttl).Result()
	}
	return true, rdb.Set(ctx, key, string(data), ttl).Err()
}

type capturingWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
