// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements per-identity token-bucket rate limiting for the
// operator API. Two stores are provided: an in-process one built on
// golang.org/x/time/rate, and a Redis one that runs the bucket in a Lua
// script so several replicas share a single budget. Replays marked by
// IdempotencyValidator are never limited. Webhooks are not limited here:
// Meta and Paystack retry on 429, which would only multiply the load.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LimiterStore decides whether the bucket for key has a token left.
type LimiterStore interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByOperatorOrIP prefers the authenticated operator and falls back to
// the client IP. Keys are prefixed so the namespaces cannot collide.
func KeyByOperatorOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id := OperatorID(c); id != "" {
			return "operator:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

// visitor holds a single rate limiter and the last time it was seen.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory and
// evicts buckets idle for longer than ttl. Safe for concurrent use.
type MemoryLimiter struct {
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
}

// NewMemoryLimiter returns a limiter refilling rps tokens per second up to
// burst (coerced to >= 1).
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &MemoryLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// Allow takes a token from key's bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return m.getVisitor(key).Allow(), nil
}

// getVisitor returns the limiter for key, creating it if absent. Idle
// entries are swept every 5000 lookups, before the requested entry is
// refreshed so a stale bucket can still be evicted.
func (m *MemoryLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupN++
	if m.cleanupN >= 5000 {
		for k, v := range m.visitors {
			if now.Sub(v.lastSeen) >= m.ttl {
				delete(m.visitors, k)
			}
		}
		m.cleanupN = 0
	}

	if v, ok := m.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(m.rps, m.burst)
	m.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// tokenBucketScript runs one bucket atomically.
// KEYS[1] bucket key; ARGV rate (tokens/s), capacity, now (unix seconds).
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)
return allowed
`)

// RedisLimiter shares token buckets across replicas through Redis.
type RedisLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
	now    func() time.Time
}

// NewRedisLimiter returns a Redis-backed limiter with the same semantics as
// NewMemoryLimiter.
func NewRedisLimiter(client *redis.Client, rps float64, burst int) *RedisLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RedisLimiter{client: client, rps: rps, burst: burst, now: time.Now}
}

// Allow takes a token from key's shared bucket.
func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(r.now().UnixMicro()) / 1e6
	n, err := tokenBucketScript.Run(ctx, r.client, []string{"ratelimit:" + key}, r.rps, r.burst, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return n == 1, nil
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay that must not consume a token.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// RateLimit returns a Gin middleware enforcing store's limits per keyFn
// identity. Denied requests get 429 with Retry-After: 1. Store errors fail
// open and are logged.
func RateLimit(store LimiterStore, keyFn keyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		ok, err := store.Allow(c.Request.Context(), keyFn(c))
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("rate limiter unavailable; allowing request")
			c.Next()
			return
		}
		if ok {
			c.Next()
			return
		}

		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": GetRequestID(c),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
