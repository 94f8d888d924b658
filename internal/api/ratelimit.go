package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitKeyPrefix = "ratelimit:"

// Counter counts hits of key inside a fixed window and returns the time until the window resets
type Counter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter is a fixed-window counter shared by all API instances
type RedisCounter struct {
	client redis.Cmdable
}

// NewRedisCounter creates a counter on the given client
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

// Hit increments the counter of key and starts its window on the first hit
func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
		return count, window, nil
	}

	ttl, err := c.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	// A counter without expiry would block the client forever
	if ttl < 0 {
		if err := c.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
		ttl = window
	}
	return count, ttl, nil
}

// RateLimiter allows max requests per client IP and window
type RateLimiter struct {
	counter Counter
	window  time.Duration
	max     int
	log     *zap.Logger
}

// NewRateLimiter creates a limiter. A failing counter lets requests through.
func NewRateLimiter(counter Counter, window time.Duration, max int, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{counter: counter, window: window, max: max, log: log}
}

// Middleware enforces the limit and sets the RateLimit-* headers
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count, ttl, err := l.counter.Hit(r.Context(), rateLimitKeyPrefix+clientIP(r), l.window)
		if err != nil {
			l.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(l.max) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("RateLimit-Limit", strconv.Itoa(l.max))
		w.Header().Set("RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("RateLimit-Reset", strconv.Itoa(int((ttl+time.Second-1)/time.Second)))

		if count > int64(l.max) {
			respondError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. Behind a proxy, handlers.ProxyHeaders
// has already replaced RemoteAddr with the forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
