package security

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts hits per key in fixed Redis windows.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{redis: redisClient, prefix: prefix, limit: int64(limit), window: window}
}

func (r *RateLimiter) key(id string) string {
	return fmt.Sprintf("%s:%s", r.prefix, id)
}

// Allow records one hit for id and reports whether it is within the limit.
// A limit of zero or less disables the check.
func (r *RateLimiter) Allow(ctx context.Context, id string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}

	key := r.key(id)
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			slog.Warn("Failed to set rate limit window", "key", key, "error", err)
		}
	}
	return count <= r.limit, nil
}

func (r *RateLimiter) Reset(ctx context.Context, id string) error {
	return r.redis.Del(ctx, r.key(id)).Err()
}

// Middleware limits requests per authenticated user, or per IP for guests,
// and turns away obvious crawlers.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.UserAgent()) {
			return apis.NewForbiddenError("Access denied", nil)
		}

		id := "ip:" + e.RealIP()
		if e.Auth != nil {
			id = "user:" + e.Auth.Id
		}

		allowed, err := r.Allow(e.Request.Context(), id)
		if err != nil {
			slog.Warn("Rate limiter unavailable", "id", id, "error", err)
		}
		if !allowed {
			return apis.NewTooManyRequestsError("Too many requests", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
