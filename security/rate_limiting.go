package security

import (
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// WebhookRateLimit caps inbound webhook calls per source IP per minute.
// A Redis outage fails open: dropping chat messages is worse than
// letting a burst through.
func (r *RateLimiter) WebhookRateLimit(maxPerMinute int64) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		ctx := e.Request.Context()
		key := fmt.Sprintf("ratelimit:webhook:%s", e.RealIP())

		count, err := r.redis.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				r.redis.Expire(ctx, key, time.Minute)
			}
			if count > maxPerMinute {
				return e.TooManyRequestsError("rate limit exceeded", nil)
			}
		}
		return e.Next()
	}
}
