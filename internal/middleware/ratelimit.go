package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sublease-marketplace/backend/internal/http/dto"
)

// RateLimitMiddleware is a fixed-window limiter in Redis, keyed by the
// authenticated user or, before auth, by client IP. It fails open when Redis
// is unavailable.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || limit <= 0 {
			return c.Next()
		}

		subject := "ip:" + c.IP()
		if userID := GetUserID(c); userID != uuid.Nil {
			subject = "user:" + userID.String()
		}
		bucket := time.Now().Unix() / int64(window/time.Second)
		key := fmt.Sprintf("rl:%s:%d", subject, bucket)

		ctx := c.UserContext()
		var incr *redis.IntCmd
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, window)
			return nil
		})
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err))
			return c.Next()
		}

		count := incr.Val()
		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.ErrorResponse{
				Code:      "rate_limited",
				Error:     "rate limit exceeded",
				RequestID: GetRequestID(c),
			})
		}
		return c.Next()
	}
}
