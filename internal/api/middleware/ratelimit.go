package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRateLimiter applies a fixed-window per-IP limit backed by Redis.
// Redis trouble fails open; dropping webhooks is worse than letting a burst
// through.
type RedisRateLimiter struct {
	client  *redis.Client
	logger  *zap.Logger
	limit   int
	window  time.Duration
	timeout time.Duration
}

func NewRedisRateLimiter(addr, password string, db, limit int, logger *zap.Logger) (*RedisRateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisRateLimiter{
		client:  client,
		logger:  logger.Named("ratelimit"),
		limit:   limit,
		window:  time.Minute,
		timeout: 250 * time.Millisecond,
	}, nil
}

func (rl *RedisRateLimiter) Close() error {
	return rl.client.Close()
}

func (rl *RedisRateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), rl.timeout)
		defer cancel()

		key := "dynbranch:ratelimit:ip:" + c.ClientIP()
		counter, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			rl.logger.Warn("redis_incr_failed", zap.Error(err))
			c.Next()
			return
		}
		if counter == 1 {
			if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
				rl.logger.Warn("redis_expire_failed", zap.Error(err))
			}
		}
		if int(counter) > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
