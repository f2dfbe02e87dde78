package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter ограничивает частоту обращений к API перевозчиков.
// Скользящее окно не нужно: минутные бакеты INCR+EXPIRE достаточно точны.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr, password string, db int) *RateLimiter {
	return &RateLimiter{
		c: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Allow делает INCR по ключу и в той же транзакции (пере)ставит ему TTL
// window, так что TTL продлевается при каждом вызове.
// Возвращает (allowed, currentCount).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// AllowCarrier — минутный бакет по перевозчику. Окно чуть шире минуты,
// чтобы ключ не исчезал на границе бакета.
func (rl *RateLimiter) AllowCarrier(ctx context.Context, carrierID string, limit int64) (bool, int64, error) {
	key := fmt.Sprintf("rl:carrier:%s:%s", carrierID, time.Now().UTC().Format("200601021504"))
	return rl.Allow(ctx, key, limit, 70*time.Second)
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}
