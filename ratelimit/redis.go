package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/leafgate/config"
)

// RedisLimiter shares fixed-window counters between gateway instances.
// Each window gets its own key that expires when the window ends, so no
// sweeper is needed.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter wraps an existing client.
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "leafgate:rl:", now: time.Now}
}

// NewRedisClient opens a client from configuration and pings it.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (l *RedisLimiter) key(k Key, start time.Time) string {
	return l.prefix + k.Route + ":" + k.Client + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// CheckAndIncrement increments the window counter in a MULTI/EXEC block.
// A Redis failure is returned to the caller, which decides whether to fail
// open or closed.
func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, key Key, rule Rule) (Decision, error) {
	now := l.now()
	start := windowStart(now, rule.Window)
	rk := l.key(key, start)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, rk)
		pipe.PExpireAt(ctx, rk, start.Add(rule.Window))
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter %s: %w", rk, err)
	}
	return decide(int(incr.Val()), rule, start, now), nil
}
