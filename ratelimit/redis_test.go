package ratelimit

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/leafgate/config"
	"github.com/jmcleod/leafgate/internal/uuid"
)

// Set LEAFGATE_TEST_REDIS_ADDR to run against a live server.
func newTestRedisLimiter(t *testing.T) *RedisLimiter {
	t.Helper()
	addr := os.Getenv("LEAFGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEAFGATE_TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(t.Context(), config.Redis{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client)
	l.prefix = "leafgate:test:" + uuid.New() + ":"
	return l
}

func TestRedisLimiter_ExactLimit(t *testing.T) {
	l := newTestRedisLimiter(t)
	key := Key{Client: "10.0.0.1", Route: "login"}
	rule := Rule{Limit: 3, Window: time.Minute}

	for i := 1; i <= 3; i++ {
		d, err := l.CheckAndIncrement(t.Context(), key, rule)
		require.NoError(t, err)
		assert.True(t, d.Admitted)
	}
	d, err := l.CheckAndIncrement(t.Context(), key, rule)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Positive(t, d.RetryAfter)
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestRedisLimiter_KeyLayout(t *testing.T) {
	l := NewRedisLimiter(nil)
	got := l.key(Key{Client: "1.2.3.4", Route: "predict"}, time.UnixMilli(1700000040000))
	assert.Equal(t, "leafgate:rl:predict:1.2.3.4:1700000040000", got)
}
