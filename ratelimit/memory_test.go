package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/leafgate/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter() (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{now: epoch}
	return NewMemoryLimiter(WithClock(clock.Now)), clock
}

func TestCheckAndIncrement_ExactLimit(t *testing.T) {
	l, _ := newTestLimiter()
	key := Key{Client: "10.0.0.1", Route: "login"}
	rule := Rule{Limit: 5, Window: time.Minute}

	for i := 1; i <= 5; i++ {
		d, err := l.CheckAndIncrement(context.Background(), key, rule)
		require.NoError(t, err)
		assert.True(t, d.Admitted, "request %d", i)
		assert.Equal(t, i, d.Count)
		assert.Zero(t, d.RetryAfter)
	}

	d, err := l.CheckAndIncrement(context.Background(), key, rule)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Equal(t, 6, d.Count)
	assert.Equal(t, 5, d.Limit)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestCheckAndIncrement_RejectedAttemptsStillCount(t *testing.T) {
	l, _ := newTestLimiter()
	key := Key{Client: "10.0.0.1", Route: "login"}
	rule := Rule{Limit: 2, Window: time.Minute}

	for range 10 {
		_, err := l.CheckAndIncrement(context.Background(), key, rule)
		require.NoError(t, err)
	}
	d, err := l.CheckAndIncrement(context.Background(), key, rule)
	require.NoError(t, err)
	assert.Equal(t, 11, d.Count)
	assert.False(t, d.Admitted)
}

func TestCheckAndIncrement_WindowReset(t *testing.T) {
	l, clock := newTestLimiter()
	key := Key{Client: "10.0.0.1", Route: "login"}
	rule := Rule{Limit: 1, Window: time.Minute}

	clock.Set(epoch.Add(50 * time.Second))
	d, _ := l.CheckAndIncrement(context.Background(), key, rule)
	assert.True(t, d.Admitted)
	assert.Equal(t, epoch, d.WindowStart)

	d, _ = l.CheckAndIncrement(context.Background(), key, rule)
	assert.False(t, d.Admitted)
	assert.Equal(t, 10*time.Second, d.RetryAfter)

	// The window is aligned to wall time, not to the first request.
	clock.Set(epoch.Add(time.Minute))
	d, _ = l.CheckAndIncrement(context.Background(), key, rule)
	assert.True(t, d.Admitted)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, epoch.Add(time.Minute), d.WindowStart)
}

func TestCheckAndIncrement_RetryAfterNeverExceedsWindow(t *testing.T) {
	l, clock := newTestLimiter()
	key := Key{Client: "c", Route: "r"}
	rule := Rule{Limit: 0, Window: 10 * time.Second}

	for offset := time.Duration(0); offset < 30*time.Second; offset += 700 * time.Millisecond {
		clock.Set(epoch.Add(offset))
		d, err := l.CheckAndIncrement(context.Background(), key, rule)
		require.NoError(t, err)
		require.False(t, d.Admitted)
		assert.Greater(t, d.RetryAfter, time.Duration(0))
		assert.LessOrEqual(t, d.RetryAfter, rule.Window)
	}
}

func TestCheckAndIncrement_KeysAreIsolated(t *testing.T) {
	l, _ := newTestLimiter()
	rule := Rule{Limit: 1, Window: time.Minute}

	d, _ := l.CheckAndIncrement(context.Background(), Key{Client: "a", Route: "login"}, rule)
	assert.True(t, d.Admitted)
	d, _ = l.CheckAndIncrement(context.Background(), Key{Client: "a", Route: "login"}, rule)
	assert.False(t, d.Admitted)

	d, _ = l.CheckAndIncrement(context.Background(), Key{Client: "b", Route: "login"}, rule)
	assert.True(t, d.Admitted, "other client")
	d, _ = l.CheckAndIncrement(context.Background(), Key{Client: "a", Route: "predict"}, rule)
	assert.True(t, d.Admitted, "other route")
}

func TestCheckAndIncrement_ConcurrentExactlyOneRejected(t *testing.T) {
	const n = 50
	l, _ := newTestLimiter()
	key := Key{Client: "10.0.0.9", Route: "predict"}
	rule := Rule{Limit: n - 1, Window: time.Minute}

	var rejected atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.CheckAndIncrement(context.Background(), key, rule)
			if err == nil && !d.Admitted {
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), rejected.Load())
}

func TestCheckAndIncrement_ConcurrentManyKeys(t *testing.T) {
	l, _ := newTestLimiter()
	rule := Rule{Limit: 3, Window: time.Minute}

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for c := range 20 {
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, _ := l.CheckAndIncrement(context.Background(), Key{Client: fmt.Sprintf("client-%d", c), Route: "me"}, rule)
				if d.Admitted {
					admitted.Add(1)
				}
			}()
		}
	}
	wg.Wait()
	assert.Equal(t, int32(20*3), admitted.Load())
}

func TestSweep_RemovesExpiredCounters(t *testing.T) {
	l, clock := newTestLimiter()
	_, _ = l.CheckAndIncrement(context.Background(), Key{Client: "a", Route: "login"}, Rule{Limit: 5, Window: time.Minute})
	_, _ = l.CheckAndIncrement(context.Background(), Key{Client: "b", Route: "register"}, Rule{Limit: 5, Window: 10 * time.Minute})
	require.Equal(t, 2, l.Len())

	clock.Advance(30 * time.Second)
	assert.Zero(t, l.Sweep())

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, l.Sweep())
	assert.Zero(t, l.Len())
}

func TestRun_StopsOnCancel(t *testing.T) {
	l := NewMemoryLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWindowStart(t *testing.T) {
	assert.Equal(t, epoch, windowStart(epoch.Add(59*time.Second+999*time.Millisecond), time.Minute))
	assert.Equal(t, epoch.Add(time.Minute), windowStart(epoch.Add(time.Minute), time.Minute))
	assert.Equal(t, epoch, windowStart(epoch.Add(9*time.Minute), 10*time.Minute))
}

func TestRulesFromConfig(t *testing.T) {
	rules := RulesFromConfig(config.RateLimit{
		Default: config.RouteLimit{Limit: 60, Window: time.Minute},
		Routes: map[string]config.RouteLimit{
			"login": {Limit: 5, Window: time.Minute},
		},
	})
	assert.Equal(t, Rule{Limit: 5, Window: time.Minute}, rules.For("login"))
	assert.Equal(t, Rule{Limit: 60, Window: time.Minute}, rules.For("unknown"))
}
