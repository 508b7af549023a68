package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// shardCount is the number of independently locked counter maps.
const shardCount = 64

type counter struct {
	windowStart time.Time
	window      time.Duration
	count       int
}

type shard struct {
	mu       sync.Mutex
	counters map[Key]*counter
}

// MemoryLimiter is a process-local fixed-window limiter. Keys are spread
// over shards so the check-then-increment for one key is atomic while
// unrelated keys rarely wait on each other.
type MemoryLimiter struct {
	shards [shardCount]shard
	now    func() time.Time
}

var _ Limiter = (*MemoryLimiter)(nil)

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		l.now = now
	}
}

// NewMemoryLimiter creates an empty limiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{now: time.Now}
	for i := range l.shards {
		l.shards[i].counters = make(map[Key]*counter)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLimiter) shardFor(key Key) *shard {
	h := xxhash.Sum64String(key.String())
	return &l.shards[h%shardCount]
}

// CheckAndIncrement never returns an error; the signature matches Limiter.
func (l *MemoryLimiter) CheckAndIncrement(_ context.Context, key Key, rule Rule) (Decision, error) {
	now := l.now()
	start := windowStart(now, rule.Window)

	s := l.shardFor(key)
	s.mu.Lock()
	c, ok := s.counters[key]
	if !ok {
		c = &counter{}
		s.counters[key] = c
	}
	if !c.windowStart.Equal(start) {
		c.windowStart = start
		c.count = 0
	}
	c.window = rule.Window
	c.count++
	count := c.count
	s.mu.Unlock()

	return decide(count, rule, start, now), nil
}

// Sweep drops counters whose window ended before now.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, c := range s.counters {
			if !now.Before(c.windowStart.Add(c.window)) {
				delete(s.counters, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of live counters.
func (l *MemoryLimiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps every interval until ctx is cancelled.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
