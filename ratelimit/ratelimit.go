// Package ratelimit implements fixed-window request counting keyed by
// client identity and route.
//
// The current window for a rule is floor(now / window) * window. A counter
// whose window has passed is reset before it is incremented, and every call
// increments, including calls that end up rejected, so hammering a limited
// route keeps the client limited until the window rolls over.
//
// MemoryLimiter keeps counters in the process. Several gateway instances
// behind a load balancer each enforce their own budget unless they share a
// RedisLimiter.
package ratelimit

import (
	"context"
	"time"

	"github.com/jmcleod/leafgate/config"
)

// Key identifies a counter. Clients sharing an address share a budget.
type Key struct {
	Client string
	Route  string
}

func (k Key) String() string {
	return k.Route + "|" + k.Client
}

// Rule is the (limit, window) pair for a route class.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of CheckAndIncrement. A rejected decision carries
// how long the client should wait before the window resets.
type Decision struct {
	Admitted    bool
	Count       int
	Limit       int
	WindowStart time.Time
	RetryAfter  time.Duration
}

// Limiter admits or rejects one request for key under rule.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, key Key, rule Rule) (Decision, error)
}

// windowStart returns floor(now / window) * window.
func windowStart(now time.Time, window time.Duration) time.Time {
	n := now.UnixNano()
	w := int64(window)
	start := n - n%w
	if n < 0 && n%w != 0 {
		start -= w
	}
	return time.Unix(0, start).UTC()
}

func decide(count int, rule Rule, start, now time.Time) Decision {
	d := Decision{
		Admitted:    count <= rule.Limit,
		Count:       count,
		Limit:       rule.Limit,
		WindowStart: start,
	}
	if !d.Admitted {
		d.RetryAfter = start.Add(rule.Window).Sub(now)
	}
	return d
}

// Rules maps route identifiers to rules with a fallback.
type Rules struct {
	Default Rule
	Routes  map[string]Rule
}

// For returns the rule for route, or the default.
func (r Rules) For(route string) Rule {
	if rule, ok := r.Routes[route]; ok {
		return rule
	}
	return r.Default
}

// RulesFromConfig converts the configured route limits.
func RulesFromConfig(cfg config.RateLimit) Rules {
	rules := Rules{
		Default: Rule{Limit: cfg.Default.Limit, Window: cfg.Default.Window},
		Routes:  make(map[string]Rule, len(cfg.Routes)),
	}
	for route, rl := range cfg.Routes {
		rules.Routes[route] = Rule{Limit: rl.Limit, Window: rl.Window}
	}
	return rules
}
