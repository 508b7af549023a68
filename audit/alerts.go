package audit

import (
	"context"
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertRateLimitSpike    AlertType = "rate_limit_spike"
)

// Alert describes an anomaly.
type Alert struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is called, with the collector's lock held, when a threshold is
// crossed. It must not call back into the collector.
type AlertFunc func(Alert)

const (
	defaultLoginFailureWindow    = time.Minute
	defaultLoginFailureThreshold = 50
	defaultRateLimitWindow       = time.Minute
	defaultRateLimitThreshold    = 200
)

type slidingWindow struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

// add records t and reports whether the threshold was reached. The window
// is emptied on an alert so one spike raises one alert.
func (s *slidingWindow) add(t time.Time) (int, bool) {
	s.times = append(s.times, t)
	s.times = trimWindow(s.times, t, s.window)
	n := len(s.times)
	if n >= s.threshold {
		s.times = s.times[:0]
		return n, true
	}
	return n, false
}

// AlertCollector is a Sink that watches for bursts of login failures and
// rate limit rejections across all clients.
type AlertCollector struct {
	mu         sync.Mutex
	loginFails slidingWindow
	rateLimits slidingWindow
	alertFn    AlertFunc
}

var _ Sink = (*AlertCollector)(nil)

// NewAlertCollector uses the default windows and thresholds.
func NewAlertCollector(fn AlertFunc) *AlertCollector {
	return &AlertCollector{
		loginFails: slidingWindow{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		rateLimits: slidingWindow{window: defaultRateLimitWindow, threshold: defaultRateLimitThreshold},
		alertFn:    fn,
	}
}

// Write implements Sink.
func (c *AlertCollector) Write(_ context.Context, evt Event) {
	if c == nil || c.alertFn == nil {
		return
	}
	switch evt.Kind {
	case LoginFailure:
		c.observe(&c.loginFails, evt.Time, AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case RateLimited:
		c.observe(&c.rateLimits, evt.Time, AlertRateLimitSpike, "rate limit rejections exceed threshold")
	}
}

func (c *AlertCollector) observe(w *slidingWindow, at time.Time, typ AlertType, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, fire := w.add(at); fire {
		c.alertFn(Alert{
			Type:      typ,
			Message:   msg,
			Count:     n,
			Threshold: w.threshold,
			Timestamp: at,
		})
	}
}

// trimWindow removes entries older than now - window from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
