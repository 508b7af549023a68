// Package audit records security-relevant events. Recording is best effort:
// a failing or panicking sink never affects the request that produced the
// event.
package audit

import (
	"context"
	"io"
	"log/slog"
	"runtime/debug"
	"time"
)

// Kind identifies the type of security-relevant action being recorded.
type Kind string

const (
	LoginSuccess        Kind = "login_success"
	LoginFailure        Kind = "login_failure"
	RateLimited         Kind = "rate_limited"
	UploadRejected      Kind = "upload_rejected"
	InferenceError      Kind = "inference_error"
	RegistrationSuccess Kind = "registration_success"
	RegistrationFailure Kind = "registration_failure"
	Logout              Kind = "logout"
	TokenRejected       Kind = "token_rejected"
	PersistenceError    Kind = "persistence_error"
)

// Kinds lists every kind in a stable order.
var Kinds = []Kind{
	LoginSuccess, LoginFailure, RateLimited, UploadRejected, InferenceError,
	RegistrationSuccess, RegistrationFailure, Logout, TokenRejected, PersistenceError,
}

// Event is one audit record as delivered to sinks.
type Event struct {
	Kind        Kind
	PrincipalID string
	Time        time.Time
	Attrs       []slog.Attr
}

// AttrMap flattens the attributes to strings.
func (e Event) AttrMap() map[string]string {
	if len(e.Attrs) == 0 {
		return nil
	}
	m := make(map[string]string, len(e.Attrs))
	for _, a := range e.Attrs {
		m[a.Key] = a.Value.String()
	}
	return m
}

// Sink receives events after they are logged. Write must not block for
// long; slow destinations queue internally.
type Sink interface {
	Write(ctx context.Context, evt Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event)

func (f SinkFunc) Write(ctx context.Context, evt Event) { f(ctx, evt) }

// Log writes every event as a structured slog record and fans it out to
// the configured sinks.
type Log struct {
	logger *slog.Logger
	sinks  []Sink
	now    func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithSink adds a sink. Sinks are called in the order they were added.
func WithSink(s Sink) Option {
	return func(l *Log) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New returns an audit log writing through logger with component=audit.
func New(logger *slog.Logger, opts ...Option) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record writes an audit event. It never returns an error and never panics.
// principalID may be empty when the actor is not authenticated.
func (l *Log) Record(ctx context.Context, kind Kind, principalID string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	evt := Event{
		Kind:        kind,
		PrincipalID: principalID,
		Time:        l.now().UTC(),
		Attrs:       attrs,
	}

	l.safely(func() {
		base := []slog.Attr{
			slog.String("event", string(kind)),
			slog.String("timestamp", evt.Time.Format(time.RFC3339)),
		}
		if principalID != "" {
			base = append(base, slog.String("principal_id", principalID))
		}
		l.logger.LogAttrs(ctx, levelFor(kind), "audit", append(base, attrs...)...)
	})
	for _, s := range l.sinks {
		l.safely(func() { s.Write(ctx, evt) })
	}
}

func (l *Log) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("audit sink panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Close releases sinks that hold resources, draining any queued events.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	var first error
	for _, s := range l.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func levelFor(kind Kind) slog.Level {
	switch kind {
	case InferenceError, PersistenceError:
		return slog.LevelError
	case LoginFailure, RateLimited, TokenRejected, RegistrationFailure, UploadRejected:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
