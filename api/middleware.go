package api

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/jmcleod/leafgate/audit"
	"github.com/jmcleod/leafgate/ratelimit"
	"github.com/jmcleod/leafgate/session"
	"github.com/jmcleod/leafgate/storage"
)

type contextKey int

const principalKey contextKey = iota

func principalFromContext(ctx context.Context) *storage.Principal {
	p, _ := ctx.Value(principalKey).(*storage.Principal)
	return p
}

// requireSession verifies the session token and loads the principal it
// names into the request context. Every failure is a generic 401; the
// precise reason is audited.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		subject, err := a.sessions.Verify(session.TokenFromRequest(r, a.cookie))
		if err != nil {
			if !errors.Is(err, session.ErrMissingToken) {
				a.audit.Record(ctx, audit.TokenRejected, "",
					slog.String("reason", err.Error()),
					slog.String("path", r.URL.Path),
					slog.String("client_ip", a.clientIP(r)))
			}
			mapError(w, err)
			return
		}

		p, err := a.store.PrincipalByID(ctx, subject)
		if errors.Is(err, storage.ErrNotFound) {
			a.audit.Record(ctx, audit.TokenRejected, subject,
				slog.String("reason", "unknown principal"),
				slog.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, msgAuthRequired)
			return
		}
		if err != nil {
			a.writeInternalError(w, r, "loading principal", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalKey, p)))
	})
}

// rateLimit admits a request against the (client, route) counter before the
// handler runs. A limiter that cannot answer fails closed.
func (a *API) rateLimit(route string) func(http.Handler) http.Handler {
	rule := a.rules.For(route)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := a.clientIP(r)
			d, err := a.limiter.CheckAndIncrement(ctx, ratelimit.Key{Client: ip, Route: route}, rule)
			if err != nil {
				a.logger.ErrorContext(ctx, "rate limiter unavailable",
					slog.String("route", route), slog.Any("error", err))
				writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
				return
			}
			if !d.Admitted {
				a.audit.Record(ctx, audit.RateLimited, "",
					slog.String("route", route),
					slog.String("client_ip", ip),
					slog.Int("count", d.Count),
					slog.Int("limit", d.Limit))
				a.metrics.observeRateLimited(route)
				writeRateLimited(w, d.RetryAfter)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := retryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
		Error:             "too many requests; try again later",
		RetryAfterSeconds: secs,
	})
}

// retryAfterSeconds rounds up so a client that waits exactly the hinted
// time lands in the next window.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
