// Package api is the HTTP surface of the gateway. Every request passes the
// same admission pipeline: rate limit, then session, then (for uploads)
// content validation, before any handler does real work.
package api

import (
	"context"
	_ "embed"
	"image"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"
	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/leafgate/audit"
	"github.com/jmcleod/leafgate/inference"
	"github.com/jmcleod/leafgate/ratelimit"
	"github.com/jmcleod/leafgate/session"
	"github.com/jmcleod/leafgate/storage"
	"github.com/jmcleod/leafgate/upload"
)

// Route classes used as rate-limit keys.
const (
	RouteRegister = "register"
	RouteLogin    = "login"
	RouteLogout   = "logout"
	RouteMe       = "me"
	RouteAnalyses = "analyses"
	RoutePredict  = "predict"
)

// Predictor runs one classification. *inference.Invoker implements it.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) (inference.Prediction, error)
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	store          storage.Store
	sessions       *session.Manager
	limiter        ratelimit.Limiter
	rules          ratelimit.Rules
	validator      *upload.Validator
	predictor      Predictor
	audit          *audit.Log
	logger         *slog.Logger
	metrics        *Metrics
	cookie         session.CookieOptions
	trustedProxies []netip.Prefix
	bcryptCost     int
	device         string
	readyTimeout   time.Duration

	dummyHash func() []byte
}

//go:embed openapi.yaml
var openapiDocument []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for handler errors. Unless
// WithAudit is also given, audit events go through the same logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithAudit sets the audit log.
func WithAudit(l *audit.Log) Option {
	return func(a *API) {
		a.audit = l
	}
}

// WithRules sets the per-route rate-limit rules.
func WithRules(rules ratelimit.Rules) Option {
	return func(a *API) {
		a.rules = rules
	}
}

// WithCookieOptions scopes the session cookie.
func WithCookieOptions(opts session.CookieOptions) Option {
	return func(a *API) {
		a.cookie = opts
	}
}

// WithTrustedProxies sets the reverse proxies whose forwarding headers are
// believed when deriving the client address.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithBcryptCost sets the cost used when hashing new passwords.
func WithBcryptCost(cost int) Option {
	return func(a *API) {
		a.bcryptCost = cost
	}
}

// WithDevice sets the device string reported by /health.
func WithDevice(device string) Option {
	return func(a *API) {
		a.device = device
	}
}

// WithMetrics enables the Prometheus middleware and the /metrics route.
func WithMetrics(m *Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// New creates a new API instance.
func New(store storage.Store, sessions *session.Manager, limiter ratelimit.Limiter,
	validator *upload.Validator, predictor Predictor, opts ...Option) *API {
	a := &API{
		store:        store,
		sessions:     sessions,
		limiter:      limiter,
		validator:    validator,
		predictor:    predictor,
		rules:        ratelimit.Rules{Default: ratelimit.Rule{Limit: 60, Window: time.Minute}},
		bcryptCost:   bcrypt.DefaultCost,
		device:       "remote",
		readyTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.audit == nil {
		a.audit = audit.New(a.logger)
	}
	cost := a.bcryptCost
	a.dummyHash = sync.OnceValue(func() []byte {
		h, _ := bcrypt.GenerateFromPassword([]byte("leafgate-timing-equalizer"), cost)
		return h
	})
	return a
}

// Router returns a chi.Router with all routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(SecurityHeaders)
	if a.metrics != nil {
		r.Use(a.metrics.middleware)
	}
	r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiDocument)
	})
	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Get("/health", a.Health)
	r.Get("/ready", a.Ready)

	r.Route("/api", func(r chi.Router) {
		r.With(a.rateLimit(RouteRegister)).Post("/register", a.Register)
		r.With(a.rateLimit(RouteLogin)).Post("/login", a.Login)
		r.With(a.rateLimit(RouteLogout)).Post("/logout", a.Logout)
		r.With(a.rateLimit(RouteMe), a.requireSession).Get("/me", a.Me)
		r.With(a.rateLimit(RouteAnalyses), a.requireSession).Get("/analyses", a.ListAnalyses)
	})

	r.With(a.rateLimit(RoutePredict), a.requireSession).Post("/predict", a.Predict)

	return r
}
