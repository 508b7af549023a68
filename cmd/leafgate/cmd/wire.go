package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jmcleod/leafgate/api"
	"github.com/jmcleod/leafgate/audit"
	"github.com/jmcleod/leafgate/config"
	"github.com/jmcleod/leafgate/inference"
	"github.com/jmcleod/leafgate/ratelimit"
	"github.com/jmcleod/leafgate/session"
	"github.com/jmcleod/leafgate/storage"
	bboltstorage "github.com/jmcleod/leafgate/storage/bbolt"
	memorystorage "github.com/jmcleod/leafgate/storage/memory"
	pgstorage "github.com/jmcleod/leafgate/storage/postgres"
	"github.com/jmcleod/leafgate/upload"
)

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, &config.Error{Field: "log.level", Err: err}
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func openStore(ctx context.Context, cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memorystorage.New(), nil
	case "bbolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := bboltstorage.Open(cfg.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := pgstorage.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return s, nil
	default:
		return nil, &config.Error{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", cfg.Driver)}
	}
}

// gateway is the fully wired process: the HTTP handler plus everything that
// must be released on shutdown, in reverse order of construction.
type gateway struct {
	handler http.Handler
	closers []func() error
}

func (g *gateway) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildGateway constructs every component from cfg. ctx bounds background
// work such as the in-memory limiter sweep. On error everything already
// opened is closed.
func buildGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger, classifierOpts ...inference.HTTPOption) (_ *gateway, err error) {
	g := &gateway{}
	defer func() {
		if err != nil {
			g.Close()
		}
	}()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, store.Close)

	limiter, err := newLimiter(ctx, g, cfg.RateLimit, logger)
	if err != nil {
		return nil, err
	}

	var sessionOpts []session.Option
	if cfg.Session.Revocation {
		sessionOpts = append(sessionOpts, session.WithDenylist(session.NewDenylist(cfg.Session.RevocationCache)))
	}
	sessions, err := session.NewManager(cfg.Session, sessionOpts...)
	if err != nil {
		return nil, err
	}

	classifier, err := inference.NewHTTPClassifier(cfg.Inference, classifierOpts...)
	if err != nil {
		return nil, err
	}
	invoker := inference.NewInvoker(classifier, cfg.Inference.Timeout, inference.WithLogger(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	auditOpts := []audit.Option{
		audit.WithSink(audit.NewAlertCollector(func(a audit.Alert) {
			logger.Warn("security alert",
				slog.String("type", string(a.Type)),
				slog.String("message", a.Message),
				slog.Int("count", a.Count),
				slog.Int("threshold", a.Threshold))
		})),
	}
	if cfg.Metrics.Enabled {
		auditOpts = append(auditOpts, audit.WithSink(audit.NewMetrics(reg)))
	}
	if cfg.Audit.WebhookURL != "" {
		auditOpts = append(auditOpts, audit.WithSink(audit.NewWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookAuthHeader, logger)))
	}
	auditLog := audit.New(logger, auditOpts...)
	g.closers = append(g.closers, auditLog.Close)

	proxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return nil, &config.Error{Field: "server.trusted_proxies", Err: err}
	}

	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithAudit(auditLog),
		api.WithRules(ratelimit.RulesFromConfig(cfg.RateLimit)),
		api.WithCookieOptions(session.CookieOptions{
			Name:   cfg.Session.CookieName,
			Path:   cfg.Session.CookiePath,
			Secure: cfg.Session.CookieSecure,
		}),
		api.WithTrustedProxies(proxies),
		api.WithBcryptCost(cfg.Session.BcryptCost),
		api.WithDevice(classifier.Device()),
	}
	if cfg.Metrics.Enabled {
		apiOpts = append(apiOpts, api.WithMetrics(api.NewMetrics(reg)))
	}
	a := api.New(store, sessions, limiter, upload.NewValidator(cfg.Upload), invoker, apiOpts...)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Mount("/", a.Router())
	g.handler = r
	return g, nil
}

func newLimiter(ctx context.Context, g *gateway, cfg config.RateLimit, logger *slog.Logger) (ratelimit.Limiter, error) {
	if cfg.Backend == "redis" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		g.closers = append(g.closers, client.Close)
		logger.Info("rate limiter using redis", slog.String("addr", cfg.Redis.Addr))
		return ratelimit.NewRedisLimiter(client), nil
	}
	l := ratelimit.NewMemoryLimiter()
	if cfg.SweepInterval > 0 {
		go l.Run(ctx, cfg.SweepInterval)
	}
	return l, nil
}
