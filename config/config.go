// Package config loads the process-wide gateway configuration. A Config is
// built once at startup and passed by value or pointer into the components
// that need it; nothing in the module reads configuration globally.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

// MinSecretLen is the minimum accepted length of the session signing secret.
const MinSecretLen = 32

// Error reports a missing or invalid setting. It is fatal: the server
// refuses to start rather than fall back to a default.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrMissing is wrapped by *Error when a required setting is absent.
	ErrMissing = errors.New("required setting is missing")
)

type Server struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
}

type Session struct {
	Secret          string        `mapstructure:"secret" validate:"required|minLen:32"`
	Lifetime        time.Duration `mapstructure:"lifetime"`
	CookieName      string        `mapstructure:"cookie_name" validate:"required"`
	CookiePath      string        `mapstructure:"cookie_path" validate:"required|startsWith:/"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	Revocation      bool          `mapstructure:"revocation"`
	RevocationCache int           `mapstructure:"revocation_cache_mb" validate:"min:1"`
	BcryptCost      int           `mapstructure:"bcrypt_cost" validate:"min:4|max:31"`
}

// RouteLimit is the (limit, window) pair applied to one route class.
type RouteLimit struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimit struct {
	Backend       string                `mapstructure:"backend" validate:"required|in:memory,redis"`
	SweepInterval time.Duration         `mapstructure:"sweep_interval"`
	Default       RouteLimit            `mapstructure:"default"`
	Routes        map[string]RouteLimit `mapstructure:"routes"`
	Redis         Redis                 `mapstructure:"redis"`
}

type Upload struct {
	MaxBytes       int64    `mapstructure:"max_bytes" validate:"min:1"`
	MaxPixels      int      `mapstructure:"max_pixels" validate:"min:1"`
	AllowedFormats []string `mapstructure:"allowed_formats"`
}

type Inference struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Labels    []string      `mapstructure:"labels"`
	Device    string        `mapstructure:"device"`
	InputSize int           `mapstructure:"input_size" validate:"min:1"`
}

type Storage struct {
	Driver string `mapstructure:"driver" validate:"required|in:memory,bbolt,postgres"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type Audit struct {
	WebhookURL        string `mapstructure:"webhook_url"`
	WebhookAuthHeader string `mapstructure:"webhook_auth_header"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"required|in:debug,info,warn,error"`
	Format string `mapstructure:"format" validate:"required|in:json,text"`
}

// Config is the complete, immutable gateway configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Session   Session   `mapstructure:"session"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Upload    Upload    `mapstructure:"upload"`
	Inference Inference `mapstructure:"inference"`
	Storage   Storage   `mapstructure:"storage"`
	Audit     Audit     `mapstructure:"audit"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Log       Log       `mapstructure:"log"`
}

// DefaultLabels are the classes produced by the tomato leaf model.
var DefaultLabels = []string{"Early_blight", "Late_blight", "Tomato_Yellow_Leaf_Curl_Virus", "healthy"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("session.lifetime", 24*time.Hour)
	v.SetDefault("session.cookie_name", "leafgate_session")
	v.SetDefault("session.cookie_path", "/")
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("session.revocation", true)
	v.SetDefault("session.revocation_cache_mb", 8)
	v.SetDefault("session.bcrypt_cost", 12)

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.sweep_interval", time.Minute)
	v.SetDefault("rate_limit.default.limit", 60)
	v.SetDefault("rate_limit.default.window", time.Minute)
	v.SetDefault("rate_limit.routes", map[string]any{
		"login":    map[string]any{"limit": 5, "window": "1m"},
		"register": map[string]any{"limit": 5, "window": "10m"},
		"logout":   map[string]any{"limit": 30, "window": "1m"},
		"me":       map[string]any{"limit": 120, "window": "1m"},
		"analyses": map[string]any{"limit": 60, "window": "1m"},
		"predict":  map[string]any{"limit": 30, "window": "1m"},
	})

	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.max_pixels", 40_000_000)
	v.SetDefault("upload.allowed_formats", []string{"jpeg", "png", "webp"})

	v.SetDefault("inference.timeout", 10*time.Second)
	v.SetDefault("inference.labels", DefaultLabels)
	v.SetDefault("inference.device", "remote")
	v.SetDefault("inference.input_size", 224)

	v.SetDefault("storage.driver", "bbolt")
	v.SetDefault("storage.path", "./data/leafgate.db")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the YAML file at path (optional; empty skips the file) and the
// LEAFGATE_* environment, then validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEAFGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by earlier deployments of the service.
	v.BindEnv("session.secret", "LEAFGATE_SESSION_SECRET", "JWT_SECRET_KEY")
	v.BindEnv("storage.dsn", "LEAFGATE_STORAGE_DSN", "DATABASE_URL")

	if path != "" {
		filename := filepath.Base(path)
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Field: "file", Err: err}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, &Error{Field: "decode", Err: err}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks every section. The first failure is returned as *Error.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return &Error{Field: "session.secret", Err: ErrMissing}
	}

	sections := []struct {
		name string
		v    any
	}{
		{"server", &c.Server},
		{"session", &c.Session},
		{"rate_limit", &c.RateLimit},
		{"upload", &c.Upload},
		{"inference", &c.Inference},
		{"storage", &c.Storage},
		{"log", &c.Log},
	}
	for _, s := range sections {
		v := validate.Struct(s.v)
		if !v.Validate() {
			return &Error{Field: s.name, Err: v.Errors}
		}
	}

	if c.Session.Lifetime <= 0 {
		return &Error{Field: "session.lifetime", Err: errors.New("must be positive")}
	}
	if c.Inference.Timeout <= 0 {
		return &Error{Field: "inference.timeout", Err: errors.New("must be positive")}
	}
	if len(c.Inference.Labels) == 0 {
		return &Error{Field: "inference.labels", Err: ErrMissing}
	}
	if len(c.Upload.AllowedFormats) == 0 {
		return &Error{Field: "upload.allowed_formats", Err: ErrMissing}
	}
	if err := checkRouteLimit("rate_limit.default", c.RateLimit.Default); err != nil {
		return err
	}
	for route, rl := range c.RateLimit.Routes {
		if err := checkRouteLimit("rate_limit.routes."+route, rl); err != nil {
			return err
		}
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.Redis.Addr == "" {
		return &Error{Field: "rate_limit.redis.addr", Err: ErrMissing}
	}
	switch c.Storage.Driver {
	case "bbolt":
		if c.Storage.Path == "" {
			return &Error{Field: "storage.path", Err: ErrMissing}
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return &Error{Field: "storage.dsn", Err: ErrMissing}
		}
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return &Error{Field: "server.trusted_proxies", Err: err}
	}
	return nil
}

func checkRouteLimit(field string, rl RouteLimit) error {
	if rl.Limit < 1 {
		return &Error{Field: field + ".limit", Err: errors.New("must be at least 1")}
	}
	if rl.Window <= 0 {
		return &Error{Field: field + ".window", Err: errors.New("must be positive")}
	}
	return nil
}

// TrustedProxyPrefixes parses the trusted proxy list. Bare addresses are
// accepted as single-host prefixes.
func (s Server) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
