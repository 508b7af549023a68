package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_MissingSecretFailsFast(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", "")
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := Load("")
	require.Error(t, err)

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "session.secret", cfgErr.Field)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestLoad_ShortSecretRejected(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", "too-short")

	_, err := Load("")
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "session", cfgErr.Field)
}

func TestLoad_DefaultsFromEnvironment(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", testSecret)

	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", conf.Server.Addr)
	assert.Equal(t, 24*time.Hour, conf.Session.Lifetime)
	assert.Equal(t, "leafgate_session", conf.Session.CookieName)
	assert.Equal(t, RouteLimit{Limit: 5, Window: time.Minute}, conf.RateLimit.Routes["login"])
	assert.Equal(t, int64(10<<20), conf.Upload.MaxBytes)
	assert.Equal(t, []string{"jpeg", "png", "webp"}, conf.Upload.AllowedFormats)
	assert.Equal(t, DefaultLabels, conf.Inference.Labels)
	assert.Equal(t, "bbolt", conf.Storage.Driver)
}

func TestLoad_LegacySecretVariable(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", "")
	t.Setenv("JWT_SECRET_KEY", testSecret)

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, testSecret, conf.Session.Secret)
}

func TestLoad_FileOverrides(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", testSecret)

	dir := t.TempDir()
	path := filepath.Join(dir, "leafgate.yaml")
	body := strings.Join([]string{
		"server:",
		"  addr: 127.0.0.1:9000",
		"  trusted_proxies: [10.0.0.0/8, 192.168.1.10]",
		"rate_limit:",
		"  routes:",
		"    login:",
		"      limit: 3",
		"      window: 30s",
		"storage:",
		"  driver: memory",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", conf.Server.Addr)
	assert.Equal(t, RouteLimit{Limit: 3, Window: 30 * time.Second}, conf.RateLimit.Routes["login"])
	assert.Equal(t, 5, conf.RateLimit.Routes["register"].Limit, "untouched routes keep defaults")
	assert.Equal(t, "memory", conf.Storage.Driver)

	prefixes, err := conf.Server.TrustedProxyPrefixes()
	require.NoError(t, err)
	require.Len(t, prefixes, 2)
	assert.Equal(t, "10.0.0.0/8", prefixes[0].String())
	assert.Equal(t, "192.168.1.10/32", prefixes[1].String())
}

func TestValidate_RejectsBadRouteLimit(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", testSecret)
	conf, err := Load("")
	require.NoError(t, err)

	conf.RateLimit.Routes["login"] = RouteLimit{Limit: 0, Window: time.Minute}
	err = conf.Validate()

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "rate_limit.routes.login.limit", cfgErr.Field)
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LEAFGATE_STORAGE_DRIVER", "postgres")

	_, err := Load("")
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "storage.dsn", cfgErr.Field)
}

func TestValidate_RedisBackendNeedsAddr(t *testing.T) {
	t.Setenv("LEAFGATE_SESSION_SECRET", testSecret)
	t.Setenv("LEAFGATE_RATE_LIMIT_BACKEND", "redis")

	_, err := Load("")
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "rate_limit.redis.addr", cfgErr.Field)
}
