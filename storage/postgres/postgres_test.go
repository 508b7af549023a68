package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/leafgate/storage"
	"github.com/jmcleod/leafgate/storage/storagetest"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("LEAFGATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEAFGATE_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, pool))
	t.Cleanup(pool.Close)
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE analyses, users`)
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	pool := newTestPool(t)
	storagetest.Run(t, func(t *testing.T) storage.Store {
		truncate(t, pool)
		return New(pool)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, pool))
	version, err := SchemaVersion(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir(migrationDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	data, err := migrationFS.ReadFile(migrationDir + "/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS users")
}
