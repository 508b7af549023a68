package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jmcleod/leafgate/config"
	pgstorage "github.com/jmcleod/leafgate/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long: `Applies or rolls back the embedded schema migrations. Only meaningful with
storage.driver=postgres; the server also applies pending migrations at
startup.`,
}

// withPool opens a pool for the configured DSN without migrating, so that
// down and status see the schema as it is.
func withPool(ctx context.Context, fn func(*pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver != "postgres" {
		return &config.Error{Field: "storage.driver", Err: fmt.Errorf("migrate requires postgres, got %q", cfg.Storage.Driver)}
	}
	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	return fn(pool)
}

func reportVersion(cmd *cobra.Command, pool *pgxpool.Pool) error {
	v, err := pgstorage.SchemaVersion(cmd.Context(), pool)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d\n", v)
	return nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			if err := pgstorage.Migrate(cmd.Context(), pool); err != nil {
				return fmt.Errorf("applying migrations: %w", err)
			}
			return reportVersion(cmd, pool)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			if err := pgstorage.MigrateDown(cmd.Context(), pool); err != nil {
				return fmt.Errorf("rolling back migration: %w", err)
			}
			return reportVersion(cmd, pool)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd.Context(), func(pool *pgxpool.Pool) error {
			return reportVersion(cmd, pool)
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}
