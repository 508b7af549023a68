// Package postgres implements storage.Store backed by PostgreSQL.
//
// The schema keeps the table and column names of the original deployment
// (users, analyses.predicted_class, analyses.analyzed_at) so existing data
// can be served without a rename. Migrations are embedded and applied with
// goose.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/jmcleod/leafgate/internal/uuid"
	"github.com/jmcleod/leafgate/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationDir = "migrations"

// SQLSTATE codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// New returns a Store backed by the given pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open creates a connection pool from dsn, applies pending migrations, and
// returns a new Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return New(pool), nil
}

func withDB(pool *pgxpool.Pool, fn func(db *sql.DB) error) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return fn(db)
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return withDB(pool, func(db *sql.DB) error {
		return goose.UpContext(ctx, db, migrationDir)
	})
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, pool *pgxpool.Pool) error {
	return withDB(pool, func(db *sql.DB) error {
		return goose.DownContext(ctx, db, migrationDir)
	})
}

// SchemaVersion returns the current goose schema version.
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var version int64
	err := withDB(pool, func(db *sql.DB) error {
		var err error
		version, err = goose.GetDBVersionContext(ctx, db)
		return err
	})
	return version, err
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (s *Store) CreatePrincipal(ctx context.Context, p *storage.Principal) error {
	p.Email = storage.NormalizeEmail(p.Email)
	if p.ID == "" {
		p.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, first_name, last_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		 RETURNING created_at`,
		p.ID, p.Email, p.CredentialHash, p.FirstName, p.LastName, nullTime(p)).Scan(&p.CreatedAt)
	if pgCode(err) == codeUniqueViolation {
		return storage.ErrEmailTaken
	}
	return err
}

func nullTime(p *storage.Principal) any {
	if p.CreatedAt.IsZero() {
		return nil
	}
	return p.CreatedAt
}

const selectPrincipal = `SELECT id, email, password_hash, first_name, last_name, created_at FROM users`

func scanPrincipal(row pgx.Row) (*storage.Principal, error) {
	var p storage.Principal
	err := row.Scan(&p.ID, &p.Email, &p.CredentialHash, &p.FirstName, &p.LastName, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) PrincipalByEmail(ctx context.Context, email string) (*storage.Principal, error) {
	return scanPrincipal(s.pool.QueryRow(ctx, selectPrincipal+` WHERE email = $1`, storage.NormalizeEmail(email)))
}

func (s *Store) PrincipalByID(ctx context.Context, id string) (*storage.Principal, error) {
	return scanPrincipal(s.pool.QueryRow(ctx, selectPrincipal+` WHERE id = $1`, id))
}

func (s *Store) InsertAnalysis(ctx context.Context, rec *storage.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	var createdAt any
	if !rec.CreatedAt.IsZero() {
		createdAt = rec.CreatedAt
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO analyses (id, user_id, predicted_class, confidence, analyzed_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, now()))
		 RETURNING analyzed_at`,
		rec.ID, rec.PrincipalID, rec.PredictedLabel, rec.Confidence, createdAt).Scan(&rec.CreatedAt)
	if pgCode(err) == codeForeignKeyViolation {
		return fmt.Errorf("principal %s: %w", rec.PrincipalID, storage.ErrNotFound)
	}
	return err
}

func (s *Store) ListAnalyses(ctx context.Context, principalID string, limit, offset int) ([]storage.AnalysisRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM analyses WHERE user_id = $1`, principalID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}

	// LIMIT NULL means no limit.
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, predicted_class, confidence, analyzed_at
		 FROM analyses WHERE user_id = $1
		 ORDER BY analyzed_at DESC, id DESC
		 LIMIT NULLIF($2::int, 0) OFFSET $3`,
		principalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []storage.AnalysisRecord{}
	for rows.Next() {
		var rec storage.AnalysisRecord
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &rec.PredictedLabel, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
