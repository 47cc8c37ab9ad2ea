package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

//go:embed schema.sql
var schema string

// DB is the shared pool behind every store in this package.
type DB struct {
	*sql.DB
}

// Config holds pool settings. Zero values fall back to the pool defaults below.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = time.Minute
	}
	return c
}

// Connect opens the pool and pings it. Schema setup is left to InitSchema.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: database url is empty", domain.ErrInvalidInput)
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: postgres: %v", domain.ErrServiceUnavailable, err)
	}
	return &DB{DB: db}, nil
}

// InitSchema applies the embedded schema and checks that pgvector is installed.
// Every statement is IF NOT EXISTS, so it is safe to run on each deploy.
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	version, err := db.VectorVersion(ctx)
	if err != nil {
		return err
	}
	if version == "" {
		return fmt.Errorf("%w: pgvector extension is not installed", domain.ErrServiceUnavailable)
	}
	return nil
}

// VectorVersion returns the installed pgvector version, or "" when absent.
func (db *DB) VectorVersion(ctx context.Context) (string, error) {
	var version string
	err := db.QueryRowContext(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read pgvector version: %w", err)
	}
	return version, nil
}

// Ping satisfies the readiness check
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}
