// Package pgtest opens a migrated database for store tests. Tests are
// skipped unless PG_TEST_URL points at a disposable database.
package pgtest

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clubbilling/db"
	"github.com/dmitrymomot/clubbilling/pkg/pg"
)

// Pool returns a pool on PG_TEST_URL with migrations applied and every
// billing table truncated.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("PG_TEST_URL")
	if url == "" {
		t.Skip("PG_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := pg.Config{
		ConnectionString:  url,
		MaxOpenConns:      4,
		MaxIdleConns:      1,
		HealthCheckPeriod: time.Minute,
		MaxConnIdleTime:   time.Minute,
		MaxConnLifetime:   time.Minute,
		RetryAttempts:     1,
		RetryInterval:     time.Second,
		MigrationsPath:    "migrations",
		MigrationsTable:   "billing_schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pg.Migrate(ctx, pool, cfg, db.Migrations, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE billing_jobs, billing_events, subscriptions, clubs, tenants`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
