// Package dbtest connects repository integration tests to a real Postgres.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Run is meant to be called from TestMain. It connects using the *_TEST
// variables, applies migrations found at migrationsDir and runs the tests.
// Without DB_HOST_TEST *pool stays nil and integration tests skip via Require.
func Run(m *testing.M, migrationsDir string, pool **pgxpool.Pool) {
	if os.Getenv("DB_HOST_TEST") == "" {
		log.Info().Msg("TEST SETUP: DB_HOST_TEST not set, integration tests will be skipped")
		os.Exit(m.Run())
	}

	abs, err := filepath.Abs(migrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("TEST SETUP: bad migrations path")
	}

	cfg := config.PostgresConfig{
		Host:            os.Getenv("DB_HOST_TEST"),
		Port:            env("DB_PORT_TEST", "5432"),
		User:            env("DB_USER_TEST", "postgres"),
		Password:        env("DB_PASSWORD_TEST", "postgres"),
		DBName:          env("DB_NAME_TEST", "storefront_test"),
		SSLMode:         env("DB_SSLMODE_TEST", "disable"),
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: time.Minute,
		MigrationsPath:  abs,
	}

	if err := db.Migrate(cfg); err != nil {
		log.Fatal().Err(err).Msg("TEST SETUP: failed to migrate test database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := db.New(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("db_host", cfg.Host).Msg("TEST SETUP: failed to connect to test database")
	}
	*pool = pg.Pool

	exitCode := m.Run()

	pg.Close()
	os.Exit(exitCode)
}

// Require skips the calling test when no database is configured.
func Require(tb testing.TB, pool *pgxpool.Pool) {
	tb.Helper()
	if pool == nil {
		tb.Skip("DB_HOST_TEST not set")
	}
}

// Truncate empties the given tables, cascading to dependents.
func Truncate(tb testing.TB, pool *pgxpool.Pool, tables ...string) {
	tb.Helper()
	for _, table := range tables {
		_, err := pool.Exec(context.Background(), "TRUNCATE TABLE "+table+" RESTART IDENTITY CASCADE")
		require.NoError(tb, err, "failed to truncate %s", table)
	}
}
