package db

import (
	"net/url"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
)

func TestDatabaseURL_KeepsCredentialsIntact(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:     "db.internal",
		Port:     "5433",
		User:     "shop owner",
		Password: "p@ss word+/:?#%",
		DBName:   "storefront",
		SSLMode:  "require",
	}

	t.Run("migrate_url", func(t *testing.T) {
		u, err := url.Parse(databaseURL("pgx5", cfg))
		require.NoError(t, err)

		assert.Equal(t, "pgx5", u.Scheme)
		assert.Equal(t, "shop owner", u.User.Username())
		password, ok := u.User.Password()
		require.True(t, ok)
		assert.Equal(t, cfg.Password, password)
		assert.Equal(t, "db.internal:5433", u.Host)
		assert.Equal(t, "/storefront", u.Path)
		assert.Equal(t, "require", u.Query().Get("sslmode"))
	})

	t.Run("pool_config", func(t *testing.T) {
		poolCfg, err := pgxpool.ParseConfig(connString(cfg))
		require.NoError(t, err)

		assert.Equal(t, "shop owner", poolCfg.ConnConfig.User)
		assert.Equal(t, cfg.Password, poolCfg.ConnConfig.Password)
		assert.Equal(t, "db.internal", poolCfg.ConnConfig.Host)
		assert.Equal(t, uint16(5433), poolCfg.ConnConfig.Port)
		assert.Equal(t, "storefront", poolCfg.ConnConfig.Database)
	})
}
