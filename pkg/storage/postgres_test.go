package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"sgecollector/config"
	"sgecollector/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run ^TestOpenPostgresInvalidHost$
func TestOpenPostgresInvalidHost(t *testing.T) {
	cfg := config.PostgresConfig{
		Host:    "invalid.invalid",
		Port:    5432,
		User:    "fail",
		DBName:  "fail",
		SSLMode: "disable",
	}

	_, err := storage.OpenPostgres(cfg, "dev")
	require.Error(t, err)
}

// Needs a reachable server: PG_TEST_HOST=localhost PG_TEST_PASSWORD=... go test -v --run ^TestPostgresRoundTrip$
func TestPostgresRoundTrip(t *testing.T) {
	host := os.Getenv("PG_TEST_HOST")
	if host == "" {
		t.Skip("PG_TEST_HOST not set")
	}
	cfg := &config.Config{
		Environment: "dev",
		Storage:     config.StorageConfig{Driver: "postgres", CreateDB: true},
		Postgres: config.PostgresConfig{
			Host:     host,
			Port:     5432,
			User:     "postgres",
			Password: os.Getenv("PG_TEST_PASSWORD"),
			DBName:   "sge_collector_test",
			SSLMode:  "disable",
		},
	}

	client, err := storage.InitializeAndMigrate(cfg)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, client.IsHealthy(ctx))

	day := "1999-12-31"
	before, err := client.QuotaCount(ctx, day)
	require.NoError(t, err)
	require.NoError(t, client.IncrementQuota(ctx, day))
	after, err := client.QuotaCount(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}
