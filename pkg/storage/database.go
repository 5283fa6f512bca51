package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sgecollector/config"

	"github.com/lib/pq"
)

const bootstrapTimeout = 10 * time.Second

// CreateDatabase makes sure cfg.DBName exists on the server, creating it
// through the admin connection on first start.
func CreateDatabase(cfg config.PostgresConfig, env string) error {
	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	// Connect to the server's default 'postgres' DB
	admin, err := sql.Open("postgres", cfg.AdminDSN(env))
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	defer admin.Close()

	if err := admin.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin db: %w", err)
	}

	// Nothing to do when the collector DB is already there
	var exists bool
	const query = `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1);`
	if err := admin.QueryRowContext(ctx, query, cfg.DBName).Scan(&exists); err != nil {
		return fmt.Errorf("check db exists failed: %w", err)
	}
	if exists {
		return nil
	}

	// CREATE DATABASE takes no bind parameters, so quote the name instead
	stmt := "CREATE DATABASE " + pq.QuoteIdentifier(cfg.DBName)
	if _, err := admin.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create db %s failed: %w", cfg.DBName, err)
	}
	return nil
}
