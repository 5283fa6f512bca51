package storage

import (
	"context"
	"fmt"

	"sgecollector/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client owns every persisted entity: the price series and the per-day
// rate-source quota. A Client obtained inside Transaction is bound to that
// transaction.
type Client struct {
	DB *gorm.DB
}

// NewClient opens a gorm connection with the given dialector.
func NewClient(dialector gorm.Dialector) (*Client, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Client{DB: db}, nil
}

// OpenSQLite opens (creating if needed) a sqlite database file. Use
// "file::memory:" for a throwaway database.
func OpenSQLite(path string) (*Client, error) {
	c, err := NewClient(sqlite.Open(path))
	if err != nil {
		return nil, err
	}
	// single writer; also keeps an in-memory database alive across calls
	sqlDB, err := c.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return c, nil
}

// OpenPostgres connects to Postgres using the collector's pool settings.
func OpenPostgres(cfg config.PostgresConfig, env string) (*Client, error) {
	c, err := NewClient(postgres.Open(cfg.DSN(env)))
	if err != nil {
		return nil, err
	}
	sqlDB, err := c.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return c, nil
}

// InitializeAndMigrate opens the store selected by cfg, optionally creates
// the Postgres database, and runs AutoMigrate.
func InitializeAndMigrate(cfg *config.Config) (*Client, error) {
	var (
		client *Client
		err    error
	)

	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Storage.CreateDB {
			if err := CreateDatabase(cfg.Postgres, cfg.Environment); err != nil {
				return nil, fmt.Errorf("failed to create database: %w", err)
			}
		}
		client, err = OpenPostgres(cfg.Postgres, cfg.Environment)
	case "sqlite":
		client, err = OpenSQLite(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.AutoMigrate(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

// AutoMigrate creates the prices and api_requests tables.
func (c *Client) AutoMigrate() error {
	if err := c.DB.AutoMigrate(&PriceRecord{}, &QuotaRecord{}); err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}
	return nil
}

// Transaction runs fn inside one database transaction. Anything fn writes
// through the Client it receives is rolled back if fn returns an error or
// panics.
func (c *Client) Transaction(ctx context.Context, fn func(tx *Client) error) error {
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Client{DB: tx})
	})
}

func (c *Client) IsHealthy(ctx context.Context) bool {
	db, err := c.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (c *Client) Close() error {
	db, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
