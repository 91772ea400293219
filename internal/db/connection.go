package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// ErrMissingDSN is returned when no Postgres connection string is configured
var ErrMissingDSN = errors.New("NAICS_PUBLISH_DSN is required")

// Connection holds the Postgres connection for published years
type Connection struct {
	DB *sql.DB
}

// NewConnection opens and pings a Postgres database
func NewConnection(ctx context.Context, dsn string) (*Connection, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// one publish transaction at a time
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return &Connection{DB: db}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
