// Package sqlite implements a file-backed source backend used for fixtures
// and integration-style tests: seed a .db file, point the registry at it,
// and run the full pipeline without any warehouse.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"spsync/internal/source"
)

func init() {
	source.Register("sqlite", func(ctx context.Context, cfg source.Config) (source.Source, error) {
		return New(ctx, cfg)
	})
}

// Client is a source.Source over a sqlite database file.
type Client struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// New opens and pings the sqlite file named by cfg.DSN.
func New(ctx context.Context, cfg source.Config) (*Client, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// modernc sqlite serializes writes; one connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}
	return &Client{db: db, queryTimeout: cfg.QueryTimeout}, nil
}

// Query materializes the full result of sql.
func (c *Client) Query(ctx context.Context, query string) (*source.ResultSet, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	rs, err := source.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return rs, nil
}

// Ping verifies the database file is readable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close releases the handle.
func (c *Client) Close() error {
	return c.db.Close()
}
