// Package postgres implements a pgx-backed source backend.
//
// Production extraction runs against Synapse; this backend exists for dev and
// staging environments that mirror warehouse tables into Postgres, so the
// same registry JSON can be exercised end to end without an Azure
// subscription.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"spsync/internal/source"
)

func init() {
	source.Register("postgres", func(ctx context.Context, cfg source.Config) (source.Source, error) {
		return New(ctx, cfg)
	})
}

// Client is a source.Source over a pgx pool.
type Client struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// New opens and pings a pool for cfg.DSN.
func New(ctx context.Context, cfg source.Config) (*Client, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Client{pool: pool, queryTimeout: cfg.QueryTimeout}, nil
}

// Query materializes the full result of sql.
func (c *Client) Query(ctx context.Context, query string) (*source.ResultSet, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &source.ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: scan row %d: %w", len(rs.Rows)+1, err)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate rows: %w", err)
	}
	return rs, nil
}

// Ping verifies the pool is still usable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}
