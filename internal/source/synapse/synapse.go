// Package synapse implements the source backend for Azure Synapse dedicated
// and serverless SQL pools, which speak the SQL Server wire protocol.
//
// Two auth modes:
//   - SQL auth: plain sqlserver driver with user id/password in the DSN.
//   - Managed identity: the azuread driver with fedauth, for runs hosted on
//     Azure compute with an assigned identity.
package synapse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb" // register the "sqlserver" driver
	"github.com/microsoft/go-mssqldb/azuread"

	"spsync/internal/source"
)

func init() {
	source.Register("synapse", func(ctx context.Context, cfg source.Config) (source.Source, error) {
		return New(ctx, cfg)
	})
}

// Options are the connection parameters the DSN is built from. cmd binaries
// populate this from config.Settings; tests use literals.
type Options struct {
	Server   string
	Database string
	Username string
	Password string

	// UseManagedIdentity selects Azure AD fedauth instead of SQL auth.
	UseManagedIdentity bool

	// ConnectTimeout bounds the dial; also applied as the login timeout.
	ConnectTimeout time.Duration
}

// BuildDSN renders the ADO-style connection string for Options.
// Encryption is always on and certificate verification is never skipped:
// Synapse endpoints are public TLS endpoints.
func BuildDSN(o Options) string {
	parts := []string{
		"server=" + o.Server,
		"database=" + o.Database,
	}
	if o.UseManagedIdentity {
		parts = append(parts, "fedauth=ActiveDirectoryManagedIdentity")
	} else {
		parts = append(parts, "user id="+o.Username, "password="+o.Password)
	}
	parts = append(parts, "encrypt=true", "TrustServerCertificate=false")
	if o.ConnectTimeout > 0 {
		secs := int(o.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, fmt.Sprintf("dial timeout=%d", secs))
	}
	return strings.Join(parts, ";")
}

// driverName picks the database/sql driver for a DSN: a fedauth key routes
// through the azuread driver (token acquisition happens inside it),
// otherwise plain "sqlserver".
func driverName(dsn string) string {
	if strings.Contains(strings.ToLower(dsn), "fedauth=") {
		return azuread.DriverName
	}
	return "sqlserver"
}

// Client is a source.Source over a SQL Server connection pool.
type Client struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// New opens and pings the pool described by cfg.DSN.
//
// The DSN decides auth: a fedauth token key routes through the azuread
// driver. Ping happens here so connectivity failures surface at construction,
// before any extraction begins.
func New(ctx context.Context, cfg source.Config) (*Client, error) {
	db, err := sql.Open(driverName(cfg.DSN), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("synapse: open: %w", err)
	}

	// Sequential extraction never needs more than a couple of connections.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("synapse: connect: %w", err)
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
		return nil, fmt.Errorf("synapse: query: %w", err)
	}
	defer rows.Close()

	rs, err := source.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("synapse: %w", err)
	}
	return rs, nil
}

// Ping verifies the connection is still alive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("synapse: ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.db.Close()
}
