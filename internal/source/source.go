// Package source defines the extraction side of a sync run: a small
// backend-agnostic Source interface plus a registry so backends can be
// selected by config without the pipeline importing drivers.
//
// Backends register themselves from init() and are linked in via the blank
// imports in internal/source/all.
package source

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config selects and parameterizes a source backend.
//
// Edge cases:
//   - Kind must match a registered backend kind.
//   - DSN validation is backend-specific.
type Config struct {
	Kind string
	DSN  string

	// QueryTimeout bounds each Query call. Zero means no extra bound beyond
	// the caller's context.
	QueryTimeout time.Duration
}

// ResultSet is the materialized output of one extraction query: ordered
// column names and positional row values. Values are whatever the driver
// produced (string, int64, float64, bool, time.Time, []byte, nil).
//
// A ResultSet is immutable once returned; the pipeline never writes to it.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// Source is the consumed extraction contract: run one query, get every row.
//
// Extraction is deliberately all-at-once (no row streaming): row volumes here
// are bounded by what a SharePoint list can absorb, and a single materialized
// ResultSet keeps the run model strictly sequential.
type Source interface {
	// Query executes sql and materializes the full result.
	Query(ctx context.Context, sql string) (*ResultSet, error)

	// Ping verifies connectivity without reading data.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool. Call once.
	Close() error
}

type factory func(ctx context.Context, cfg Config) (Source, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "synapse", "postgres").
//
// Panics on empty kind, nil factory, or duplicate registration: backend
// selection must be unambiguous at process start.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("source: Register called with empty kind")
	}
	if f == nil {
		panic("source: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("source: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Source using the registered backend factory.
//
// Errors:
//   - If cfg.Kind is empty or not registered.
//   - Whatever the backend factory returns (typically connect/auth failures,
//     which the pipeline surfaces as connectivity errors).
func New(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("source: missing Kind")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("source: unsupported kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, for error messages and -help.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
