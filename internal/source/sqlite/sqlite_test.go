package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"spsync/internal/source"
)

func seedClient(t *testing.T) *Client {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")
	c, err := New(context.Background(), source.Config{Kind: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	stmts := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT, email TEXT)`,
		`INSERT INTO customers VALUES (1, 'alpha', 'a@example.com')`,
		`INSERT INTO customers VALUES (2, 'beta', NULL)`,
	}
	for _, s := range stmts {
		if _, err := c.db.ExecContext(context.Background(), s); err != nil {
			t.Fatalf("seed %q: %v", s, err)
		}
	}
	return c
}

func TestQuery_MaterializesRows(t *testing.T) {
	t.Parallel()

	c := seedClient(t)
	rs, err := c.Query(context.Background(), "SELECT id, name, email FROM customers ORDER BY id")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if rs.Len() != 2 {
		t.Fatalf("got %d rows, want 2", rs.Len())
	}
	if len(rs.Columns) != 3 || rs.Columns[0] != "id" {
		t.Fatalf("columns = %v", rs.Columns)
	}
	if rs.Rows[0][0] != int64(1) {
		t.Fatalf("row 0 id = %#v, want int64(1)", rs.Rows[0][0])
	}
	if rs.Rows[1][2] != nil {
		t.Fatalf("NULL email = %#v, want nil", rs.Rows[1][2])
	}
}

func TestQuery_BadSQL(t *testing.T) {
	t.Parallel()

	c := seedClient(t)
	if _, err := c.Query(context.Background(), "SELECT nope FROM nowhere"); err == nil {
		t.Fatal("Query with bad SQL succeeded")
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	c := seedClient(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRegistryIntegration(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reg.db")
	s, err := source.New(context.Background(), source.Config{Kind: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("source.New: %v", err)
	}
	defer s.Close()

	if _, ok := s.(*Client); !ok {
		t.Fatalf("factory returned %T, want *sqlite.Client", s)
	}
}
