package source

import (
	"database/sql"
	"fmt"
)

// Collect drains a database/sql result into a ResultSet. Shared by the
// database/sql-based backends (synapse, sqlite).
//
// []byte values are copied: drivers are allowed to reuse scan buffers between
// Next calls, and the ResultSet outlives the rows cursor.
func Collect(rows *sql.Rows) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("source: columns: %w", err)
	}

	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("source: scan row %d: %w", len(rs.Rows)+1, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				cp := make([]byte, len(b))
				copy(cp, b)
				values[i] = cp
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: iterate rows: %w", err)
	}
	return rs, nil
}
