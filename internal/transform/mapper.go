// Package transform implements the field-mapping and batching stages between
// extraction and load.
//
// The mapper is a total function: every source value has a defined target
// value, and nothing in this package returns an error for data. A value that
// cannot be coerced into its declared type degrades to its default textual
// representation rather than aborting the batch.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spsync/internal/config"
	"spsync/internal/source"
)

// TargetRow is one list-shaped row: ordered field names plus coerced values.
// Values are one of string, int64/float64 (or the driver's numeric type,
// passed through), bool, RFC-3339 string for timestamps, or nil.
type TargetRow struct {
	Names  []string
	Values []any
}

// Fields renders the row as the JSON object submitted to the list API.
func (r TargetRow) Fields() map[string]any {
	out := make(map[string]any, len(r.Names))
	for i, n := range r.Names {
		out[n] = r.Values[i]
	}
	return out
}

// Value returns the value for a field name, with presence.
func (r TargetRow) Value(name string) (any, bool) {
	for i, n := range r.Names {
		if n == name {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Key returns the textual form of a field value for key matching.
// Missing or nil keys return "".
func (r TargetRow) Key(name string) string {
	v, ok := r.Value(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Mapper renames source columns per a static mapping table and coerces
// values. Columns without a mapping pass through under their original name.
type Mapper struct {
	rules map[string]config.FieldMapping
}

// NewMapper builds a Mapper from validated registry mappings. Validation
// (duplicate targets, unknown types, field-name rules) happens at startup in
// config.ValidateRegistry; the mapper trusts its input.
func NewMapper(fm []config.FieldMapping) *Mapper {
	rules := make(map[string]config.FieldMapping, len(fm))
	for _, m := range fm {
		rules[m.Source] = m
	}
	return &Mapper{rules: rules}
}

// MapRow maps one positional source row. columns and values must be the same
// length; column order is preserved in the output.
func (m *Mapper) MapRow(columns []string, values []any) TargetRow {
	out := TargetRow{
		Names:  make([]string, len(columns)),
		Values: make([]any, len(columns)),
	}
	for i, col := range columns {
		name := col
		declared := ""
		if rule, ok := m.rules[col]; ok {
			name = rule.Target
			declared = rule.Type
		}
		out.Names[i] = name
		out.Values[i] = Coerce(values[i], declared)
	}
	return out
}

// MapAll maps every row of a result set. Output length always equals input
// length: unmappable values become nil or strings, never omissions.
func (m *Mapper) MapAll(rs *source.ResultSet) []TargetRow {
	out := make([]TargetRow, 0, rs.Len())
	for _, row := range rs.Rows {
		out = append(out, m.MapRow(rs.Columns, row))
	}
	return out
}

// String layouts tried for values declared "datetime". Zone-less layouts
// parse as UTC, which matches the treat-naive-as-UTC rule.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts one source value into its list-API form.
//
// Runtime type decides first: timestamps become RFC-3339 UTC strings,
// booleans and numerics pass through, nil stays nil. String-ish values under
// a declared type get one parse attempt into that type; on failure the
// string passes through unchanged. Everything else stringifies via %v.
func Coerce(v any, declared string) any {
	if v == nil {
		return nil
	}

	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case bool:
		return t
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case []byte:
		return coerceString(string(t), declared)
	case string:
		return coerceString(t, declared)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceString(s string, declared string) any {
	switch declared {
	case "datetime":
		trimmed := strings.TrimSpace(s)
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
	case "number":
		trimmed := strings.TrimSpace(s)
		if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return s
}
