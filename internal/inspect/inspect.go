// Package inspect implements source schema inspection and field-map
// bootstrapping: read INFORMATION_SCHEMA for a table, report columns with
// suggested SharePoint column types, and emit a registry field_map skeleton
// with SharePoint-safe target names.
//
// Inference is best-effort and never fails the inspection run; unknown SQL
// types degrade to text suggestions.
package inspect

import (
	"context"
	"fmt"
	"strings"

	"spsync/internal/config"
	"spsync/internal/source"
)

// Column describes one source column.
type Column struct {
	Name      string
	SQLType   string
	Nullable  bool
	MaxLength int64 // character types; 0 when not applicable
	Precision int64 // numeric types; 0 when not applicable
	Scale     int64
}

// TypeName renders the SQL type with its size qualifier, e.g. nvarchar(120)
// or decimal(18,2).
func (c Column) TypeName() string {
	switch {
	case c.MaxLength > 0:
		return fmt.Sprintf("%s(%d)", c.SQLType, c.MaxLength)
	case c.MaxLength == -1:
		return c.SQLType + "(max)"
	case c.Precision > 0 && c.Scale > 0:
		return fmt.Sprintf("%s(%d,%d)", c.SQLType, c.Precision, c.Scale)
	case c.Precision > 0:
		return fmt.Sprintf("%s(%d)", c.SQLType, c.Precision)
	default:
		return c.SQLType
	}
}

// SplitTable separates "schema.table" into its parts, defaulting the schema
// to dbo.
func SplitTable(qualified string) (schema, table string) {
	if i := strings.IndexByte(qualified, '.'); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "dbo", qualified
}

// quoteLiteral escapes a string for use as a SQL string literal. Inspection
// queries interpolate identifiers because INFORMATION_SCHEMA filters cannot
// always be parameterized uniformly across backends.
func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Columns reads column metadata for schema.table in ordinal order.
func Columns(ctx context.Context, src source.Source, schema, table string) ([]Column, error) {
	q := fmt.Sprintf(`SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE,
       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE
  FROM INFORMATION_SCHEMA.COLUMNS
 WHERE TABLE_SCHEMA = '%s' AND TABLE_NAME = '%s'
 ORDER BY ORDINAL_POSITION`, quoteLiteral(schema), quoteLiteral(table))

	rs, err := src.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("inspect: columns of %s.%s: %w", schema, table, err)
	}

	cols := make([]Column, 0, rs.Len())
	for _, row := range rs.Rows {
		cols = append(cols, Column{
			Name:      asString(row[0]),
			SQLType:   strings.ToLower(asString(row[1])),
			Nullable:  strings.EqualFold(asString(row[2]), "YES"),
			MaxLength: asInt64(row[3]),
			Precision: asInt64(row[4]),
			Scale:     asInt64(row[5]),
		})
	}
	return cols, nil
}

// Tables lists base tables in a schema.
func Tables(ctx context.Context, src source.Source, schema string) ([]string, error) {
	q := fmt.Sprintf(`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
 WHERE TABLE_SCHEMA = '%s' AND TABLE_TYPE = 'BASE TABLE'
 ORDER BY TABLE_NAME`, quoteLiteral(schema))

	rs, err := src.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("inspect: tables of %s: %w", schema, err)
	}
	out := make([]string, 0, rs.Len())
	for _, row := range rs.Rows {
		out = append(out, asString(row[0]))
	}
	return out, nil
}

// RowCount returns the table's current row count.
func RowCount(ctx context.Context, src source.Source, schema, table string) (int64, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM [%s].[%s]", schema, table)
	rs, err := src.Query(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("inspect: count %s.%s: %w", schema, table, err)
	}
	if rs.Len() == 0 || len(rs.Rows[0]) == 0 {
		return 0, nil
	}
	return asInt64(rs.Rows[0][0]), nil
}

// Sample fetches the first n rows for eyeballing. SQL Server dialect (TOP):
// inspection always runs against the warehouse.
func Sample(ctx context.Context, src source.Source, schema, table string, n int) (*source.ResultSet, error) {
	q := fmt.Sprintf("SELECT TOP %d * FROM [%s].[%s]", n, schema, table)
	rs, err := src.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("inspect: sample %s.%s: %w", schema, table, err)
	}
	return rs, nil
}

// SharePoint column-type suggestions per SQL type, for the operator creating
// list columns by hand.
var sharePointTypes = map[string]string{
	"int":              "Number",
	"bigint":           "Number",
	"smallint":         "Number",
	"tinyint":          "Number",
	"decimal":          "Number",
	"numeric":          "Number",
	"float":            "Number",
	"real":             "Number",
	"money":            "Currency",
	"smallmoney":       "Currency",
	"bit":              "Yes/No",
	"date":             "Date",
	"datetime":         "Date and Time",
	"datetime2":        "Date and Time",
	"smalldatetime":    "Date and Time",
	"text":             "Multiple lines of text",
	"ntext":            "Multiple lines of text",
	"uniqueidentifier": "Single line of text",
}

// SharePointType suggests the list column type for a SQL type.
func SharePointType(sqlType string) string {
	if t, ok := sharePointTypes[strings.ToLower(sqlType)]; ok {
		return t
	}
	return "Single line of text"
}

// Registry mapping types per SQL type, for the generated field_map skeleton.
var mappingTypes = map[string]string{
	"int":           "number",
	"bigint":        "number",
	"smallint":      "number",
	"tinyint":       "number",
	"decimal":       "number",
	"numeric":       "number",
	"float":         "number",
	"real":          "number",
	"money":         "number",
	"smallmoney":    "number",
	"bit":           "boolean",
	"date":          "datetime",
	"datetime":      "datetime",
	"datetime2":     "datetime",
	"smalldatetime": "datetime",
}

// MappingType suggests the registry mapping type for a SQL type.
func MappingType(sqlType string) string {
	if t, ok := mappingTypes[strings.ToLower(sqlType)]; ok {
		return t
	}
	return "string"
}

// MappingSkeleton builds a field_map draft for cols: every column mapped to a
// SharePoint-safe PascalCase target name with a suggested type.
func MappingSkeleton(cols []Column) []config.FieldMapping {
	out := make([]config.FieldMapping, 0, len(cols))
	for _, c := range cols {
		out = append(out, config.FieldMapping{
			Source: c.Name,
			Target: FieldName(c.Name),
			Type:   MappingType(c.SQLType),
		})
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case []byte:
		var n int64
		_, _ = fmt.Sscan(string(t), &n)
		return n
	case string:
		var n int64
		_, _ = fmt.Sscan(t, &n)
		return n
	default:
		return 0
	}
}
