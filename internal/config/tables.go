package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Conflict strategies for rows whose key matches an existing list item.
// The rule is always explicit per table; there is no implicit default beyond
// "create" (which never looks for an existing item).
const (
	StrategyCreate        = "create"
	StrategyUpsert        = "upsert"
	StrategyUpsertIfNewer = "upsert-if-newer"
)

// Mapping value types accepted in field_map entries. "auto" coerces purely by
// the runtime type of the source value; the others additionally try to parse
// string values into the declared type.
var mappingTypes = map[string]bool{
	"auto":     true,
	"string":   true,
	"number":   true,
	"boolean":  true,
	"datetime": true,
}

// FieldMapping is one declarative source-column → list-field rule.
type FieldMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type,omitempty"`
}

// TableSpec describes one source table and its destination list.
type TableSpec struct {
	// Name is the registry key; also the identifier accepted by -tables.
	Name string `json:"name"`

	// Query is the literal SQL issued against the source. Caller-supplied,
	// so filtering/ordering is entirely up to the registry author.
	Query string `json:"query"`

	// List is the SharePoint list display name.
	List string `json:"list"`

	// KeyColumn/KeyField identify the natural key: KeyColumn in the source
	// row, KeyField in the destination item. Required for upsert strategies.
	KeyColumn string `json:"key_column,omitempty"`
	KeyField  string `json:"key_field,omitempty"`

	// ModifiedColumn is the source timestamp compared against the remote
	// item's last-modified time under upsert-if-newer.
	ModifiedColumn string `json:"modified_column,omitempty"`

	Strategy string `json:"strategy,omitempty"`

	// BatchSize overrides the global default when > 0.
	BatchSize int `json:"batch_size,omitempty"`

	FieldMap []FieldMapping `json:"field_map,omitempty"`
}

// EffectiveBatchSize resolves the per-table override against the global
// default.
func (t TableSpec) EffectiveBatchSize(def int) int {
	if t.BatchSize > 0 {
		return t.BatchSize
	}
	return def
}

// EffectiveStrategy defaults to create when unset.
func (t TableSpec) EffectiveStrategy() string {
	if t.Strategy == "" {
		return StrategyCreate
	}
	return t.Strategy
}

// Registry is the parsed table-registry file.
type Registry struct {
	Tables []TableSpec `json:"tables"`
}

// LoadRegistry reads and decodes the registry JSON. Validation is a separate
// step so callers can report all issues, not just the first.
func LoadRegistry(path string) (Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("config: read registry: %w", err)
	}
	var r Registry
	if err := json.Unmarshal(raw, &r); err != nil {
		return Registry{}, fmt.Errorf("config: parse registry %s: %w", path, err)
	}
	return r, nil
}

// Table returns the spec for name, if present.
func (r Registry) Table(name string) (TableSpec, bool) {
	for _, t := range r.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// Names returns registry table names in declaration order.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r.Tables))
	for _, t := range r.Tables {
		out = append(out, t.Name)
	}
	return out
}

// Select resolves a caller-supplied subset against the registry, preserving
// registry order. Empty subset means all tables. Unknown names are an error
// (silently skipping a requested table would hide typos).
func (r Registry) Select(subset []string) ([]TableSpec, error) {
	if len(subset) == 0 {
		return r.Tables, nil
	}
	want := make(map[string]bool, len(subset))
	for _, n := range subset {
		if _, ok := r.Table(n); !ok {
			return nil, fmt.Errorf("config: unknown table %q (known: %s)", n, strings.Join(r.Names(), ", "))
		}
		want[n] = true
	}
	out := make([]TableSpec, 0, len(want))
	for _, t := range r.Tables {
		if want[t.Name] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Severity levels for validation issues.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is a single validation finding, addressed by a JSON-ish path.
type Issue struct {
	Severity string
	Path     string
	Message  string
}

// HasErrors reports whether any issue is severity=error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidateRegistry checks the whole registry and returns every issue found.
// All errors here are ConfigurationErrors: the run must not start.
func ValidateRegistry(r Registry) []Issue {
	var issues []Issue
	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	if len(r.Tables) == 0 {
		errf("tables", "at least one table is required")
		return issues
	}

	seen := map[string]bool{}
	for i, t := range r.Tables {
		path := fmt.Sprintf("tables[%d]", i)

		if t.Name == "" {
			errf(path+".name", "name is required")
		} else if seen[t.Name] {
			errf(path+".name", "duplicate table name %q", t.Name)
		}
		seen[t.Name] = true

		if strings.TrimSpace(t.Query) == "" {
			errf(path+".query", "query is required")
		}
		if t.List == "" {
			errf(path+".list", "list is required")
		}
		if t.BatchSize < 0 || t.BatchSize > 1000 {
			errf(path+".batch_size", "batch_size must be between 1 and 1000, or omitted for the default (got %d)", t.BatchSize)
		}

		switch t.EffectiveStrategy() {
		case StrategyCreate:
			if t.KeyField != "" && t.KeyColumn == "" {
				warnf(path+".key_column", "key_field without key_column has no effect under strategy=create")
			}
		case StrategyUpsert:
			if t.KeyColumn == "" || t.KeyField == "" {
				errf(path+".strategy", "strategy=%s requires key_column and key_field", t.Strategy)
			}
		case StrategyUpsertIfNewer:
			if t.KeyColumn == "" || t.KeyField == "" {
				errf(path+".strategy", "strategy=%s requires key_column and key_field", t.Strategy)
			}
			if t.ModifiedColumn == "" {
				errf(path+".modified_column", "strategy=%s requires modified_column", t.Strategy)
			}
		default:
			errf(path+".strategy", "unknown strategy %q", t.Strategy)
		}

		issues = append(issues, validateFieldMap(path+".field_map", t.FieldMap)...)
	}
	return issues
}

// Characters SharePoint rejects in internal field names, plus the 32-char
// length cap on created columns.
const fieldNameInvalidChars = `<>#%&*{}\:/|"`

// ValidFieldName reports whether name is acceptable as a SharePoint field
// name.
func ValidFieldName(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	return !strings.ContainsAny(name, fieldNameInvalidChars)
}

func validateFieldMap(path string, fm []FieldMapping) []Issue {
	var issues []Issue
	targets := map[string]bool{}
	for i, m := range fm {
		p := fmt.Sprintf("%s[%d]", path, i)
		if m.Source == "" {
			issues = append(issues, Issue{SeverityError, p + ".source", "source is required"})
		}
		if !ValidFieldName(m.Target) {
			issues = append(issues, Issue{SeverityError, p + ".target",
				fmt.Sprintf("invalid SharePoint field name %q (forbidden characters or longer than 32)", m.Target)})
		} else if targets[m.Target] {
			issues = append(issues, Issue{SeverityError, p + ".target",
				fmt.Sprintf("duplicate target field %q", m.Target)})
		}
		targets[m.Target] = true
		if m.Type != "" && !mappingTypes[m.Type] {
			issues = append(issues, Issue{SeverityError, p + ".type",
				fmt.Sprintf("unknown mapping type %q (valid: auto, string, number, boolean, datetime)", m.Type)})
		}
	}
	return issues
}
