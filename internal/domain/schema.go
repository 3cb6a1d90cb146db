package domain

import (
	"database/sql/driver"
	"regexp"
	"strings"
)

// FieldSelector maps one output field to a CSS selector. When Attribute is
// set the attribute value is extracted instead of the element text.
type FieldSelector struct {
	Field     string `json:"field"`
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

// RecordFilter keeps only records whose field satisfies the condition.
// Contains is a case-insensitive substring test; Pattern is a regular expression.
type RecordFilter struct {
	Field    string `json:"field"`
	Contains string `json:"contains,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

// ExtractionSchema describes what to pull from a page.
//
// Without ItemSelector, the n-th match of every field selector forms the n-th
// record. With ItemSelector, field selectors are evaluated inside each
// matched container and every container yields one record.
type ExtractionSchema struct {
	Selectors          []FieldSelector `json:"selectors"`
	ItemSelector       string          `json:"itemSelector,omitempty"`
	PaginationSelector string          `json:"paginationSelector,omitempty"`
	KeyFields          []string        `json:"keyFields,omitempty"`
	Filters            []RecordFilter  `json:"filters,omitempty"`
}

// Validate checks the structural invariants of the schema: at least one
// selector, unique non-empty field names, non-empty selectors, and key
// fields and filters that reference declared fields.
func (s *ExtractionSchema) Validate() error {
	if s == nil || len(s.Selectors) == 0 {
		return NewValidationError("selectors", "schema must declare at least one selector")
	}

	fields := make(map[string]struct{}, len(s.Selectors))
	for i, sel := range s.Selectors {
		name := strings.TrimSpace(sel.Field)
		if name == "" {
			return NewValidationError("selectors", "selector %d has an empty field name", i)
		}
		if strings.TrimSpace(sel.Selector) == "" {
			return NewValidationError("selectors", "field %q has an empty selector", name)
		}
		if _, dup := fields[name]; dup {
			return NewValidationError("selectors", "field %q is declared more than once", name)
		}
		fields[name] = struct{}{}
	}

	for _, k := range s.KeyFields {
		if _, ok := fields[k]; !ok {
			return NewValidationError("keyFields", "unknown field %q", k)
		}
	}

	for _, f := range s.Filters {
		if _, ok := fields[f.Field]; !ok {
			return NewValidationError("filters", "unknown field %q", f.Field)
		}
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return NewValidationError("filters", "field %q: invalid pattern: %v", f.Field, err)
			}
		}
	}
	return nil
}

// FieldNames returns the declared field names in schema order.
func (s *ExtractionSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Selectors))
	for _, sel := range s.Selectors {
		names = append(names, sel.Field)
	}
	return names
}

// Value implements the driver.Valuer interface for database serialization.
func (s ExtractionSchema) Value() (driver.Value, error) {
	return marshalColumn(s)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (s *ExtractionSchema) Scan(value interface{}) error {
	if value == nil {
		*s = ExtractionSchema{}
		return nil
	}
	return scanColumn(value, s, "ExtractionSchema")
}
