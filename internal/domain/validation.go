package domain

import (
	"database/sql/driver"
	"sort"
)

// SelectorDiagnostic is the outcome of applying one selector to a page.
type SelectorDiagnostic struct {
	Matched     bool   `json:"matched"`
	SampleValue string `json:"sampleValue,omitempty"`
	MatchCount  int    `json:"matchCount"`
	Error       string `json:"error,omitempty"`
}

// PaginationDiagnostic reports how the pagination selector resolved. Zero
// matches is valid and means no further pages were detected.
type PaginationDiagnostic struct {
	Selector   string `json:"selector"`
	MatchCount int    `json:"matchCount"`
	Valid      bool   `json:"valid"`
	NextURL    string `json:"nextUrl,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ValidationReport collects per-field selector diagnostics for a schema.
type ValidationReport struct {
	Fields     map[string]SelectorDiagnostic `json:"fields"`
	Items      *SelectorDiagnostic           `json:"items,omitempty"`
	Pagination *PaginationDiagnostic         `json:"pagination,omitempty"`
}

// Healthy reports whether every field selector matched at least once and
// the pagination selector, if any, is valid.
func (r *ValidationReport) Healthy() bool {
	if r == nil {
		return false
	}
	for _, d := range r.Fields {
		if !d.Matched {
			return false
		}
	}
	if r.Items != nil && !r.Items.Matched {
		return false
	}
	if r.Pagination != nil && !r.Pagination.Valid {
		return false
	}
	return true
}

// MissingFields returns the names of fields whose selector found nothing.
func (r *ValidationReport) MissingFields() []string {
	var missing []string
	for name, d := range r.Fields {
		if !d.Matched {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Value implements the driver.Valuer interface for database serialization.
func (r ValidationReport) Value() (driver.Value, error) {
	return marshalColumn(r)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (r *ValidationReport) Scan(value interface{}) error {
	if value == nil {
		*r = ValidationReport{}
		return nil
	}
	return scanColumn(value, r, "ValidationReport")
}
