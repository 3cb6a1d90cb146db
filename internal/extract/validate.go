package extract

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/timmy/scrapewatch/internal/domain"
)

// Validate applies every selector of schema to doc and reports per-field
// diagnostics. Zero matches and invalid selectors are reported, not raised:
// the only error is a structurally invalid schema.
func Validate(doc *Document, schema *domain.ExtractionSchema) (*domain.ValidationReport, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	report := &domain.ValidationReport{
		Fields: make(map[string]domain.SelectorDiagnostic, len(schema.Selectors)),
	}

	// With an item selector, field selectors are measured inside the containers.
	root := doc.doc.Selection
	if schema.ItemSelector != "" {
		d := diagnose(doc, root, schema.ItemSelector, "")
		d.SampleValue = ""
		report.Items = &d
		if sel, err := compile(schema.ItemSelector); err == nil {
			root = root.FindMatcher(sel)
		}
	}

	for _, fs := range schema.Selectors {
		report.Fields[fs.Field] = diagnose(doc, root, fs.Selector, fs.Attribute)
	}

	if schema.PaginationSelector != "" {
		report.Pagination = diagnosePagination(doc, schema.PaginationSelector)
	}

	return report, nil
}

func diagnose(doc *Document, root *goquery.Selection, selector, attribute string) domain.SelectorDiagnostic {
	sel, err := compile(selector)
	if err != nil {
		return domain.SelectorDiagnostic{Error: err.Error()}
	}

	matches := root.FindMatcher(sel)
	d := domain.SelectorDiagnostic{
		MatchCount: matches.Length(),
		Matched:    matches.Length() > 0,
	}
	// First non-empty value gives reviewers a useful sample.
	matches.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		d.SampleValue = doc.valueOf(s, attribute)
		return d.SampleValue == ""
	})
	return d
}

// diagnosePagination accepts zero matches (no further pages) or exactly one.
func diagnosePagination(doc *Document, selector string) *domain.PaginationDiagnostic {
	d := &domain.PaginationDiagnostic{Selector: selector}

	sel, err := compile(selector)
	if err != nil {
		d.Error = err.Error()
		return d
	}

	matches := doc.doc.FindMatcher(sel)
	d.MatchCount = matches.Length()
	switch d.MatchCount {
	case 0:
		d.Valid = true
	case 1:
		d.Valid = true
		d.NextURL = nextHref(doc, matches)
	default:
		d.Error = "pagination selector must resolve to at most one element"
	}
	return d
}
