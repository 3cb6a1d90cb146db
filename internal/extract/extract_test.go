package extract

import (
	"errors"
	"testing"

	"github.com/timmy/scrapewatch/internal/domain"
)

const listingPage = `<html><head><title> Job  Board </title></head><body>
<ul>
  <li class="job"><a class="title" href="/jobs/1">Go Engineer</a><span class="salary">100k</span></li>
  <li class="job"><a class="title" href="/jobs/2/">Rust Engineer</a><span class="salary">120k</span></li>
  <li class="job"><a class="title" href="https://Example.com/jobs/3#apply">Go SRE</a></li>
</ul>
<a class="next" href="?page=2">Next</a>
</body></html>`

func mustParse(t *testing.T, body string) *Document {
	t.Helper()
	doc, err := Parse("https://example.com/jobs", []byte(body))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return doc
}

func TestParseRejectsEmptyBody(t *testing.T) {
	_, err := Parse("https://example.com", []byte("   "))
	kind, ok := domain.ExternalKindOf(err)
	if !ok || kind != domain.KindRender {
		t.Fatalf("expected render error, got %v", err)
	}
}

func TestDocumentTitle(t *testing.T) {
	doc := mustParse(t, listingPage)
	if got := doc.Title(); got != "Job Board" {
		t.Errorf("Title() = %q, want %q", got, "Job Board")
	}
}

func TestValidateReportsMatchCount(t *testing.T) {
	doc := mustParse(t, `<div class="title">A</div><div class="title">B</div>`)
	schema := &domain.ExtractionSchema{
		Selectors: []domain.FieldSelector{{Field: "title", Selector: ".title"}},
	}

	report, err := Validate(doc, schema)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	d := report.Fields["title"]
	if d.MatchCount != 2 || !d.Matched {
		t.Errorf("expected 2 matches, got %+v", d)
	}
	if d.SampleValue != "A" {
		t.Errorf("expected sample %q, got %q", "A", d.SampleValue)
	}
}

func TestValidateDiagnostics(t *testing.T) {
	doc := mustParse(t, listingPage)

	tests := []struct {
		name        string
		schema      domain.ExtractionSchema
		field       string
		wantMatches int
		wantErr     bool
	}{
		{
			name:        "zero matches is a diagnostic",
			schema:      domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "price", Selector: ".price"}}},
			field:       "price",
			wantMatches: 0,
		},
		{
			name:        "single match",
			schema:      domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "next", Selector: "a.next"}}},
			field:       "next",
			wantMatches: 1,
		},
		{
			name:    "invalid selector is reported",
			schema:  domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "bad", Selector: "li[[["}}},
			field:   "bad",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Validate(doc, &tt.schema)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			d := report.Fields[tt.field]
			if tt.wantErr {
				if d.Error == "" {
					t.Error("expected selector error in diagnostic")
				}
				return
			}
			if d.MatchCount != tt.wantMatches {
				t.Errorf("MatchCount = %d, want %d", d.MatchCount, tt.wantMatches)
			}
			if d.Matched != (tt.wantMatches > 0) {
				t.Errorf("Matched = %v", d.Matched)
			}
		})
	}
}

func TestValidatePagination(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantValid bool
		wantNext  string
	}{
		{"no next page", `<p>end</p>`, true, ""},
		{"one next page", `<a class="next" href="/p/2">next</a>`, true, "https://example.com/p/2"},
		{"ambiguous", `<a class="next" href="/p/2">2</a><a class="next" href="/p/3">3</a>`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := mustParse(t, tt.body)
			schema := &domain.ExtractionSchema{
				Selectors:          []domain.FieldSelector{{Field: "x", Selector: "p"}},
				PaginationSelector: "a.next",
			}
			report, err := Validate(doc, schema)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if report.Pagination.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", report.Pagination.Valid, tt.wantValid)
			}
			if report.Pagination.NextURL != tt.wantNext {
				t.Errorf("NextURL = %q, want %q", report.Pagination.NextURL, tt.wantNext)
			}
		})
	}
}

func TestExtractItems(t *testing.T) {
	doc := mustParse(t, listingPage)
	schema := &domain.ExtractionSchema{
		ItemSelector: "li.job",
		Selectors: []domain.FieldSelector{
			{Field: "title", Selector: ".title"},
			{Field: "url", Selector: ".title", Attribute: "href"},
			{Field: "salary", Selector: ".salary"},
		},
	}

	records, err := Extract(doc, schema)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	wantKeys := []string{
		"https://example.com/jobs/1",
		"https://example.com/jobs/2",
		"https://example.com/jobs/3",
	}
	for i, rec := range records {
		if rec.RecordKey != wantKeys[i] {
			t.Errorf("record %d key = %q, want %q", i, rec.RecordKey, wantKeys[i])
		}
	}
	if records[2].Fields["salary"] != "" {
		t.Errorf("missing field should be empty, got %q", records[2].Fields["salary"])
	}
}

func TestExtractColumnsAndKeyFields(t *testing.T) {
	doc := mustParse(t, `<b class="n">alpha</b><i class="p">1</i><b class="n">beta</b><i class="p">2</i>`)
	schema := &domain.ExtractionSchema{
		Selectors: []domain.FieldSelector{
			{Field: "name", Selector: ".n"},
			{Field: "price", Selector: ".p"},
		},
		KeyFields: []string{"name"},
	}

	records, err := Extract(doc, schema)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].RecordKey != "beta" || records[1].Fields["price"] != "2" {
		t.Errorf("unexpected record %+v", records[1])
	}
}

func TestExtractDisambiguatesDuplicateKeys(t *testing.T) {
	doc := mustParse(t, `<p>same</p><p>same</p><p>other</p>`)
	schema := &domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "text", Selector: "p"}}}

	records, err := Extract(doc, schema)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	got := []string{records[0].RecordKey, records[1].RecordKey, records[2].RecordKey}
	want := []string{"same", "same#2", "other"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractSuffixNeverCollidesWithNaturalKey(t *testing.T) {
	doc := mustParse(t, `<p>x</p><p>x</p><p>x#2</p><p>x</p>`)
	schema := &domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "text", Selector: "p"}}}

	records, err := Extract(doc, schema)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	want := []string{"x", "x#2", "x#2#2", "x#3"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	seen := make(map[string]bool)
	for i, rec := range records {
		if rec.RecordKey != want[i] {
			t.Errorf("key %d = %q, want %q", i, rec.RecordKey, want[i])
		}
		if seen[rec.RecordKey] {
			t.Errorf("duplicate record key %q", rec.RecordKey)
		}
		seen[rec.RecordKey] = true
	}
}

func TestExtractTextCollapsesMarkupWhitespace(t *testing.T) {
	doc := mustParse(t, "<p class=\"t\">\n  Go\n    Engineer  </p>")
	schema := &domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "title", Selector: ".t"}}}

	records, err := Extract(doc, schema)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if got := records[0].Fields["title"]; got != "Go Engineer" {
		t.Errorf("title = %q, want %q", got, "Go Engineer")
	}
}

func TestExtractFilters(t *testing.T) {
	doc := mustParse(t, listingPage)
	schema := &domain.ExtractionSchema{
		ItemSelector: "li.job",
		Selectors:    []domain.FieldSelector{{Field: "title", Selector: ".title"}},
		Filters:      []domain.RecordFilter{{Field: "title", Contains: "go"}},
	}

	records, err := Extract(doc, schema)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 filtered records, got %d", len(records))
	}
	for _, r := range records {
		if r.Fields["title"] == "Rust Engineer" {
			t.Error("filter should have dropped the Rust record")
		}
	}
}

func TestExtractInvalidSelectorIsExtractionError(t *testing.T) {
	doc := mustParse(t, listingPage)
	schema := &domain.ExtractionSchema{Selectors: []domain.FieldSelector{{Field: "x", Selector: "li[[["}}}

	_, err := Extract(doc, schema)
	var ext *domain.ExternalError
	if !errors.As(err, &ext) || ext.Kind != domain.KindExtraction {
		t.Fatalf("expected extraction error, got %v", err)
	}
}

func TestNextPage(t *testing.T) {
	doc := mustParse(t, listingPage)
	schema := &domain.ExtractionSchema{
		Selectors:          []domain.FieldSelector{{Field: "title", Selector: ".title"}},
		PaginationSelector: "a.next",
	}
	if got := NextPage(doc, schema); got != "https://example.com/jobs?page=2" {
		t.Errorf("NextPage() = %q", got)
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"HTTPS://Example.COM/a/b/": "https://example.com/a/b",
		"https://example.com/#top": "https://example.com",
		"not a url":                "not a url",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMergePagesKeepsKeysUnique(t *testing.T) {
	page1 := []domain.ExtractedRecord{{RecordKey: "a"}, {RecordKey: "b"}}
	page2 := []domain.ExtractedRecord{{RecordKey: "a"}, {RecordKey: "c"}}

	merged := MergePages(page1, page2)
	want := []string{"a", "b", "a#2", "c"}
	if len(merged) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(merged))
	}
	for i, w := range want {
		if merged[i].RecordKey != w {
			t.Errorf("key %d = %q, want %q", i, merged[i].RecordKey, w)
		}
	}
}
