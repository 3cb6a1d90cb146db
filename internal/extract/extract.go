package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/timmy/scrapewatch/internal/domain"
)

// Extract applies schema to doc and returns the extracted records with their
// record keys assigned. Records whose fields are all empty are dropped, and
// schema filters are applied before keys are derived.
func Extract(doc *Document, schema *domain.ExtractionSchema) ([]domain.ExtractedRecord, error) {
	if err := schema.Validate(); err != nil {
		return nil, domain.NewExtractionError("extract", err)
	}

	var (
		rows []domain.FieldMap
		err  error
	)
	if schema.ItemSelector != "" {
		rows, err = extractItems(doc, schema)
	} else {
		rows, err = extractColumns(doc, schema)
	}
	if err != nil {
		return nil, domain.NewExtractionError("extract", err)
	}

	filters, err := compileFilters(schema.Filters)
	if err != nil {
		return nil, domain.NewExtractionError("extract", err)
	}

	records := make([]domain.ExtractedRecord, 0, len(rows))
	used := make(map[string]struct{}, len(rows))
	for _, fields := range rows {
		if isEmpty(fields) || !filters.keep(fields) {
			continue
		}
		key := claimKey(used, RecordKey(schema, fields))
		records = append(records, domain.ExtractedRecord{Fields: fields, RecordKey: key})
	}
	return records, nil
}

// extractItems yields one row per container matched by the item selector,
// taking the first match of every field selector inside the container.
func extractItems(doc *Document, schema *domain.ExtractionSchema) ([]domain.FieldMap, error) {
	itemSel, err := compile(schema.ItemSelector)
	if err != nil {
		return nil, err
	}
	fieldSels := make([]goquery.Matcher, len(schema.Selectors))
	for i, fs := range schema.Selectors {
		if fieldSels[i], err = compile(fs.Selector); err != nil {
			return nil, err
		}
	}

	var rows []domain.FieldMap
	doc.doc.FindMatcher(itemSel).Each(func(_ int, item *goquery.Selection) {
		fields := make(domain.FieldMap, len(schema.Selectors))
		for i, fs := range schema.Selectors {
			match := item.FindMatcher(fieldSels[i]).First()
			if match.Length() == 0 {
				fields[fs.Field] = ""
				continue
			}
			fields[fs.Field] = doc.valueOf(match, fs.Attribute)
		}
		rows = append(rows, fields)
	})
	return rows, nil
}

// extractColumns zips the n-th match of every field selector into the n-th row.
func extractColumns(doc *Document, schema *domain.ExtractionSchema) ([]domain.FieldMap, error) {
	columns := make([][]string, len(schema.Selectors))
	longest := 0
	for i, fs := range schema.Selectors {
		sel, err := compile(fs.Selector)
		if err != nil {
			return nil, err
		}
		doc.doc.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
			columns[i] = append(columns[i], doc.valueOf(s, fs.Attribute))
		})
		if len(columns[i]) > longest {
			longest = len(columns[i])
		}
	}

	rows := make([]domain.FieldMap, longest)
	for r := 0; r < longest; r++ {
		fields := make(domain.FieldMap, len(schema.Selectors))
		for i, fs := range schema.Selectors {
			if r < len(columns[i]) {
				fields[fs.Field] = columns[i][r]
			} else {
				fields[fs.Field] = ""
			}
		}
		rows[r] = fields
	}
	return rows, nil
}

// NextPage returns the absolute URL the pagination selector points to, or
// "" when the schema has no pagination or the page has no next link.
func NextPage(doc *Document, schema *domain.ExtractionSchema) string {
	if schema.PaginationSelector == "" {
		return ""
	}
	sel, err := compile(schema.PaginationSelector)
	if err != nil {
		return ""
	}
	return nextHref(doc, doc.doc.FindMatcher(sel).First())
}

func nextHref(doc *Document, s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	href, ok := s.Attr("href")
	if !ok {
		href, ok = s.Find("a[href]").First().Attr("href")
	}
	if !ok || strings.HasPrefix(strings.TrimSpace(href), "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	return doc.Resolve(href)
}

// RecordKey derives the stable identity of a record: the declared key
// fields when present, otherwise the first link-valued field as a
// normalized URL, otherwise the composite of all field values.
func RecordKey(schema *domain.ExtractionSchema, fields domain.FieldMap) string {
	if len(schema.KeyFields) > 0 {
		parts := make([]string, len(schema.KeyFields))
		for i, k := range schema.KeyFields {
			parts[i] = strings.TrimSpace(fields[k])
		}
		return strings.Join(parts, " | ")
	}

	for _, fs := range schema.Selectors {
		if isLinkAttribute(fs.Attribute) && fields[fs.Field] != "" {
			return NormalizeURL(fields[fs.Field])
		}
	}

	parts := make([]string, len(schema.Selectors))
	for i, fs := range schema.Selectors {
		parts[i] = strings.TrimSpace(fields[fs.Field])
	}
	return strings.Join(parts, " | ")
}

// NormalizeURL lowercases scheme and host, drops the fragment and any
// trailing slash so equivalent links produce the same key.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "/" {
		u.Path = ""
	}
	return u.String()
}

func isEmpty(fields domain.FieldMap) bool {
	for _, v := range fields {
		if v != "" {
			return false
		}
	}
	return true
}

type compiledFilter struct {
	field    string
	contains string
	pattern  *regexp.Regexp
}

type filterSet []compiledFilter

func compileFilters(filters []domain.RecordFilter) (filterSet, error) {
	out := make(filterSet, 0, len(filters))
	for _, f := range filters {
		cf := compiledFilter{field: f.Field, contains: strings.ToLower(f.Contains)}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, err
			}
			cf.pattern = re
		}
		out = append(out, cf)
	}
	return out, nil
}

// keep reports whether fields satisfy every filter.
func (fs filterSet) keep(fields domain.FieldMap) bool {
	for _, f := range fs {
		v := fields[f.field]
		if f.contains != "" && !strings.Contains(strings.ToLower(v), f.contains) {
			return false
		}
		if f.pattern != nil && !f.pattern.MatchString(v) {
			return false
		}
	}
	return true
}

// MergePages concatenates the records of consecutive pages, keeping record
// keys unique across pages with the same "#n" suffix scheme.
func MergePages(pages ...[]domain.ExtractedRecord) []domain.ExtractedRecord {
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	merged := make([]domain.ExtractedRecord, 0, total)
	used := make(map[string]struct{}, total)
	for _, p := range pages {
		for _, rec := range p {
			rec.RecordKey = claimKey(used, rec.RecordKey)
			merged = append(merged, rec)
		}
	}
	return merged
}

// claimKey returns base, or base with the lowest "#n" suffix (n >= 2) not yet
// in used, and marks the result as used. A natural key that already looks
// suffixed is renumbered like any other.
func claimKey(used map[string]struct{}, base string) string {
	key := base
	for n := 2; ; n++ {
		if _, taken := used[key]; !taken {
			break
		}
		key = base + "#" + strconv.Itoa(n)
	}
	used[key] = struct{}{}
	return key
}
