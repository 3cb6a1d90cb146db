// Package extract applies extraction schemas to rendered HTML documents:
// it pulls records for scheduled runs and reports selector diagnostics for
// schema review.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/timmy/scrapewatch/internal/domain"
)

// Document is a parsed, rendered page.
type Document struct {
	URL  string
	HTML []byte

	base *url.URL
	doc  *goquery.Document
}

// Parse builds a Document from raw HTML. pageURL is used to resolve relative
// links. Empty or unparsable input is a render error.
func Parse(pageURL string, body []byte) (*Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, domain.NewRenderError("parse", errors.New("empty document"))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewRenderError("parse", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, domain.NewRenderError("parse", fmt.Errorf("invalid page url: %w", err))
	}

	return &Document{URL: pageURL, HTML: body, base: base, doc: doc}, nil
}

// Title returns the trimmed text of the document's <title>.
func (d *Document) Title() string {
	return normalizeText(d.doc.Find("title").First().Text())
}

// Resolve turns a possibly relative reference into an absolute URL.
func (d *Document) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.base.ResolveReference(u).String()
}

// compile parses a CSS selector. goquery silently matches nothing for an
// invalid selector, so selectors are compiled up front to surface the error.
func compile(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(strings.TrimSpace(selector))
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return sel, nil
}

// valueOf returns the extracted value of a single matched element: the
// attribute when one is requested (resolved to an absolute URL for link
// attributes), its normalized text otherwise.
func (d *Document) valueOf(s *goquery.Selection, attribute string) string {
	if attribute == "" {
		return normalizeText(s.Text())
	}
	val, _ := s.Attr(attribute)
	if isLinkAttribute(attribute) {
		return d.Resolve(val)
	}
	return strings.TrimSpace(val)
}

func isLinkAttribute(attr string) bool {
	switch strings.ToLower(attr) {
	case "href", "src", "action", "data-href", "data-src":
		return true
	}
	return false
}

// normalizeText collapses runs of whitespace into single spaces.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
