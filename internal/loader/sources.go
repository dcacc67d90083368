package loader

import (
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Selectors for the three JSON-LD source kinds.
const (
	InlineScriptSelector   = `script[type='application/ld+json']:not([src])`
	ExternalScriptSelector = `script[type='application/ld+json'][src]`
	AlternateLinkSelector  = `link[rel='alternate'][type='application/ld+json'][href]`
)

// SourceKind identifies where a JSON-LD payload was found.
type SourceKind int

// Source kinds in the order they are emitted by Discover.
const (
	SourceInline SourceKind = iota
	SourceScript
	SourceAlternateLink
)

func (k SourceKind) String() string {
	switch k {
	case SourceInline:
		return "inline"
	case SourceScript:
		return "script"
	case SourceAlternateLink:
		return "alternate_link"
	default:
		return "unknown"
	}
}

// Source is a located but not yet fetched JSON-LD payload. Inline sources
// carry Text; the others carry a URL already resolved against the document.
type Source struct {
	Kind SourceKind
	Text string
	URL  string
}

// Discover lists every JSON-LD source under root: inline blocks, then
// external scripts, then alternate links, each in document order. References
// with an empty src or href are skipped. baseURL is only parsed once a
// reference needs resolving.
func Discover(root *goquery.Selection, baseURL string) ([]Source, error) {
	var base *url.URL
	var sources []Source
	root.Find(InlineScriptSelector).Each(func(_ int, s *goquery.Selection) {
		sources = append(sources, Source{Kind: SourceInline, Text: s.Text()})
	})

	refs := []struct {
		kind     SourceKind
		selector string
		attr     string
	}{
		{SourceScript, ExternalScriptSelector, "src"},
		{SourceAlternateLink, AlternateLinkSelector, "href"},
	}
	for _, ref := range refs {
		var resolveErr error
		root.Find(ref.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw, _ := s.Attr(ref.attr)
			if raw == "" {
				return true
			}
			if base == nil {
				parsed, err := url.Parse(baseURL)
				if err != nil {
					resolveErr = fmt.Errorf("parse base url %q: %w", baseURL, err)
					return false
				}
				base = parsed
			}
			resolved, err := resolveReference(base, raw)
			if err != nil {
				resolveErr = err
				return false
			}
			sources = append(sources, Source{Kind: ref.kind, URL: resolved})
			return true
		})
		if resolveErr != nil {
			return nil, resolveErr
		}
	}
	return sources, nil
}

func resolveReference(base *url.URL, raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("resolve reference %q: %w", raw, err)
	}
	return base.ResolveReference(ref).String(), nil
}
