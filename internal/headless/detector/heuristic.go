// Package detector decides when a statically fetched page should be rendered
// headlessly before JSON-LD discovery.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/artifact-loader/internal/loader"
)

const defaultMinTextBytes = 2048

// mountSelector matches the root elements client-side frameworks render into.
const mountSelector = `#__next, #root, #app, [data-reactroot], [ng-version], [data-v-app]`

// jsonLDSelector matches any JSON-LD the loader could already use.
const jsonLDSelector = `script[type='application/ld+json'], ` + loader.AlternateLinkSelector

// Heuristic promotes pages that look like client-rendered shells.
type Heuristic struct {
	// MinTextBytes is the visible text size below which a scripted page is
	// treated as a shell.
	MinTextBytes int
}

// NewHeuristic creates a detector. A non-positive threshold uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: threshold}
}

// ShouldPromote reports whether the page likely injects its JSON-LD from
// JavaScript. Pages that already carry JSON-LD markup are never promoted, and
// neither are pages without scripts.
func (h *Heuristic) ShouldPromote(resp loader.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	if doc.Find(jsonLDSelector).Length() > 0 {
		return false
	}
	if doc.Find("script").Length() == 0 {
		return false
	}
	if hasEmptyMount(doc) {
		return true
	}
	return visibleTextBytes(doc) < h.MinTextBytes
}

func hasEmptyMount(doc *goquery.Document) bool {
	return doc.Find(mountSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == ""
	}).Length() > 0
}

func visibleTextBytes(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(body.Text()), " "))
}
