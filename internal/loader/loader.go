// Package loader discovers JSON-LD sources in HTML documents, fetches the
// external ones concurrently, and decodes everything into artifacts.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/artifact-loader/internal/artifact"
)

// Options toggles loader behavior.
type Options struct {
	// LenientJSON strips comments and trailing commas before parsing.
	LenientJSON bool
}

// Loader orchestrates source discovery, fetching, and decoding.
type Loader struct {
	fetcher Fetcher
	docs    DocumentFetcher
	decoder *artifact.Decoder
	opts    Options
	logger  *zap.Logger
}

// New constructs a Loader. docs may be nil when only JSON URLs and in-memory
// documents are loaded.
func New(fetcher Fetcher, docs DocumentFetcher, opts Options, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		fetcher: fetcher,
		docs:    docs,
		decoder: artifact.NewDecoder(),
		opts:    opts,
		logger:  logger,
	}
}

// FromHTMLURL fetches url as a document and loads every artifact it
// references. A document that cannot be fetched or parsed yields no
// artifacts rather than an error.
func (l *Loader) FromHTMLURL(ctx context.Context, url string) ([]artifact.Artifact, error) {
	if l.docs == nil {
		l.logger.Debug("no document fetcher configured", zap.String("url", url))
		return []artifact.Artifact{}, nil
	}
	doc, err := l.docs.FetchDocument(ctx, url)
	if err != nil || doc == nil {
		l.logger.Debug("document unavailable", zap.String("url", url), zap.Error(err))
		return []artifact.Artifact{}, nil
	}
	return l.FromElement(ctx, doc.Selection, url)
}

// FromJSONURL fetches url and decodes its body as a JSON-LD payload.
func (l *Loader) FromJSONURL(ctx context.Context, url string) ([]artifact.Artifact, error) {
	if l.fetcher == nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("no fetcher configured")}
	}
	resp, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if !resp.OK() {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	v, err := l.parse(resp.Body)
	if err != nil {
		return nil, &ParseError{URL: url, Err: err}
	}
	return l.FromJSON(v)
}

// FromHTML parses raw HTML and loads its artifacts with baseURL as the
// document location.
func (l *Loader) FromHTML(ctx context.Context, r io.Reader, baseURL string) ([]artifact.Artifact, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return l.FromElement(ctx, doc.Selection, baseURL)
}

// FromElement loads the artifacts of every JSON-LD source below root.
// Inline blocks are decoded first. External references are all fetched
// before any is awaited, and their results are appended in document order
// regardless of completion order. Any failure fails the whole call.
func (l *Loader) FromElement(ctx context.Context, root *goquery.Selection, baseURL string) ([]artifact.Artifact, error) {
	sources, err := Discover(root, baseURL)
	if err != nil {
		return nil, err
	}

	out := []artifact.Artifact{}
	var external []Source
	for _, src := range sources {
		if src.Kind != SourceInline {
			external = append(external, src)
			continue
		}
		v, err := l.parse([]byte(src.Text))
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		arts, err := l.FromJSON(v)
		if err != nil {
			return nil, err
		}
		out = append(out, arts...)
	}

	l.logger.Debug("json-ld sources discovered",
		zap.String("base_url", baseURL),
		zap.Int("inline", len(sources)-len(external)),
		zap.Int("external", len(external)),
	)
	if len(external) == 0 {
		return out, nil
	}

	slots := make([][]artifact.Artifact, len(external))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range external {
		g.Go(func() error {
			arts, err := l.FromJSONURL(gctx, src.URL)
			if err != nil {
				return fmt.Errorf("load %s reference: %w", src.Kind, err)
			}
			slots[i] = arts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return flatten(out, slots), nil
}

// FromJSON decodes an already parsed JSON-LD value.
func (l *Loader) FromJSON(v any) ([]artifact.Artifact, error) {
	arts, err := l.decoder.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	return arts, nil
}

func (l *Loader) parse(data []byte) (any, error) {
	if l.opts.LenientJSON {
		data = jsonc.ToJSON(data)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func flatten(head []artifact.Artifact, slots [][]artifact.Artifact) []artifact.Artifact {
	n := len(head)
	for _, s := range slots {
		n += len(s)
	}
	out := make([]artifact.Artifact, 0, n)
	out = append(out, head...)
	for _, s := range slots {
		out = append(out, s...)
	}
	return out
}
