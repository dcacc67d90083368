package headless

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/artifact-loader/internal/loader"
)

// Detector decides whether a static response needs rendering.
type Detector interface {
	ShouldPromote(resp loader.Response) bool
}

// Promoting fetches documents statically and re-renders them headlessly when
// the detector thinks the JSON-LD is injected client side.
type Promoting struct {
	primary  loader.Fetcher
	renderer loader.DocumentFetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting wires a static fetcher, a renderer, and a detector.
func NewPromoting(primary loader.Fetcher, renderer loader.DocumentFetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{primary: primary, renderer: renderer, detector: detector, logger: logger}
}

// FetchDocument implements loader.DocumentFetcher.
func (p *Promoting) FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := p.primary.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fetch document %s: %s", rawURL, resp.Status)
	}
	if p.renderer != nil && p.detector != nil && p.detector.ShouldPromote(resp) {
		p.logger.Debug("promoting to headless", zap.String("url", rawURL))
		doc, err := p.renderer.FetchDocument(ctx, rawURL)
		if err == nil {
			return doc, nil
		}
		p.logger.Warn("headless render failed, using static document",
			zap.String("url", rawURL), zap.Error(err))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", rawURL, err)
	}
	if u, err := url.Parse(resp.URL); err == nil {
		doc.Url = u
	}
	return doc, nil
}
