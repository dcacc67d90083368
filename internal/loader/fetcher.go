package loader

import (
	"context"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

// Response is the raw result of a GET issued by a Fetcher.
type Response struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Fetcher issues a GET and returns the response whatever its status.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// DocumentFetcher resolves a URL to a parsed HTML document. Any error means
// the document could not be retrieved or parsed.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, url string) (*goquery.Document, error)
}
