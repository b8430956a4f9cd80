package scrape

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Extractor pulls a preview image URL out of an article page when the feed
// record itself carries none.
type Extractor struct {
	http *http.Client
}

func NewExtractor(timeout time.Duration) *Extractor {
	return &Extractor{
		http: &http.Client{Timeout: timeout},
	}
}

// OGImage fetches the page and returns the og:image URL, falling back to
// twitter:image. An empty result with nil error means the page simply has
// no preview image.
func (e *Extractor) OGImage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	// Try the usual preview metadata in order of fidelity.
	selectors := []string{
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
	}
	for _, selector := range selectors {
		if content, ok := doc.Find(selector).First().Attr("content"); ok && content != "" {
			return content, nil
		}
	}
	return "", nil
}
