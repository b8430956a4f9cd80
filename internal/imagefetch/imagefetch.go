package imagefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/logger"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/proxy"
)

// The CDN rejects bare clients, so fetches identify as a desktop browser.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.164 Safari/537.36"

// Fetcher downloads thumbnail bytes, first directly, then through one random
// proxy from the pool. Image availability is best-effort: both paths failing
// yields "no image", never a run error.
type Fetcher struct {
	pool    *proxy.Pool
	timeout time.Duration
	direct  *http.Client
}

func New(pool *proxy.Pool, timeout time.Duration) *Fetcher {
	return &Fetcher{
		pool:    pool,
		timeout: timeout,
		direct: &http.Client{
			Timeout: timeout,
			// Direct path: no proxy, not even from the environment.
			Transport: &http.Transport{Proxy: nil},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch returns the image bytes and true on success, or nil and false when
// both the direct fetch and the proxy fallback failed.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, bool) {
	data, err := fetchOnce(ctx, f.direct, url)
	if err == nil {
		return data, true
	}
	logger.Debug("direct image fetch failed", "url", url, "error", err)

	proxyURI, err := f.pool.Pick()
	if err != nil {
		logger.Warn("no healthy proxy for image fallback", "url", url)
		return nil, false
	}

	fallback := &http.Client{
		Timeout: f.timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURI),
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	data, err = fetchOnce(ctx, fallback, url)
	if err != nil {
		logger.Warn("proxy image fetch failed", "url", url, "error", err)
		return nil, false
	}
	return data, true
}

// fetchOnce treats any transport error, non-success status, or non-image
// content type uniformly as failure.
func fetchOnce(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("image content type %q", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return data, nil
}
