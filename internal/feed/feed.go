package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/logger"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/news"
)

// The yaowen endpoints wrap their JSON payload in a JSONP callback.
const callbackPrefix = "data_callback("

// Records tagged with this point value are editorial noise and excluded
// upstream of the pipeline.
const noisePoint = "80"

// SourcesConfig is the YAML config structure:
//
// feeds:
//   - https://news.163.com/special/cm_yaowen20200213/
type SourcesConfig struct {
	Feeds []string `yaml:"feeds"`
}

// LoadSources reads the feed endpoint list from a YAML file.
func LoadSources(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg SourcesConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg.Feeds, nil
}

// record mirrors one entry of the feed payload. The schema is assumed
// stable; a missing required field halts the run.
type record struct {
	Title    string `json:"title"`
	Source   string `json:"source"`
	Time     string `json:"time"`
	Point    string `json:"point"`
	Keywords []struct {
		Keyname string `json:"keyname"`
	} `json:"keywords"`
	DocURL string `json:"docurl"`
	ImgURL string `json:"imgurl"`
}

// Client fetches and decodes yaowen feed endpoints.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// FetchAll downloads every endpoint and returns the combined item list in
// feed order. Per-endpoint transport errors are logged and skipped; if no
// endpoint succeeds the last error is returned. A malformed record is fatal.
func (c *Client) FetchAll(ctx context.Context, urls []string) ([]news.Item, error) {
	var allItems []news.Item
	var lastErr error
	successCount := 0

	for _, url := range urls {
		items, err := c.Fetch(ctx, url)
		if err != nil {
			if isSchemaError(err) {
				return nil, err
			}
			logger.Warn("feed fetch failed", "url", url, "error", err)
			lastErr = err
			continue
		}
		allItems = append(allItems, items...)
		successCount++
		logger.Info("feed loaded", "url", url, "items", len(items))
	}

	if successCount == 0 && lastErr != nil {
		return nil, fmt.Errorf("all feed endpoints failed: %w", lastErr)
	}
	return allItems, nil
}

// Fetch downloads one endpoint, unwraps the JSONP callback, and maps the
// records to items, dropping the noise sentinel.
func (c *Client) Fetch(ctx context.Context, url string) ([]news.Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	return decode(body)
}

func decode(body []byte) ([]news.Item, error) {
	text := strings.TrimSpace(string(body))
	if !strings.HasPrefix(text, callbackPrefix) || !strings.HasSuffix(text, ")") {
		return nil, &SchemaError{Reason: "payload is not a data_callback envelope"}
	}
	text = strings.TrimSuffix(strings.TrimPrefix(text, callbackPrefix), ")")

	var records []record
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("decode records: %v", err)}
	}

	var items []news.Item
	for _, r := range records {
		if r.Point == noisePoint {
			continue
		}
		if r.Title == "" || r.Time == "" || r.DocURL == "" {
			return nil, &SchemaError{Reason: fmt.Sprintf("record missing required field: %+v", r)}
		}

		tags := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			tags = append(tags, kw.Keyname)
		}

		items = append(items, news.Item{
			Title:    r.Title,
			Source:   r.Source,
			Time:     r.Time,
			Tags:     tags,
			URL:      r.DocURL,
			ImageURL: r.ImgURL,
		})
	}
	return items, nil
}

// MultiSource binds a client to its configured endpoint list so the
// pipeline sees a single candidate source.
type MultiSource struct {
	client *Client
	urls   []string
}

func NewMultiSource(client *Client, urls []string) *MultiSource {
	return &MultiSource{client: client, urls: urls}
}

func (s *MultiSource) Fetch(ctx context.Context) ([]news.Item, error) {
	return s.client.FetchAll(ctx, s.urls)
}

// SchemaError marks a feed payload that no longer matches the expected
// schema. It halts the run instead of being skipped, since it means the
// upstream format changed and needs investigation.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "feed schema violation: " + e.Reason
}

func isSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
