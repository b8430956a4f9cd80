package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/news"
)

// windowTTL bounds the rolling dedup window. URLs published longer ago than
// this no longer block republication; the watermark handles those.
const windowTTL = 12 * time.Hour

// Entry is one recently-published URL in the window file.
type Entry struct {
	URL      string `json:"url"`
	SendTime string `json:"send_time"`
}

// Store owns the two persisted pieces of pipeline state: the scalar
// watermark (timestamp of the last published item) and the rolling window of
// recently published URLs. Loaded once at run start, written once at run
// end, never touched concurrently.
type Store struct {
	watermarkPath string
	windowPath    string

	watermark    time.Time
	hasWatermark bool

	window []Entry
	seen   map[string]struct{}
}

func NewStore(watermarkPath, windowPath string) *Store {
	return &Store{
		watermarkPath: watermarkPath,
		windowPath:    windowPath,
		seen:          make(map[string]struct{}),
	}
}

// Load reads both state files. Missing files mean "no prior run": the
// watermark stays absent and every item is eligible. Window entries older
// than the TTL are pruned on load.
func (s *Store) Load(now time.Time) error {
	if err := s.loadWatermark(); err != nil {
		return err
	}
	return s.loadWindow(now)
}

func (s *Store) loadWatermark() error {
	data, err := os.ReadFile(s.watermarkPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read watermark file: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}

	t, err := news.ParseTime(text)
	if err != nil {
		return fmt.Errorf("watermark file: %w", err)
	}
	s.watermark = t
	s.hasWatermark = true
	return nil
}

func (s *Store) loadWindow(now time.Time) error {
	data, err := os.ReadFile(s.windowPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read window file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode window file: %w", err)
	}

	cutoff := now.Add(-windowTTL)
	for _, e := range entries {
		sentAt, err := news.ParseTime(e.SendTime)
		if err != nil {
			return fmt.Errorf("window file: %w", err)
		}
		if sentAt.After(cutoff) {
			s.window = append(s.window, e)
			s.seen[e.URL] = struct{}{}
		}
	}
	return nil
}

// Watermark reports the current cutoff and whether one exists at all.
func (s *Store) Watermark() (time.Time, bool) {
	return s.watermark, s.hasWatermark
}

// Eligible decides whether an item may be published: its timestamp must be
// strictly newer than the watermark (or the watermark absent) and its URL
// must not sit in the recent window. A malformed timestamp is an error, not
// a silent verdict.
func (s *Store) Eligible(item news.Item) (bool, error) {
	publishedAt, err := item.PublishedAt()
	if err != nil {
		return false, err
	}

	if s.hasWatermark && !publishedAt.After(s.watermark) {
		return false, nil
	}
	if _, dup := s.seen[item.URL]; dup {
		return false, nil
	}
	return true, nil
}

// RecordPublished notes one successful publish: the URL enters the window
// with sentAt=now and the watermark advances to the maximum published
// timestamp seen so far. This is the only mutation path.
func (s *Store) RecordPublished(url string, publishedAt, now time.Time) {
	if !s.hasWatermark || publishedAt.After(s.watermark) {
		s.watermark = publishedAt
		s.hasWatermark = true
	}
	s.window = append(s.window, Entry{
		URL:      url,
		SendTime: now.Format(news.TimeLayout),
	})
	s.seen[url] = struct{}{}
}

// Prune drops window entries older than the TTL relative to now. Entries
// with timestamps a prior Load already accepted cannot fail to parse here.
func (s *Store) Prune(now time.Time) {
	cutoff := now.Add(-windowTTL)
	kept := s.window[:0]
	for _, e := range s.window {
		sentAt, err := news.ParseTime(e.SendTime)
		if err != nil {
			continue
		}
		if sentAt.After(cutoff) {
			kept = append(kept, e)
		} else {
			delete(s.seen, e.URL)
		}
	}
	s.window = kept
}

// Save writes both state files. The watermark file holds exactly one
// timestamp string in the feed format; the window file is a JSON array of
// {url, send_time} objects.
func (s *Store) Save() error {
	if s.hasWatermark {
		text := s.watermark.Format(news.TimeLayout)
		if err := os.WriteFile(s.watermarkPath, []byte(text), 0644); err != nil {
			return fmt.Errorf("write watermark file: %w", err)
		}
	}

	entries := s.window
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal window: %w", err)
	}
	if err := os.WriteFile(s.windowPath, data, 0644); err != nil {
		return fmt.Errorf("write window file: %w", err)
	}
	return nil
}

// Paths lists the state files for the durable-commit step.
func (s *Store) Paths() []string {
	return []string{s.watermarkPath, s.windowPath}
}
