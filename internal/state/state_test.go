package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/news"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "pre_news_time"), filepath.Join(dir, "recent_posts.json"))
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := news.ParseTime(s)
	require.NoError(t, err)
	return ts
}

func TestBootstrapEverythingEligible(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Load(time.Now()))

	_, has := s.Watermark()
	assert.False(t, has)

	ok, err := s.Eligible(news.Item{URL: "https://x/a", Time: "01/01/2020 00:00:00"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWatermarkCutoff(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.watermarkPath, []byte("07/01/2026 08:00:00"), 0644))
	require.NoError(t, s.Load(time.Now()))

	older, err := s.Eligible(news.Item{URL: "https://x/old", Time: "07/01/2026 07:59:59"})
	require.NoError(t, err)
	assert.False(t, older)

	same, err := s.Eligible(news.Item{URL: "https://x/same", Time: "07/01/2026 08:00:00"})
	require.NoError(t, err)
	assert.False(t, same, "equal timestamp is not strictly later")

	newer, err := s.Eligible(news.Item{URL: "https://x/new", Time: "07/01/2026 08:00:01"})
	require.NoError(t, err)
	assert.True(t, newer)
}

func TestWindowBlocksRegardlessOfTimestamp(t *testing.T) {
	t.Parallel()

	now := mustParse(t, "07/01/2026 12:00:00")
	s := newTestStore(t)
	window := []Entry{{URL: "https://x/dup", SendTime: "07/01/2026 11:00:00"}}
	data, err := json.Marshal(window)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.windowPath, data, 0644))
	require.NoError(t, s.Load(now))

	// Far in the future, so it sails past any watermark; the window must
	// still block it.
	ok, err := s.Eligible(news.Item{URL: "https://x/dup", Time: "12/31/2099 00:00:00"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWindowPrunedOnLoad(t *testing.T) {
	t.Parallel()

	now := mustParse(t, "07/01/2026 12:00:00")
	s := newTestStore(t)
	window := []Entry{
		{URL: "https://x/fresh", SendTime: "07/01/2026 01:00:00"}, // 11h old, kept
		{URL: "https://x/stale", SendTime: "06/30/2026 23:00:00"}, // 13h old, dropped
	}
	data, err := json.Marshal(window)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.windowPath, data, 0644))
	require.NoError(t, s.Load(now))

	fresh, err := s.Eligible(news.Item{URL: "https://x/fresh", Time: "12/31/2099 00:00:00"})
	require.NoError(t, err)
	assert.False(t, fresh)

	stale, err := s.Eligible(news.Item{URL: "https://x/stale", Time: "12/31/2099 00:00:00"})
	require.NoError(t, err)
	assert.True(t, stale, "entries beyond the window TTL no longer block")
}

func TestMalformedTimestampSurfacesError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Load(time.Now()))

	_, err := s.Eligible(news.Item{URL: "https://x/a", Time: "2026-07-01T08:00:00Z"})
	assert.Error(t, err)
}

func TestRecordPublishedAdvancesWatermarkMonotonically(t *testing.T) {
	t.Parallel()

	now := mustParse(t, "07/01/2026 12:00:00")
	s := newTestStore(t)
	require.NoError(t, s.Load(now))

	s.RecordPublished("https://x/b", mustParse(t, "07/01/2026 09:00:00"), now)
	s.RecordPublished("https://x/a", mustParse(t, "07/01/2026 08:00:00"), now)

	wm, has := s.Watermark()
	require.True(t, has)
	assert.Equal(t, mustParse(t, "07/01/2026 09:00:00"), wm, "watermark is the max, not the last")
}

func TestSaveFormats(t *testing.T) {
	t.Parallel()

	now := mustParse(t, "07/01/2026 12:00:00")
	s := newTestStore(t)
	require.NoError(t, s.Load(now))

	s.RecordPublished("https://x/a", mustParse(t, "07/01/2026 08:00:00"), now)
	require.NoError(t, s.Save())

	wm, err := os.ReadFile(s.watermarkPath)
	require.NoError(t, err)
	assert.Equal(t, "07/01/2026 08:00:00", string(wm), "watermark file holds exactly one timestamp string")

	raw, err := os.ReadFile(s.windowPath)
	require.NoError(t, err)
	var entries []map[string]string
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "https://x/a", entries[0]["url"])
	assert.Equal(t, "07/01/2026 12:00:00", entries[0]["send_time"])
}

func TestIdempotentRerun(t *testing.T) {
	t.Parallel()

	now := mustParse(t, "07/01/2026 12:00:00")
	item := news.Item{URL: "https://x/a", Time: "07/01/2026 08:00:00"}

	s := newTestStore(t)
	require.NoError(t, s.Load(now))
	ok, err := s.Eligible(item)
	require.NoError(t, err)
	require.True(t, ok)
	s.RecordPublished(item.URL, mustParse(t, item.Time), now)
	require.NoError(t, s.Save())

	// Second run over the same feed content.
	reloaded := NewStore(s.watermarkPath, s.windowPath)
	require.NoError(t, reloaded.Load(now.Add(time.Minute)))
	ok, err = reloaded.Eligible(item)
	require.NoError(t, err)
	assert.False(t, ok, "a published item must not be eligible again")

	wm, has := reloaded.Watermark()
	require.True(t, has)
	assert.Equal(t, mustParse(t, item.Time), wm)
}

func TestBadWatermarkFileIsFatal(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.watermarkPath, []byte("garbage"), 0644))
	assert.Error(t, s.Load(time.Now()))
}
