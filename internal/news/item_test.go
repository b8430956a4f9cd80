package news

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	t.Parallel()

	got, err := ParseTime("07/01/2026 08:30:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.July, 1, 8, 30, 15, 0, time.UTC), got)
}

func TestParseTimeRejectsOtherFormats(t *testing.T) {
	t.Parallel()

	for _, s := range []string{
		"2026-07-01 08:30:15",
		"07/01/2026",
		"",
		"not a time",
	} {
		_, err := ParseTime(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestItemPublishedAt(t *testing.T) {
	t.Parallel()

	item := Item{Time: "12/31/2025 23:59:59"}
	got, err := item.PublishedAt()
	require.NoError(t, err)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, 59, got.Second())
}
