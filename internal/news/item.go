package news

import (
	"fmt"
	"time"
)

// TimeLayout is the fixed timestamp format used by the yaowen feed and by
// the persisted state files: MM/DD/YYYY HH:MM:SS, no timezone.
const TimeLayout = "01/02/2006 15:04:05"

// Item is a single news record as delivered by the feed. Immutable after
// ingestion.
type Item struct {
	Title    string
	Source   string
	Time     string // raw feed timestamp, see TimeLayout
	Tags     []string
	URL      string
	ImageURL string // empty means the record has no image
}

// ParseTime parses a feed timestamp literally, without locale adjustment.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse feed time %q: %w", s, err)
	}
	return t, nil
}

// PublishedAt returns the item's publication instant.
func (i Item) PublishedAt() (time.Time, error) {
	return ParseTime(i.Time)
}
