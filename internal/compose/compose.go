package compose

import (
	"strings"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/news"
)

const (
	linkFeature = "app.bsky.richtext.facet#link"
	tagFeature  = "app.bsky.richtext.facet#tag"
)

// ByteSlice is a facet index over the UTF-8 encoded post text.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type Feature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

type Facet struct {
	Index    ByteSlice `json:"index"`
	Features []Feature `json:"features"`
}

// Builder accumulates post text and the facets annotating it. Facet indices
// are byte offsets into the UTF-8 text, which is what len() gives us.
type Builder struct {
	text   strings.Builder
	facets []Facet
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Text(s string) *Builder {
	b.text.WriteString(s)
	return b
}

func (b *Builder) Link(label, uri string) *Builder {
	start := b.text.Len()
	b.text.WriteString(label)
	b.facets = append(b.facets, Facet{
		Index:    ByteSlice{ByteStart: start, ByteEnd: b.text.Len()},
		Features: []Feature{{Type: linkFeature, URI: uri}},
	})
	return b
}

func (b *Builder) Tag(label, tag string) *Builder {
	start := b.text.Len()
	b.text.WriteString(label)
	b.facets = append(b.facets, Facet{
		Index:    ByteSlice{ByteStart: start, ByteEnd: b.text.Len()},
		Features: []Feature{{Type: tagFeature, Tag: tag}},
	})
	return b
}

func (b *Builder) Build() (string, []Facet) {
	return b.text.String(), b.facets
}

// Post composes the rich text for one news item: the title as a link to the
// article, the raw timestamp, a tag for the source label, then one #tag per
// keyword in feed order. Duplicates are kept verbatim.
func Post(item news.Item) (string, []Facet) {
	b := NewBuilder().
		Link(item.Title, item.URL).
		Text("\n" + item.Time + " ").
		Tag(item.Source, item.Source).
		Text("\n")

	for _, tag := range item.Tags {
		b.Tag("#"+tag, tag).Text(" ")
	}

	return b.Build()
}
