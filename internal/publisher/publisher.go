package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/bsky"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/compose"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/logger"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/news"
)

// ErrBlobNotImage means the upload service accepted a blob but declared a
// non-image MIME type for it. The uploader is trusted to only accept images,
// so this is an environment bug that aborts the whole run.
var ErrBlobNotImage = errors.New("uploaded blob is not an image")

// PostingClient is the slice of the posting service the publisher needs.
type PostingClient interface {
	UploadBlob(ctx context.Context, data []byte) (*bsky.Blob, error)
	SendPost(ctx context.Context, post bsky.Post) error
}

// Preflight is an optional best-effort check run before each post. Failures
// are logged on their own channel and never block publishing.
type Preflight interface {
	Check(ctx context.Context, item news.Item) error
}

// CandidatePost is one composed, enriched item ready to publish.
type CandidatePost struct {
	Item   news.Item
	Image  []byte // nil when no image could be fetched
	Text   string
	Facets []compose.Facet
}

// Outcome reports one publish attempt.
type Outcome struct {
	Item        news.Item
	PublishedAt time.Time // echoed from the item on success
	Err         error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// degradation states for the oversized-blob retry loop
type sendState int

const (
	sendInitial sendState = iota
	sendDegraded
)

// Publisher uploads the optional thumbnail, builds the link-preview embed,
// and sends the post.
type Publisher struct {
	client    PostingClient
	preflight Preflight
}

func New(client PostingClient, preflight Preflight) *Publisher {
	return &Publisher{client: client, preflight: preflight}
}

// Publish sends one candidate. On an oversized-blob rejection with a
// thumbnail attached it retries exactly once with the thumbnail stripped;
// any other failure, or a second failure, is the final outcome.
func (p *Publisher) Publish(ctx context.Context, cand CandidatePost) Outcome {
	if p.preflight != nil {
		if err := p.preflight.Check(ctx, cand.Item); err != nil {
			logger.Warn("preflight check failed, posting anyway", "url", cand.Item.URL, "error", err)
		}
	}

	var thumb *bsky.Blob
	if cand.Image != nil {
		blob, err := p.client.UploadBlob(ctx, cand.Image)
		if err != nil {
			return Outcome{Item: cand.Item, Err: fmt.Errorf("upload blob: %w", err)}
		}
		if !strings.HasPrefix(blob.MimeType, "image/") {
			return Outcome{Item: cand.Item, Err: fmt.Errorf("%w: got %q for %s", ErrBlobNotImage, blob.MimeType, cand.Item.ImageURL)}
		}
		thumb = blob
	}

	embed := bsky.NewExternalEmbed(bsky.External{
		URI:   cand.Item.URL,
		Title: cand.Item.Title,
		// The feed has no summary field, so the title doubles as one.
		Description: cand.Item.Title,
		Thumb:       thumb,
	})

	post := bsky.Post{
		Text:   cand.Text,
		Facets: cand.Facets,
		Langs:  []string{"zh"},
		Embed:  embed,
	}

	for state := sendInitial; ; {
		err := p.client.SendPost(ctx, post)
		if err == nil {
			publishedAt, perr := cand.Item.PublishedAt()
			if perr != nil {
				// Eligibility already parsed this timestamp; reaching here
				// means the item was mutated mid-run.
				return Outcome{Item: cand.Item, Err: perr}
			}
			return Outcome{Item: cand.Item, PublishedAt: publishedAt}
		}

		if state == sendInitial && post.Embed.External.Thumb != nil && errors.Is(err, bsky.ErrBlobTooLarge) {
			logger.Warn("blob too large, retrying without thumbnail", "url", cand.Item.URL)
			degraded := post.Embed.External
			degraded.Thumb = nil
			post.Embed = bsky.NewExternalEmbed(degraded)
			state = sendDegraded
			continue
		}

		return Outcome{Item: cand.Item, Err: fmt.Errorf("send post: %w", err)}
	}
}
