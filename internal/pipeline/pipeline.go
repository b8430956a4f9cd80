package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DistPub/sync-163yaowen-to-bsky/internal/compose"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/gitops"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/logger"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/metrics"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/news"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/publisher"
	"github.com/DistPub/sync-163yaowen-to-bsky/internal/state"
)

// ErrPartialFailure reports a run that committed its successes but had at
// least one failed item. Operators see a non-zero exit without losing the
// progress already made.
var ErrPartialFailure = errors.New("some items failed to publish")

// Source supplies the raw candidate items, in feed order.
type Source interface {
	Fetch(ctx context.Context) ([]news.Item, error)
}

// ImageFetcher downloads thumbnail bytes; absence is allowed.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, bool)
}

// PreviewExtractor finds a preview image URL on the article page for records
// whose feed entry has none.
type PreviewExtractor interface {
	OGImage(ctx context.Context, pageURL string) (string, error)
}

// Poster publishes one composed candidate.
type Poster interface {
	Publish(ctx context.Context, cand publisher.CandidatePost) publisher.Outcome
}

// Deps wires the collaborators into the runner.
type Deps struct {
	Source    Source
	Images    ImageFetcher
	Preview   PreviewExtractor // optional
	Poster    Poster
	State     *state.Store
	Committer gitops.Committer
	Now       func() time.Time
}

// Summary is what one run did, for logs and exit status.
type Summary struct {
	Fetched   int
	Eligible  int
	Published int
	Failed    int
}

// Runner walks one end-to-end run: fetch, filter, enrich, compose, publish,
// commit. Strictly sequential, one item at a time, in feed order.
type Runner struct {
	source    Source
	images    ImageFetcher
	preview   PreviewExtractor
	poster    Poster
	state     *state.Store
	committer gitops.Committer
	now       func() time.Time
}

func NewRunner(deps Deps) *Runner {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		source:    deps.Source,
		images:    deps.Images,
		preview:   deps.Preview,
		poster:    deps.Poster,
		state:     deps.State,
		committer: deps.Committer,
		now:       now,
	}
}

// Run executes one run. The returned error is either fatal (malformed feed
// input, environment bug) or ErrPartialFailure; in the latter case the
// successes were still committed.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	// Fetching
	items, err := r.source.Fetch(ctx)
	if err != nil {
		metrics.Global.SetError(err.Error())
		return sum, fmt.Errorf("fetch candidates: %w", err)
	}
	sum.Fetched = len(items)
	metrics.Global.AddFetched(len(items))

	// Filtering: watermark + recent window, in feed order. Ineligible items
	// are expected steady state, not errors.
	var eligible []news.Item
	for _, item := range items {
		ok, err := r.state.Eligible(item)
		if err != nil {
			metrics.Global.SetError(err.Error())
			return sum, fmt.Errorf("eligibility check: %w", err)
		}
		if ok {
			eligible = append(eligible, item)
		}
	}
	sum.Eligible = len(eligible)
	metrics.Global.AddEligible(len(eligible))
	logger.Info("filtered candidates", "fetched", sum.Fetched, "eligible", sum.Eligible)

	if len(eligible) == 0 {
		metrics.Global.SetLastRun()
		return sum, nil
	}

	// Enriching + Composing + Publishing, one item at a time. A failed item
	// never stops the ones after it.
	outcomes := make([]publisher.Outcome, 0, len(eligible))
	for _, item := range eligible {
		cand := publisher.CandidatePost{Item: item}

		imageURL := item.ImageURL
		if imageURL == "" && r.preview != nil {
			previewURL, err := r.preview.OGImage(ctx, item.URL)
			if err != nil {
				logger.Debug("preview extraction failed", "url", item.URL, "error", err)
			} else {
				imageURL = previewURL
			}
		}
		if imageURL != "" {
			if data, ok := r.images.Fetch(ctx, imageURL); ok {
				cand.Image = data
				metrics.Global.IncrementImagesFetched()
			} else {
				metrics.Global.IncrementImagesMissed()
			}
		}

		cand.Text, cand.Facets = compose.Post(item)

		outcome := r.poster.Publish(ctx, cand)
		if errors.Is(outcome.Err, publisher.ErrBlobNotImage) {
			metrics.Global.SetError(outcome.Err.Error())
			return sum, outcome.Err
		}
		if outcome.Succeeded() {
			sum.Published++
			metrics.Global.IncrementPublished()
			logger.Info("published", "title", item.Title, "url", item.URL)
		} else {
			sum.Failed++
			metrics.Global.IncrementFailed()
			logger.Error("publish failed", "title", item.Title, "url", item.URL, "error", outcome.Err)
		}
		outcomes = append(outcomes, outcome)
	}

	// Committing: only a run with at least one success touches state.
	if sum.Published > 0 {
		now := r.now()
		for _, o := range outcomes {
			if o.Succeeded() {
				r.state.RecordPublished(o.Item.URL, o.PublishedAt, now)
			}
		}
		r.state.Prune(now)
		if err := r.state.Save(); err != nil {
			metrics.Global.SetError(err.Error())
			return sum, fmt.Errorf("save state: %w", err)
		}
		if err := r.committer.Commit(ctx, r.state.Paths()); err != nil {
			metrics.Global.SetError(err.Error())
			return sum, fmt.Errorf("durable commit: %w", err)
		}
	}

	logger.Info("run complete", "fetched", sum.Fetched, "eligible", sum.Eligible,
		"published", sum.Published, "failed", sum.Failed)

	if sum.Failed > 0 {
		metrics.Global.SetError(ErrPartialFailure.Error())
		return sum, fmt.Errorf("%w: %d of %d", ErrPartialFailure, sum.Failed, sum.Eligible)
	}

	metrics.Global.SetLastRun()
	return sum, nil
}
