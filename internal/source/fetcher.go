package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPageSize        = 100
	defaultPace            = time.Second
	defaultRateLimitMargin = time.Second
)

// FetcherConfig tunes a Fetcher. Zero values fall back to defaults.
type FetcherConfig struct {
	// PageSize is the per-request page size asked of the transport.
	PageSize int

	// Pace spaces consecutive transport requests. The remote side is a
	// single shared connection, so requests are paced even across channels.
	Pace time.Duration

	// RateLimitMargin is added on top of the transport's signaled wait.
	RateLimitMargin time.Duration
}

// Fetcher wraps a Transport with paging, pacing, and per-channel error
// isolation. One Fetcher is shared by all channels of a run; the pace
// limiter therefore also spaces back-to-back channels.
type Fetcher struct {
	transport Transport
	limiter   *rate.Limiter
	pageSize  int
	margin    time.Duration
	logger    *slog.Logger
}

// FetchResult carries one channel's messages plus a note when the fetch
// ended under an isolated failure. An empty Note means clean completion.
type FetchResult struct {
	Messages []Message
	Note     string
}

// Failure notes surfaced in FetchResult and run summaries.
const (
	NoteNotFound         = "channel not found"
	NoteRateLimited      = "rate limited, partial fetch"
	NoteTransportFailure = "transport failure, partial fetch"
)

// FetchRequest describes one bounded fetch of a single channel.
type FetchRequest struct {
	Channel string

	// Since bounds a bootstrap fetch: iteration stops at the first message
	// strictly older than Since. Ignored when MinID is set.
	Since time.Time

	// Cap bounds the number of messages returned.
	Cap int

	// MinID, when non-nil, switches to incremental mode: only messages with
	// id > *MinID are requested, and Since is ignored.
	MinID *int64
}

// NewFetcher creates a Fetcher over transport.
func NewFetcher(transport Transport, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Pace <= 0 {
		cfg.Pace = defaultPace
	}
	if cfg.RateLimitMargin <= 0 {
		cfg.RateLimitMargin = defaultRateLimitMargin
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Every(cfg.Pace), 1),
		pageSize:  cfg.PageSize,
		margin:    cfg.RateLimitMargin,
		logger:    logger,
	}
}

// Fetch collects messages for one channel, newest first.
//
// Failures are isolated: an unresolvable channel or a mid-stream transport
// error is logged and Fetch returns whatever was collected with a nil error
// and the condition named in the result note. A rate-limit signal pauses for
// the signaled duration plus a safety margin, then returns the partial
// result; the next run resumes from the committed checkpoint. Only context
// cancellation surfaces as an error.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	if req.Channel == "" {
		return FetchResult{}, errors.New("fetch: channel is required")
	}
	if req.Cap <= 0 {
		return FetchResult{}, fmt.Errorf("fetch: cap must be positive, got %d", req.Cap)
	}

	var (
		out      []Message
		offsetID int64
	)

	for {
		if err := f.limiter.Wait(ctx); err != nil {
			return FetchResult{Messages: out}, err
		}

		opts := RecentOptions{OffsetID: offsetID, Limit: f.pageSize}
		if remaining := req.Cap - len(out); remaining < opts.Limit {
			opts.Limit = remaining
		}
		if req.MinID != nil {
			opts.MinID = *req.MinID
		}

		page, err := f.transport.Recent(ctx, req.Channel, opts)

		// Consume the page before looking at the error: messages yielded
		// ahead of a rate-limit signal still count.
		full := false
		for _, m := range page {
			if m.Date.IsZero() {
				// No timestamp: never emitted, never counts toward cap.
				continue
			}
			if req.MinID == nil && m.Date.Before(req.Since) {
				full = true
				break
			}
			out = append(out, m)
			if len(out) >= req.Cap {
				full = true
				break
			}
		}
		if len(page) > 0 {
			offsetID = page[len(page)-1].ID
		}

		if err != nil {
			var rl *RateLimitError
			switch {
			case errors.As(err, &rl):
				wait := rl.RetryAfter + f.margin
				f.logger.Warn("rate limited", "channel", req.Channel, "wait", wait, "collected", len(out))
				if serr := sleepContext(ctx, wait); serr != nil {
					return FetchResult{Messages: out, Note: NoteRateLimited}, serr
				}
				return FetchResult{Messages: out, Note: NoteRateLimited}, nil
			case errors.Is(err, ErrSourceNotFound):
				f.logger.Warn("channel not found, skipping", "channel", req.Channel)
				return FetchResult{Messages: out, Note: NoteNotFound}, nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return FetchResult{Messages: out}, err
			default:
				f.logger.Error("fetch failed, keeping partial result", "channel", req.Channel, "collected", len(out), "error", err)
				return FetchResult{Messages: out, Note: NoteTransportFailure}, nil
			}
		}

		if full || len(page) < opts.Limit {
			return FetchResult{Messages: out}, nil
		}
	}
}

// sleepContext waits for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
