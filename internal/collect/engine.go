// Package collect orchestrates one collection run: per-channel bootstrap or
// incremental fetch, merge into the accumulated dataset, dedup, and the
// checkpoint-after-data commit of snapshot and checkpoint files.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/ppiankov/tgcollect/internal/source"
)

// Run modes. The label is computed once per run from the pre-run global
// checkpoint mapping: bootstrap when no channel has ever been ingested.
const (
	ModeBootstrap   = "bootstrap"
	ModeIncremental = "incremental"
)

// Fetcher is the per-channel fetch capability the engine drives.
type Fetcher interface {
	Fetch(ctx context.Context, req source.FetchRequest) (source.FetchResult, error)
}

// CheckpointStore persists the channel -> highest ingested id mapping.
type CheckpointStore interface {
	Load() (map[string]int64, error)
	Save(checkpoints map[string]int64) error
}

// SnapshotStore materializes the dataset as run artifacts and a latest view.
type SnapshotStore interface {
	WriteRun(ts time.Time, msgs []source.Message) (string, error)
	WriteLatest(msgs []source.Message) error
	ReadLatest() (msgs []source.Message, ok bool, err error)
}

// SourceOutcome reports one channel's contribution to a run.
type SourceOutcome struct {
	Count int    `json:"count"`
	Note  string `json:"note,omitempty"`
}

// RunResult summarizes a completed run.
type RunResult struct {
	Artifact string                   `json:"artifact"` // run artifact file name
	Count    int                      `json:"count"`    // size of the deduplicated dataset
	Mode     string                   `json:"mode"`     // bootstrap or incremental
	Sources  map[string]SourceOutcome `json:"sources"`
}

// Engine runs collections over a fixed, ordered channel list. A mutex keeps
// scheduled and on-demand runs mutually exclusive: the checkpoint
// load-then-save is not safe under concurrent runs.
type Engine struct {
	mu sync.Mutex

	fetcher     Fetcher
	checkpoints CheckpointStore
	snapshots   SnapshotStore
	channels    []string
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an Engine. channels is the ordered list to collect from.
func New(fetcher Fetcher, checkpoints CheckpointStore, snapshots SnapshotStore, channels []string, logger *slog.Logger) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("collect: fetcher is required")
	}
	if checkpoints == nil || snapshots == nil {
		return nil, errors.New("collect: stores are required")
	}
	if len(channels) == 0 {
		return nil, errors.New("collect: at least one channel is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		fetcher:     fetcher,
		checkpoints: checkpoints,
		snapshots:   snapshots,
		channels:    channels,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Collect performs one run: fetch each channel in order, merge into the
// previous dataset, dedup by (channel, id), then persist the run artifact,
// the latest view, and finally the advanced checkpoints — in that order, so
// a crash in between never commits a checkpoint past data that was not
// durably saved.
func (e *Engine) Collect(ctx context.Context, sinceHours, perSourceCap int) (RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	startedAt := e.now().UTC()

	checkpoints, err := e.checkpoints.Load()
	if err != nil {
		return RunResult{}, fmt.Errorf("load checkpoints: %w", err)
	}

	mode := ModeIncremental
	if len(checkpoints) == 0 {
		mode = ModeBootstrap
	}

	prev, _, err := e.snapshots.ReadLatest()
	if err != nil {
		return RunResult{}, fmt.Errorf("read latest snapshot: %w", err)
	}

	// The snapshot is the accumulated dataset: new items merge into it.
	working := make(map[source.Key]source.Message, len(prev))
	for _, m := range prev {
		working[source.KeyOf(m)] = m
	}

	since := startedAt.Add(-time.Duration(sinceHours) * time.Hour)
	outcomes := make(map[string]SourceOutcome, len(e.channels))

	for _, channel := range e.channels {
		req := source.FetchRequest{
			Channel: channel,
			Since:   since,
			Cap:     perSourceCap,
		}
		if cp, ok := checkpoints[channel]; ok {
			req.MinID = &cp
		}

		e.logger.Info("fetching channel", "channel", channel, "mode", mode, "since", since, "checkpoint", checkpoints[channel])

		res, err := e.fetcher.Fetch(ctx, req)
		if err != nil {
			// Only cancellation escapes the fetcher; abandon the run
			// without committing anything.
			return RunResult{}, fmt.Errorf("fetch %s: %w", channel, err)
		}
		msgs := res.Messages

		// A failure note from the fetcher takes precedence over the
		// idle case: an unresolved channel is not an idle one.
		outcome := SourceOutcome{Count: len(msgs), Note: res.Note}
		if outcome.Note == "" && len(msgs) == 0 {
			outcome.Note = "no new messages"
		}
		outcomes[channel] = outcome

		if len(msgs) == 0 {
			continue
		}

		for _, m := range msgs {
			// Last write wins within a run; identical keys should not
			// occur, but the merge must not fail if they do.
			working[source.KeyOf(m)] = m
		}

		newest := lo.MaxBy(msgs, func(a, b source.Message) bool { return a.ID > b.ID })
		if newest.ID > checkpoints[channel] {
			checkpoints[channel] = newest.ID
		}

		e.logger.Info("channel fetched", "channel", channel, "messages", len(msgs), "checkpoint", checkpoints[channel])
	}

	final := lo.Values(working)
	sort.Slice(final, func(i, j int) bool {
		a, b := final[i], final[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.ID < b.ID
	})

	artifact, err := e.snapshots.WriteRun(startedAt, final)
	if err != nil {
		return RunResult{}, fmt.Errorf("write run artifact: %w", err)
	}
	if err := e.snapshots.WriteLatest(final); err != nil {
		return RunResult{}, fmt.Errorf("write latest snapshot: %w", err)
	}
	// Data is durable; only now may the checkpoints advance.
	if err := e.checkpoints.Save(checkpoints); err != nil {
		return RunResult{}, fmt.Errorf("save checkpoints: %w", err)
	}

	result := RunResult{
		Artifact: artifact,
		Count:    len(final),
		Mode:     mode,
		Sources:  outcomes,
	}

	e.logger.Info("run complete", "mode", mode, "artifact", artifact, "total", len(final))

	return result, nil
}
