// Package poll runs the collection engine on a fixed interval as a
// background task, isolated from transient failures.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ppiankov/tgcollect/internal/collect"
)

// Engine is the single operation the poller drives.
type Engine interface {
	Collect(ctx context.Context, sinceHours, perSourceCap int) (collect.RunResult, error)
}

// Poller invokes the engine forever until its context is cancelled. A
// failed run never terminates the loop.
type Poller struct {
	engine       Engine
	interval     time.Duration
	sinceHours   int
	perSourceCap int
	logger       *slog.Logger
}

// New creates a Poller that collects every interval with the given horizon
// and per-channel cap.
func New(engine Engine, interval time.Duration, sinceHours, perSourceCap int, logger *slog.Logger) (*Poller, error) {
	if engine == nil {
		return nil, errors.New("poll: engine is required")
	}
	if interval <= 0 {
		return nil, errors.New("poll: interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		engine:       engine,
		interval:     interval,
		sinceHours:   sinceHours,
		perSourceCap: perSourceCap,
		logger:       logger,
	}, nil
}

// Start blocks until ctx is cancelled, running one collection per interval.
// Cancellation is observed during the sleep phase, so a pending cycle is
// skipped rather than started; an in-progress cycle finishes its current
// channel first. Start returns ctx.Err() so callers can join the loop.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("poller started", "interval", p.interval, "since_hours", p.sinceHours, "cap", p.perSourceCap)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.runOnce(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	result, err := p.engine.Collect(ctx, p.sinceHours, p.perSourceCap)
	if err != nil {
		// Logged and swallowed: the next interval gets a fresh attempt.
		p.logger.Error("scheduled run failed", "error", err)
		return
	}

	p.logger.Info("scheduled run complete", "mode", result.Mode, "artifact", result.Artifact, "total", result.Count)
}
