package cli

import (
	"fmt"
	"log/slog"

	"github.com/ppiankov/tgcollect/internal/collect"
	"github.com/ppiankov/tgcollect/internal/config"
	"github.com/ppiankov/tgcollect/internal/snapshot"
	"github.com/ppiankov/tgcollect/internal/source"
	"github.com/ppiankov/tgcollect/internal/state"
)

// deps bundles the wired collection stack behind one config load.
type deps struct {
	cfg         *config.Config
	checkpoints *state.Store
	snapshots   *snapshot.Store
	engine      *collect.Engine
}

func buildDeps(logger *slog.Logger) (*deps, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	policy, err := state.ParsePolicy(cfg.Output.OnCorruption)
	if err != nil {
		return nil, fmt.Errorf("corruption policy: %w", err)
	}

	checkpoints, err := state.NewStore(cfg.Output.Dir, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	snapshots, err := snapshot.NewStore(cfg.Output.Dir, policy, logger)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	// The bridge transport is the single long-lived handle to the remote
	// service, shared by every fetch of the process.
	transport, err := source.NewBridge(cfg.Transport.BaseURL, cfg.Transport.Token)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	fetcher := source.NewFetcher(transport, source.FetcherConfig{PageSize: cfg.Transport.PageSize}, logger)

	engine, err := collect.New(fetcher, checkpoints, snapshots, cfg.Channels, logger)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	return &deps{
		cfg:         cfg,
		checkpoints: checkpoints,
		snapshots:   snapshots,
		engine:      engine,
	}, nil
}
