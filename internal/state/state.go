// Package state persists per-channel checkpoints: the highest message id
// already ingested for each channel. Checkpoints drive incremental fetching
// and only ever move forward.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the checkpoint file kept under the output directory.
const FileName = "checkpoints.json"

// CorruptionPolicy decides what to do when persisted state cannot be read.
type CorruptionPolicy string

const (
	// ResetToEmpty treats unreadable state as empty. The next run
	// re-bootstraps and duplicates are absorbed by dedup downstream. This
	// trades consistency for availability and is logged loudly.
	ResetToEmpty CorruptionPolicy = "reset"

	// FailLoud surfaces the decode error instead of degrading.
	FailLoud CorruptionPolicy = "fail"
)

// ParsePolicy maps a config string to a CorruptionPolicy.
func ParsePolicy(s string) (CorruptionPolicy, error) {
	switch CorruptionPolicy(strings.TrimSpace(strings.ToLower(s))) {
	case ResetToEmpty, "":
		return ResetToEmpty, nil
	case FailLoud:
		return FailLoud, nil
	default:
		return "", fmt.Errorf("unknown corruption policy %q (want reset or fail)", s)
	}
}

// Store reads and writes the checkpoint mapping as a single JSON file.
// Concurrent runs are excluded by the engine, so the store itself only
// guarantees last-writer-wins at run granularity.
type Store struct {
	path   string
	policy CorruptionPolicy
	logger *slog.Logger
}

// NewStore creates a checkpoint store under dir.
func NewStore(dir string, policy CorruptionPolicy, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state: dir is required")
	}
	if policy == "" {
		policy = ResetToEmpty
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state: create dir: %w", err)
	}

	return &Store{
		path:   filepath.Join(dir, FileName),
		policy: policy,
		logger: logger,
	}, nil
}

// Load returns the persisted mapping. A missing file is an empty mapping,
// never an error. Unreadable content is handled per the corruption policy.
func (s *Store) Load() (map[string]int64, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	checkpoints := map[string]int64{}
	if err := json.Unmarshal(data, &checkpoints); err != nil {
		if s.policy == FailLoud {
			return nil, fmt.Errorf("state: decode %s: %w", s.path, err)
		}
		s.logger.Error("checkpoint file unreadable, resetting to empty; next run re-bootstraps every channel",
			"path", s.path, "error", err)
		return map[string]int64{}, nil
	}

	return checkpoints, nil
}

// Save replaces the persisted mapping wholesale. The file is written to a
// temp name and renamed so readers never observe a torn file.
func (s *Store) Save(checkpoints map[string]int64) error {
	if checkpoints == nil {
		checkpoints = map[string]int64{}
	}

	data, err := json.MarshalIndent(checkpoints, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode checkpoints: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: commit %s: %w", s.path, err)
	}

	return nil
}
