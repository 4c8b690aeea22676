// Package snapshot materializes the collected dataset on disk: a "latest"
// view overwritten on every successful run, plus one immutable
// timestamp-named artifact per run.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ppiankov/tgcollect/internal/source"
	"github.com/ppiankov/tgcollect/internal/state"
)

const (
	// LatestName is the overwritten latest view.
	LatestName = "latest.json"

	runPrefix = "messages_"
	runSuffix = ".json"

	// runStamp formats run timestamps so artifact names sort
	// chronologically as plain strings.
	runStamp = "20060102_150405Z"
)

// Snapshots are the hot path: they hold every retained message and are
// re-read on each API call, so they go through jsoniter.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Store reads and writes snapshot files under one directory.
type Store struct {
	dir    string
	policy state.CorruptionPolicy
	logger *slog.Logger
}

// NewStore creates a snapshot store under dir, creating it if needed.
func NewStore(dir string, policy state.CorruptionPolicy, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("snapshot: dir is required")
	}
	if policy == "" {
		policy = state.ResetToEmpty
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	return &Store{dir: dir, policy: policy, logger: logger}, nil
}

// Dir returns the directory snapshots live in.
func (s *Store) Dir() string {
	return s.dir
}

// RunName returns the artifact name for a run triggered at ts.
func RunName(ts time.Time) string {
	return runPrefix + ts.UTC().Format(runStamp) + runSuffix
}

// WriteRun persists msgs as an immutable run artifact and returns its name.
// Run artifacts are never overwritten; a name collision is an error.
func (s *Store) WriteRun(ts time.Time, msgs []source.Message) (string, error) {
	name := RunName(ts)
	path := filepath.Join(s.dir, name)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("snapshot: run artifact %s already exists", name)
	}

	if err := s.write(path, msgs); err != nil {
		return "", err
	}
	return name, nil
}

// WriteLatest overwrites the latest view with msgs.
func (s *Store) WriteLatest(msgs []source.Message) error {
	return s.write(filepath.Join(s.dir, LatestName), msgs)
}

// ReadLatest returns the latest view. ok is false when no run has ever
// completed; that is not an error. Unreadable content is handled per the
// corruption policy.
func (s *Store) ReadLatest() (msgs []source.Message, ok bool, err error) {
	path := filepath.Join(s.dir, LatestName)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	if err := codec.Unmarshal(data, &msgs); err != nil {
		if s.policy == state.FailLoud {
			return nil, false, fmt.Errorf("snapshot: decode %s: %w", path, err)
		}
		s.logger.Error("latest snapshot unreadable, treating as absent; dataset rebuilds on the next run",
			"path", path, "error", err)
		return nil, false, nil
	}

	return msgs, true, nil
}

// ListRuns returns all run artifact names, sorted ascending. Because names
// embed a fixed-width UTC stamp, lexical order is chronological order.
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", s.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, runPrefix) && strings.HasSuffix(name, runSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// write encodes msgs to path via a temp file and rename, so a concurrent
// reader sees either the previous or the new complete file.
func (s *Store) write(path string, msgs []source.Message) error {
	if msgs == nil {
		msgs = []source.Message{}
	}

	data, err := codec.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: commit %s: %w", path, err)
	}

	return nil
}
