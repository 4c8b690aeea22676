package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ppiankov/tgcollect/internal/api"
	"github.com/ppiankov/tgcollect/internal/collect"
	"github.com/ppiankov/tgcollect/internal/snapshot"
	"github.com/ppiankov/tgcollect/internal/source"
	"github.com/ppiankov/tgcollect/internal/state"
)

type fixture struct {
	server      *api.Server
	snapshots   *snapshot.Store
	checkpoints *state.Store
	engine      *stubEngine
}

type stubEngine struct {
	calls  int
	onRun  func() error
	result collect.RunResult
}

func (s *stubEngine) Collect(_ context.Context, _, _ int) (collect.RunResult, error) {
	s.calls++
	if s.onRun != nil {
		if err := s.onRun(); err != nil {
			return collect.RunResult{}, err
		}
	}
	return s.result, nil
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	snaps, err := snapshot.NewStore(dir, state.ResetToEmpty, logger)
	if err != nil {
		t.Fatalf("snapshot store: %v", err)
	}
	cps, err := state.NewStore(dir, state.ResetToEmpty, logger)
	if err != nil {
		t.Fatalf("checkpoint store: %v", err)
	}

	engine := &stubEngine{}
	info := api.Info{
		AutoPoll:     true,
		PollInterval: "10m0s",
		SinceHours:   24,
		PerSourceCap: 500,
		Port:         8000,
		Channels:     []string{"alpha", "beta"},
	}

	return &fixture{
		server:      api.New(engine, snaps, cps, info, logger),
		snapshots:   snaps,
		checkpoints: cps,
		engine:      engine,
	}
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

type messagesBody struct {
	Source   string           `json:"source"`
	Messages []source.Message `json:"messages"`
	Count    int              `json:"count"`
	Note     string           `json:"note"`
}

func TestHealth(t *testing.T) {
	f := setup(t)

	rec := get(t, f.server, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestConfigIntrospection(t *testing.T) {
	f := setup(t)

	rec := get(t, f.server, "/config")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var info api.Info
	decode(t, rec, &info)
	if !info.AutoPoll || info.SinceHours != 24 || len(info.Channels) != 2 {
		t.Errorf("info = %+v", info)
	}
	if info.Port != 8000 {
		t.Errorf("port = %d, want 8000", info.Port)
	}

	// The port must appear as an explicit key, not rely on struct decoding.
	var raw map[string]any
	decode(t, get(t, f.server, "/config"), &raw)
	if _, ok := raw["port"]; !ok {
		t.Errorf("config keys = %v, missing port", raw)
	}
}

func TestMessagesBeforeFirstRun(t *testing.T) {
	f := setup(t)

	rec := get(t, f.server, "/messages")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degrade, not fail)", rec.Code)
	}

	var body messagesBody
	decode(t, rec, &body)
	if body.Count != 0 || len(body.Messages) != 0 {
		t.Errorf("body = %+v, want empty", body)
	}
	if body.Note == "" {
		t.Error("expected a note explaining the empty result")
	}
}

func TestMessagesFiltersByHorizon(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	if err := f.snapshots.WriteLatest([]source.Message{
		{Channel: "alpha", ID: 1, Text: "old", Date: now.Add(-3 * time.Hour)},
		{Channel: "alpha", ID: 2, Text: "fresh", Date: now.Add(-10 * time.Minute)},
	}); err != nil {
		t.Fatalf("write latest: %v", err)
	}

	rec := get(t, f.server, "/messages?sinceHours=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body messagesBody
	decode(t, rec, &body)
	if body.Source != "telegram" {
		t.Errorf("source = %q", body.Source)
	}
	if body.Count != 1 || len(body.Messages) != 1 {
		t.Fatalf("count = %d, want 1 (older message excluded)", body.Count)
	}
	if body.Messages[0].ID != 2 {
		t.Errorf("got message id %d, want 2", body.Messages[0].ID)
	}
}

func TestMessagesFiltersByChannel(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	if err := f.snapshots.WriteLatest([]source.Message{
		{Channel: "alpha", ID: 1, Date: now.Add(-time.Minute)},
		{Channel: "beta", ID: 1, Date: now.Add(-time.Minute)},
	}); err != nil {
		t.Fatalf("write latest: %v", err)
	}

	rec := get(t, f.server, "/messages?channel=beta")

	var body messagesBody
	decode(t, rec, &body)
	if body.Count != 1 || body.Messages[0].Channel != "beta" {
		t.Errorf("body = %+v, want only beta", body)
	}
}

func TestMessagesHorizonValidation(t *testing.T) {
	f := setup(t)

	for _, target := range []string{
		"/messages?sinceHours=0",
		"/messages?sinceHours=169",
		"/messages?sinceHours=-5",
		"/messages?sinceHours=abc",
	} {
		rec := get(t, f.server, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}

	if f.engine.calls != 0 {
		t.Errorf("engine ran %d times for invalid requests, want 0", f.engine.calls)
	}
}

func TestMessagesRefreshTriggersRun(t *testing.T) {
	f := setup(t)
	now := time.Now().UTC()

	// The refresh run persists a new latest view, which the handler then
	// serves.
	f.engine.onRun = func() error {
		return f.snapshots.WriteLatest([]source.Message{
			{Channel: "alpha", ID: 9, Text: "just collected", Date: now},
		})
	}

	rec := get(t, f.server, "/messages?refresh=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.engine.calls != 1 {
		t.Fatalf("engine ran %d times, want 1", f.engine.calls)
	}

	var body messagesBody
	decode(t, rec, &body)
	if body.Count != 1 || body.Messages[0].ID != 9 {
		t.Errorf("body = %+v, want the freshly collected message", body)
	}
}

func TestFilesListsArtifactsSorted(t *testing.T) {
	f := setup(t)

	for _, ts := range []time.Time{
		time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 29, 13, 0, 0, 0, time.UTC),
	} {
		if _, err := f.snapshots.WriteRun(ts, nil); err != nil {
			t.Fatalf("write run: %v", err)
		}
	}

	rec := get(t, f.server, "/files")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Files []string `json:"files"`
	}
	decode(t, rec, &body)
	if len(body.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(body.Files))
	}
	if body.Files[0] > body.Files[1] {
		t.Errorf("files not sorted: %v", body.Files)
	}
}

func TestCheckpointsEndpoint(t *testing.T) {
	f := setup(t)

	if err := f.checkpoints.Save(map[string]int64{"alpha": 105}); err != nil {
		t.Fatalf("save checkpoints: %v", err)
	}

	rec := get(t, f.server, "/checkpoints")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Checkpoints map[string]int64 `json:"checkpoints"`
	}
	decode(t, rec, &body)
	if body.Checkpoints["alpha"] != 105 {
		t.Errorf("checkpoints = %v, want alpha=105", body.Checkpoints)
	}
}
