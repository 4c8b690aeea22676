// Package api exposes the collected dataset over HTTP: the latest view,
// run artifacts, checkpoints, and operational introspection. Handlers read
// persisted state directly and never wait on an in-progress run.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/ppiankov/tgcollect/internal/collect"
	"github.com/ppiankov/tgcollect/internal/snapshot"
	"github.com/ppiankov/tgcollect/internal/source"
	"github.com/ppiankov/tgcollect/internal/state"
)

// Horizon bounds for the sinceHours query parameter, in hours.
const (
	MinSinceHours = 1
	MaxSinceHours = 168
)

// Engine triggers a synchronous run for ?refresh=true requests.
type Engine interface {
	Collect(ctx context.Context, sinceHours, perSourceCap int) (collect.RunResult, error)
}

// Info is the static operational introspection served by /config.
type Info struct {
	AutoPoll     bool     `json:"auto_poll"`
	PollInterval string   `json:"poll_interval"`
	SinceHours   int      `json:"since_hours"`
	PerSourceCap int      `json:"per_source_cap"`
	Port         int      `json:"port"`
	Channels     []string `json:"channels"`
}

// Server holds dependencies for the HTTP handlers.
type Server struct {
	engine      Engine
	snapshots   *snapshot.Store
	checkpoints *state.Store
	info        Info
	logger      *slog.Logger
	mux         *http.ServeMux
	now         func() time.Time
}

// New wires up routes and returns a ready-to-use Server.
func New(engine Engine, snapshots *snapshot.Store, checkpoints *state.Store, info Info, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:      engine,
		snapshots:   snapshots,
		checkpoints: checkpoints,
		info:        info,
		logger:      logger,
		mux:         http.NewServeMux(),
		now:         time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /messages", s.handleMessages)
	s.mux.HandleFunc("GET /files", s.handleFiles)
	s.mux.HandleFunc("GET /checkpoints", s.handleCheckpoints)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /config", s.handleConfig)
}

type messagesResponse struct {
	Source   string           `json:"source"`
	Messages []source.Message `json:"messages"`
	Count    int              `json:"count"`
	Note     string           `json:"note,omitempty"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sinceHours := s.info.SinceHours

	if raw := r.URL.Query().Get("sinceHours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sinceHours must be an integer"})
			return
		}
		sinceHours = parsed
	}
	if sinceHours < MinSinceHours || sinceHours > MaxSinceHours {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "sinceHours must be between 1 and 168",
		})
		return
	}

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		if _, err := s.engine.Collect(r.Context(), sinceHours, s.info.PerSourceCap); err != nil {
			s.logger.Error("refresh run failed", "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "collection failed"})
			return
		}
	}

	msgs, ok, err := s.snapshots.ReadLatest()
	if err != nil {
		s.logger.Error("read latest failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot unreadable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, messagesResponse{
			Source:   "telegram",
			Messages: []source.Message{},
			Note:     "no data collected",
		})
		return
	}

	cutoff := s.now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
	channel := r.URL.Query().Get("channel")

	filtered := lo.Filter(msgs, func(m source.Message, _ int) bool {
		if m.Date.Before(cutoff) {
			return false
		}
		return channel == "" || m.Channel == channel
	})

	writeJSON(w, http.StatusOK, messagesResponse{
		Source:   "telegram",
		Messages: filtered,
		Count:    len(filtered),
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, _ *http.Request) {
	files, err := s.snapshots.ListRuns()
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cannot list artifacts"})
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": files})
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, _ *http.Request) {
	checkpoints, err := s.checkpoints.Load()
	if err != nil {
		s.logger.Error("load checkpoints failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "checkpoints unreadable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]int64{"checkpoints": checkpoints})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.info)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
