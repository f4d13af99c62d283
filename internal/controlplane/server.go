// Package controlplane serves the read-only operations API: process
// stats, live sessions, workflow records, and the billing claim ledger.
package controlplane

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arcfield/agentbridge/internal/broker"
	"github.com/arcfield/agentbridge/internal/storage"
	"github.com/arcfield/agentbridge/internal/workflow"
)

type Server struct {
	router    *chi.Mux
	broker    *broker.Broker
	tracker   *workflow.Tracker
	store     storage.LedgerStore
	startTime time.Time
}

func NewServer(b *broker.Broker, tracker *workflow.Tracker, store storage.LedgerStore) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		broker:    b,
		tracker:   tracker,
		store:     store,
		startTime: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/api/stats", s.handleStats)
	s.router.Get("/api/sessions", s.handleSessions)
	s.router.Get("/api/workflows", s.handleWorkflows)
	s.router.Get("/api/workflows/{workflowID}", s.handleWorkflow)
	s.router.Get("/api/claims", s.handleClaims)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime         string      `json:"uptime"`
	GoVersion      string      `json:"go_version"`
	NumGoroutine   int         `json:"num_goroutine"`
	ActiveSessions int         `json:"active_sessions"`
	Memory         MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:         time.Since(s.startTime).String(),
		GoVersion:      runtime.Version(),
		NumGoroutine:   runtime.NumGoroutine(),
		ActiveSessions: s.broker.ActiveCount(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.broker.Sessions()
	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]any{
			"sessionId": sess.ID,
			"agentUrl":  sess.AgentURL,
			"createdAt": sess.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	var workflows []*workflow.Workflow
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		workflows = s.tracker.BySession(sessionID)
	} else {
		workflows = s.tracker.Running()
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.tracker.Get(chi.URLParam(r, "workflowID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "workflow not found"})
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleClaims(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     queryInt(r, "limit", 100),
		Offset:    queryInt(r, "offset", 0),
	}
	claims, err := s.store.ListClaims(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
