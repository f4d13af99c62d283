// Package server exposes the orchestration layer over HTTP: session
// registration, response forwarding, and live event fan-out via SSE and
// websocket streams.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arcfield/agentbridge/internal/broker"
	"github.com/arcfield/agentbridge/internal/domain"
	"github.com/arcfield/agentbridge/internal/workflow"
)

const (
	defaultRequestTimeout = 30 * time.Second

	// maxRespondBody bounds the forwarded payload size.
	maxRespondBody = 1 << 20
)

// Server is the inbound HTTP surface. Streaming routes (respond, events,
// ws) are mounted outside the timeout middleware because they legitimately
// outlive a normal request deadline.
type Server struct {
	router  chi.Router
	broker  *broker.Broker
	tracker *workflow.Tracker
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithRequestTimeout overrides the deadline applied to non-streaming routes.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New builds the server and mounts all routes.
func New(b *broker.Broker, tracker *workflow.Tracker, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		broker:  b,
		tracker: tracker,
		logger:  logger,
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(s.timeout))
		r.Get("/health", s.handleHealth)
		r.Post("/v1/sessions", s.handleRegister)
		r.Get("/v1/sessions", s.handleListSessions)
		r.Delete("/v1/sessions/{sessionID}", s.handleDeactivate)
	})

	r.Post("/v1/sessions/{sessionID}/respond", s.handleRespond)
	r.Get("/v1/sessions/{sessionID}/events", s.handleEvents)
	r.Get("/v1/sessions/{sessionID}/ws", s.handleWebsocket)

	s.router = r
	return s
}

// Handler returns the root handler wrapped with tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "agentbridge")
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.broker.ActiveCount(),
	})
}

type registerRequest struct {
	SessionID string `json:"sessionId"`
	AgentURL  string `json:"agentUrl"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrParse("invalid register payload", err))
		return
	}
	if req.AgentURL == "" {
		writeError(w, domain.ErrParse("agentUrl is required", nil))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	sess := s.broker.Register(req.SessionID, req.AgentURL)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sess.ID,
		"agentUrl":  sess.AgentURL,
		"createdAt": sess.CreatedAt,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
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

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.broker.Deactivate(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

// handleRespond forwards the request body to the session's agent and blocks
// until the agent's stream completes. The body is forwarded verbatim;
// workflow correlation rides in query parameters so the payload stays
// opaque to this layer.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRespondBody))
	if err != nil {
		writeError(w, domain.ErrParse("reading request body", err))
		return
	}
	if len(body) == 0 {
		writeError(w, domain.ErrParse("empty payload", nil))
		return
	}

	if s.tracker != nil {
		s.startWorkflowRound(r, sessionID)
	}

	if err := s.broker.Forward(r.Context(), sessionID, json.RawMessage(body)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "completed"})
}

// startWorkflowRound opens a workflow record when the caller supplies a
// workflow id that is not yet tracked.
func (s *Server) startWorkflowRound(r *http.Request, sessionID string) {
	workflowID := r.URL.Query().Get("workflow_id")
	if workflowID == "" {
		return
	}
	if _, ok := s.tracker.Get(workflowID); ok {
		return
	}
	agentURL := ""
	if sess, ok := s.broker.Get(sessionID); ok {
		agentURL = sess.AgentURL
	}
	s.tracker.Start(workflow.StartParams{
		WorkflowID:        workflowID,
		SessionID:         sessionID,
		AgentURL:          agentURL,
		InitialMessageID:  r.URL.Query().Get("message_id"),
		ResponseMessageID: r.URL.Query().Get("response_message_id"),
	})
}

// handleEvents streams the session's canonical events as SSE until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := s.broker.Get(sessionID); !ok {
		writeError(w, domain.ErrSessionNotFound(sessionID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.ErrServer("streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan domain.CanonicalEvent, 64)
	unsubscribe := s.broker.Subscribe(sessionID, func(ev domain.CanonicalEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("marshaling event for sse",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := err.Error()
	var oerr *domain.OrchestratorError
	if errors.As(err, &oerr) {
		status = oerr.HTTPStatusCode()
	}
	writeJSON(w, status, map[string]any{"error": message})
}
