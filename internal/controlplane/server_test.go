package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	agentapi "github.com/arcfield/agentbridge/internal/api/agent"
	"github.com/arcfield/agentbridge/internal/broker"
	"github.com/arcfield/agentbridge/internal/domain"
	"github.com/arcfield/agentbridge/internal/storage/memory"
	"github.com/arcfield/agentbridge/internal/workflow"
)

func newAdmin(t *testing.T) (*Server, *broker.Broker, *workflow.Tracker, *memory.Store) {
	t.Helper()
	b := broker.New(agentapi.NewClient())
	tracker := workflow.NewTracker(nil)
	store := memory.New()
	return NewServer(b, tracker, store), b, tracker, store
}

func getJSON(t *testing.T, s *Server, path string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("Unmarshal returned error: %v", err)
	}
	return out
}

func TestHandleStats(t *testing.T) {
	s, b, _, _ := newAdmin(t)
	b.Register("sess-1", "http://agent.example.com")

	out := getJSON(t, s, "/api/stats")
	if out["active_sessions"] != float64(1) {
		t.Errorf("Expected 1 active session, got %v", out["active_sessions"])
	}
	if out["go_version"] == "" {
		t.Error("Expected go version reported")
	}
}

func TestHandleSessions(t *testing.T) {
	s, b, _, _ := newAdmin(t)
	b.Register("sess-1", "http://agent.example.com")
	b.Register("sess-2", "http://other.example.com")

	out := getJSON(t, s, "/api/sessions")
	sessions, _ := out["sessions"].([]any)
	if len(sessions) != 2 {
		t.Errorf("Expected 2 sessions, got %v", out)
	}
}

func TestHandleWorkflows(t *testing.T) {
	s, _, tracker, _ := newAdmin(t)
	tracker.Start(workflow.StartParams{WorkflowID: "wf-1", SessionID: "sess-1"})
	tracker.Start(workflow.StartParams{WorkflowID: "wf-2", SessionID: "sess-2"})
	tracker.Complete("wf-2", nil)

	out := getJSON(t, s, "/api/workflows")
	flows, _ := out["workflows"].([]any)
	if len(flows) != 1 {
		t.Errorf("Expected only running workflows, got %v", out)
	}

	out = getJSON(t, s, "/api/workflows?session_id=sess-2")
	flows, _ = out["workflows"].([]any)
	if len(flows) != 1 {
		t.Errorf("Expected completed workflow visible by session, got %v", out)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/workflows/missing", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown workflow, got %d", rec.Code)
	}
}

func TestHandleClaims(t *testing.T) {
	s, _, _, store := newAdmin(t)
	store.SaveClaims(context.Background(), []domain.BillingClaim{
		{ID: "c1", SessionID: "sess-1", Type: domain.FeatureResearch, Source: domain.ClaimSourceFileOutput, CreatedAt: time.Now()},
		{ID: "c2", SessionID: "sess-2", Type: domain.FeatureMonitors, Source: domain.ClaimSourceMonitorEvent, CreatedAt: time.Now()},
	})

	out := getJSON(t, s, "/api/claims?session_id=sess-1")
	claims, _ := out["claims"].([]any)
	if len(claims) != 1 {
		t.Errorf("Expected 1 claim for sess-1, got %v", out)
	}
}
