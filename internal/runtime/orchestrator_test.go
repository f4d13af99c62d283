package runtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcfield/agentbridge/internal/pkg/config"
	"github.com/arcfield/agentbridge/internal/storage"
	"github.com/arcfield/agentbridge/internal/workflow"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0},
		Storage: config.StorageConfig{Type: "memory"},
		// Test agents listen on loopback.
		Agents: config.AgentsConfig{AllowPrivateEndpoints: true},
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(
		WithConfig(testConfig()),
		WithMemoryStore(),
		WithoutSweeper(),
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return o
}

func sseAgent(t *testing.T, records ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, rec := range records {
			fmt.Fprintf(w, "data: %s\n\n", rec)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOrchestrator_EventStreamDrivesWorkflow(t *testing.T) {
	upstream := sseAgent(t,
		`{"type":"clarification_needed","clarificationId":"cl-1","questions":["Which market?"]}`,
	)
	defer upstream.Close()

	o := newTestOrchestrator(t)
	o.Broker().Register("sess-1", upstream.URL)
	o.Tracker().Start(workflow.StartParams{WorkflowID: "wf-1", SessionID: "sess-1"})

	if err := o.Broker().Forward(context.Background(), "sess-1", map[string]any{"text": "research"}); err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}

	wf, ok := o.Tracker().Get("wf-1")
	if !ok {
		t.Fatal("Expected workflow present")
	}
	if wf.Phase != workflow.PhaseClarification {
		t.Errorf("Expected clarification phase, got %s", wf.Phase)
	}
	if wf.Data[workflow.PhaseClarification] == nil {
		t.Error("Expected clarification payload stored as phase data")
	}
}

func TestOrchestrator_CompletionClosesWorkflowAndPersistsClaims(t *testing.T) {
	upstream := sseAgent(t,
		`{"state":"working","step":"executing"}`,
		`{"type":"file_created","name":"market-analysis.html","format":"html","size":30000}`,
		`{"state":"completed","result":"## Analysis Complete"}`,
	)
	defer upstream.Close()

	o := newTestOrchestrator(t)
	o.Broker().Register("sess-1", upstream.URL)
	o.Tracker().Start(workflow.StartParams{WorkflowID: "wf-1", SessionID: "sess-1"})

	if err := o.Broker().Forward(context.Background(), "sess-1", map[string]any{"text": "go"}); err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}

	wf, _ := o.Tracker().Get("wf-1")
	if wf.Status != workflow.StatusCompleted {
		t.Errorf("Expected completed workflow, got %s", wf.Status)
	}

	claims, err := o.Store().ListClaims(context.Background(), storage.ListOptions{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("ListClaims returned error: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("Expected one persisted claim, got %d", len(claims))
	}
	if claims[0].Type != "research" {
		t.Errorf("Expected research claim, got %s", claims[0].Type)
	}
}

func TestOrchestrator_FailureMarksWorkflowError(t *testing.T) {
	upstream := sseAgent(t, `{"state":"failed","error":"agent exploded"}`)
	defer upstream.Close()

	o := newTestOrchestrator(t)
	o.Broker().Register("sess-1", upstream.URL)
	o.Tracker().Start(workflow.StartParams{WorkflowID: "wf-1", SessionID: "sess-1"})

	if err := o.Broker().Forward(context.Background(), "sess-1", map[string]any{"text": "go"}); err != nil {
		t.Fatalf("Forward returned error: %v", err)
	}

	wf, _ := o.Tracker().Get("wf-1")
	if wf.Status != workflow.StatusError {
		t.Errorf("Expected error status, got %s", wf.Status)
	}
	if wf.ErrorMessage != "agent exploded" {
		t.Errorf("Expected error message, got %q", wf.ErrorMessage)
	}
}

func TestOrchestrator_StartShutdown(t *testing.T) {
	o := newTestOrchestrator(t)

	ctx := context.Background()
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := o.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
