// Package workflow tracks the lifecycle of logical multi-round
// conversations as a keyed phase state machine fed by canonical events.
package workflow

import (
	"log/slog"
	"sync"
	"time"
)

// Phase is a workflow lifecycle phase.
type Phase string

const (
	PhaseInitial       Phase = "initial"
	PhaseClarification Phase = "clarification"
	PhaseDiscovery     Phase = "discovery"
	PhaseSelection     Phase = "selection"
	PhasePreview       Phase = "preview"
	PhaseExecuting     Phase = "executing"
	PhaseCompleted     Phase = "completed"
	PhaseError         Phase = "error"
)

// Status is the derived activity status of a workflow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// validTransitions is the documented edge table. The clarification
// self-loop supports multiple clarification rounds; selection and preview
// can bounce back to clarification when the user rejects.
var validTransitions = map[Phase][]Phase{
	PhaseInitial:       {PhaseClarification, PhaseExecuting, PhaseError},
	PhaseClarification: {PhaseDiscovery, PhaseClarification, PhaseExecuting, PhaseError},
	PhaseDiscovery:     {PhaseSelection, PhaseError},
	PhaseSelection:     {PhasePreview, PhaseClarification, PhaseError},
	PhasePreview:       {PhaseExecuting, PhaseClarification, PhaseError},
	PhaseExecuting:     {PhaseCompleted, PhaseError},
}

// PhaseChange is one append-only history entry.
type PhaseChange struct {
	Phase         Phase     `json:"phase"`
	Timestamp     time.Time `json:"timestamp"`
	PreviousPhase Phase     `json:"previousPhase,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// Progress is the coarse execution progress reported by the agent.
type Progress struct {
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Message    string  `json:"message,omitempty"`
	Percentage float64 `json:"percentage"`
}

// ProgressUpdate carries a partial progress change; nil fields are left
// untouched by UpdateProgress.
type ProgressUpdate struct {
	Current    *int
	Total      *int
	Message    *string
	Percentage *float64
}

// Workflow is one logical multi-round conversation. Its correlation
// identifiers are fixed at creation; everything else mutates through the
// tracker.
type Workflow struct {
	ID                string         `json:"workflowId"`
	SessionID         string         `json:"sessionId"`
	AgentID           string         `json:"agentId,omitempty"`
	AgentURL          string         `json:"agentUrl"`
	InitialMessageID  string         `json:"initialMessageId"`
	ResponseMessageID string         `json:"responseMessageId"`
	Phase             Phase          `json:"phase"`
	History           []PhaseChange  `json:"history"`
	Data              map[Phase]any  `json:"data,omitempty"`
	Progress          Progress       `json:"progress"`
	Status            Status         `json:"status"`
	StartedAt         time.Time      `json:"startedAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
}

// clone deep-copies the workflow so query results can be read and
// marshaled while the tracker keeps mutating the live record.
func (w *Workflow) clone() *Workflow {
	c := *w
	c.History = append([]PhaseChange(nil), w.History...)
	if w.Data != nil {
		c.Data = make(map[Phase]any, len(w.Data))
		for k, v := range w.Data {
			c.Data[k] = v
		}
	}
	if w.CompletedAt != nil {
		at := *w.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// StartParams carries the correlation identifiers for a new workflow.
type StartParams struct {
	WorkflowID        string
	SessionID         string
	AgentID           string
	AgentURL          string
	InitialMessageID  string
	ResponseMessageID string
}

// Tracker is the keyed state machine: one Workflow per workflow id, plus a
// pointer to the currently active workflow for single-workflow consumers.
type Tracker struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	activeID  string
	logger    *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		workflows: make(map[string]*Workflow),
		logger:    logger,
	}
}

// Start creates a workflow in the initial phase and makes it the currently
// active workflow.
func (t *Tracker) Start(params StartParams) *Workflow {
	now := time.Now()
	w := &Workflow{
		ID:                params.WorkflowID,
		SessionID:         params.SessionID,
		AgentID:           params.AgentID,
		AgentURL:          params.AgentURL,
		InitialMessageID:  params.InitialMessageID,
		ResponseMessageID: params.ResponseMessageID,
		Phase:             PhaseInitial,
		History:           []PhaseChange{{Phase: PhaseInitial, Timestamp: now}},
		Data:              make(map[Phase]any),
		Status:            StatusPending,
		StartedAt:         now,
		UpdatedAt:         now,
	}

	t.mu.Lock()
	t.workflows[w.ID] = w
	t.activeID = w.ID
	t.mu.Unlock()

	t.logger.Info("workflow started",
		slog.String("workflow_id", w.ID),
		slog.String("session_id", w.SessionID))
	return w.clone()
}

// Transition appends a history entry, merges phase data, and derives the
// activity status. Edges outside the documented table are logged and
// allowed: agents skip phases in practice, and rejecting here would strand
// the workflow record mid-conversation. Unknown ids are a logged no-op.
func (t *Tracker) Transition(workflowID string, phase Phase, data any, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.workflows[workflowID]
	if !ok {
		t.logger.Warn("transition on unknown workflow", slog.String("workflow_id", workflowID))
		return
	}

	if !edgeAllowed(w.Phase, phase) {
		t.logger.Warn("undocumented phase transition",
			slog.String("workflow_id", workflowID),
			slog.String("from", string(w.Phase)),
			slog.String("to", string(phase)))
	}

	now := time.Now()
	w.History = append(w.History, PhaseChange{
		Phase:         phase,
		Timestamp:     now,
		PreviousPhase: w.Phase,
		Reason:        reason,
	})
	w.Phase = phase
	w.UpdatedAt = now

	if data != nil {
		// Additive: each phase keeps its own slot, earlier phases' data
		// survives later transitions.
		w.Data[phase] = data
	}

	switch phase {
	case PhaseExecuting:
		w.Status = StatusRunning
	case PhaseCompleted:
		w.Status = StatusCompleted
		w.CompletedAt = &now
	case PhaseError:
		w.Status = StatusError
	}
}

// Complete transitions the workflow to the completed terminal phase.
func (t *Tracker) Complete(workflowID string, data any) {
	t.Transition(workflowID, PhaseCompleted, data, "")
}

// Error stores the error message and transitions to the error terminal
// phase.
func (t *Tracker) Error(workflowID, message string) {
	t.mu.Lock()
	if w, ok := t.workflows[workflowID]; ok {
		w.ErrorMessage = message
	}
	t.mu.Unlock()

	t.Transition(workflowID, PhaseError, nil, message)
}

// UpdateProgress shallow-merges the partial update into the workflow's
// progress record. Unknown ids are a logged no-op.
func (t *Tracker) UpdateProgress(workflowID string, update ProgressUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.workflows[workflowID]
	if !ok {
		t.logger.Warn("progress update on unknown workflow", slog.String("workflow_id", workflowID))
		return
	}

	if update.Current != nil {
		w.Progress.Current = *update.Current
	}
	if update.Total != nil {
		w.Progress.Total = *update.Total
	}
	if update.Message != nil {
		w.Progress.Message = *update.Message
	}
	if update.Percentage != nil {
		w.Progress.Percentage = *update.Percentage
	}
	w.UpdatedAt = time.Now()
}

// Remove deletes a workflow record.
func (t *Tracker) Remove(workflowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.workflows, workflowID)
	if t.activeID == workflowID {
		t.activeID = ""
	}
}

// Get returns a copy of the workflow by id. Query methods never hand out
// the live record: callers marshal and inspect results outside the
// tracker's lock while session pipelines keep transitioning it.
func (t *Tracker) Get(workflowID string) (*Workflow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	w, ok := t.workflows[workflowID]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// Active returns a copy of the currently active workflow, if any.
func (t *Tracker) Active() (*Workflow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.activeID == "" {
		return nil, false
	}
	w, ok := t.workflows[t.activeID]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// ByMessageID finds the workflow correlated with either the initiating
// message or the message designated to receive the rendered output.
func (t *Tracker) ByMessageID(messageID string) (*Workflow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, w := range t.workflows {
		if w.InitialMessageID == messageID || w.ResponseMessageID == messageID {
			return w.clone(), true
		}
	}
	return nil, false
}

// BySession returns every workflow belonging to the session.
func (t *Tracker) BySession(sessionID string) []*Workflow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Workflow
	for _, w := range t.workflows {
		if w.SessionID == sessionID {
			out = append(out, w.clone())
		}
	}
	return out
}

// Running returns every workflow still pending or running.
func (t *Tracker) Running() []*Workflow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Workflow
	for _, w := range t.workflows {
		if w.Status == StatusPending || w.Status == StatusRunning {
			out = append(out, w.clone())
		}
	}
	return out
}

func edgeAllowed(from, to Phase) bool {
	for _, p := range validTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
