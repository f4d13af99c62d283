// Package domain defines the canonical event vocabulary shared by every
// component of the orchestration layer. Upstream agents speak their own
// dialects; everything downstream of the normalizer speaks these types.
package domain

import "encoding/json"

// EventType is the discriminator tag on a canonical event.
type EventType string

const (
	EventProgress            EventType = "progress"
	EventContent             EventType = "content"
	EventFileCreated         EventType = "file_created"
	EventClarificationNeeded EventType = "clarification_needed"
	EventDiscoveryResult     EventType = "discovery_result"
	EventSelectionRequired   EventType = "selection_required"
	EventPreviewReady        EventType = "preview_ready"
	EventError               EventType = "error"
	EventDone                EventType = "done"

	// EventUnknown tags passthrough events whose raw input carried no type
	// field at all. Raw events with an unrecognized type keep their own tag.
	EventUnknown EventType = "unknown"
)

// Clarification is the nested payload of a clarification_needed event.
type Clarification struct {
	ClarificationID string `json:"clarificationId"`
	Questions       []any  `json:"questions"`
	Message         string `json:"message,omitempty"`
	AgentURL        string `json:"agentUrl"`
	SessionID       string `json:"sessionId"`
}

// PlanPreview is the nested plan payload of a preview_ready event
// synthesized from an upstream search_plan record.
type PlanPreview struct {
	Title    string `json:"title"`
	Keywords []any  `json:"keywords"`
	Targets  []any  `json:"targets"`
	PlanID   string `json:"planId,omitempty"`
}

// CanonicalEvent is the normalized output unit. One struct covers the whole
// vocabulary; which payload fields are populated depends on Type. Extra
// carries passthrough fields for dialect shapes the vocabulary does not
// model explicitly.
//
// Serialization is deliberately not a plain struct marshal: Extra is written
// first, typed payload fields second, and the tag plus the two correlation
// fields last, so a raw upstream field can never shadow the canonical tag,
// session id, or agent URL. See MarshalJSON.
type CanonicalEvent struct {
	Type      EventType
	SessionID string
	AgentURL  string

	// progress
	Step     string
	State    string
	Metadata map[string]any

	// progress, content prose, discovery/selection prompts
	Message string

	// content
	Content string

	// file_created
	Path    string
	Name    string
	Format  string
	Size    int64
	Summary string

	// clarification_needed
	Clarification *Clarification

	// discovery_result / selection_required
	Items         []any
	DiscoveryType string
	DiscoveryID   string
	SelectionID   string
	MinSelect     *int
	MaxSelect     *int

	// preview_ready (synthesized from search_plan)
	Plan *PlanPreview

	// error
	Error string

	// Extra holds raw upstream fields preserved verbatim on passthrough and
	// spread-style events. It is never allowed to override the fields above.
	Extra map[string]any
}

// MarshalJSON flattens the event into a single JSON object. Field-overwrite
// order is the contract here: passthrough fields go in first, typed payload
// fields overwrite them, and type/sessionId/agentUrl are written last.
func (e CanonicalEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		out[k] = v
	}

	switch e.Type {
	case EventProgress:
		out["step"] = e.Step
		out["message"] = e.Message
		out["state"] = e.State
		if e.Metadata != nil {
			out["metadata"] = e.Metadata
		}
	case EventContent:
		out["content"] = e.Content
	case EventFileCreated:
		out["path"] = e.Path
		out["name"] = e.Name
		out["format"] = e.Format
		out["size"] = e.Size
		if e.Summary != "" {
			out["summary"] = e.Summary
		}
	case EventClarificationNeeded:
		if e.Clarification != nil {
			out["clarification"] = e.Clarification
		}
	case EventDiscoveryResult:
		out["items"] = emptyIfNil(e.Items)
		out["discoveryType"] = e.DiscoveryType
		out["discoveryId"] = e.DiscoveryID
		if e.Message != "" {
			out["message"] = e.Message
		}
	case EventSelectionRequired:
		out["items"] = emptyIfNil(e.Items)
		out["selectionId"] = e.SelectionID
		out["discoveryType"] = e.DiscoveryType
		if e.MinSelect != nil {
			out["minSelect"] = *e.MinSelect
		}
		if e.MaxSelect != nil {
			out["maxSelect"] = *e.MaxSelect
		}
		if e.Message != "" {
			out["message"] = e.Message
		}
	case EventPreviewReady:
		if e.Plan != nil {
			out["plan"] = e.Plan
		}
		if e.Message != "" {
			out["message"] = e.Message
		}
	case EventError:
		out["error"] = e.Error
	case EventDone:
		out["state"] = e.State
	}

	out["type"] = string(e.Type)
	out["sessionId"] = e.SessionID
	out["agentUrl"] = e.AgentURL

	return json.Marshal(out)
}

func emptyIfNil(items []any) []any {
	if items == nil {
		return []any{}
	}
	return items
}
