// Package normalizer maps raw upstream agent events onto the canonical
// event vocabulary. Agents speak heterogeneous dialects: some discriminate
// on a type field, some on a state field, field names drift between
// camelCase and snake_case, and a few shapes need restructuring rather than
// renaming. Normalize is a total function over JSON objects; anything it
// does not recognize passes through tagged, never dropped.
package normalizer

import (
	"strings"

	"github.com/arcfield/agentbridge/internal/domain"
)

// Correlation carries the owning session's identity. Every event leaving
// the normalizer has both fields attached, overriding any same-named fields
// in the raw input.
type Correlation struct {
	SessionID string
	AgentURL  string
}

const (
	defaultPlanTitle      = "Search Plan"
	defaultFailureMessage = "Agent task failed"
	defaultWorkingMessage = "Processing..."
	defaultWorkingStep    = "working"
)

var (
	discoveryTypeField = fieldSpec{keys: []string{"discoveryType", "discovery_type"}}
	discoveryIDField   = fieldSpec{keys: []string{"discoveryId", "discovery_id"}}
	selectionIDField   = fieldSpec{keys: []string{"selectionId", "selection_id"}}

	filePathField = fieldSpec{
		keys:  []string{"path"},
		paths: [][]string{{"metadata", "data", "path"}},
	}
	fileNameField = fieldSpec{
		keys:  []string{"name", "filename"},
		paths: [][]string{{"metadata", "data", "name"}},
	}
	fileFormatField = fieldSpec{
		keys:  []string{"format"},
		paths: [][]string{{"metadata", "data", "format"}},
	}
	fileSizeField = fieldSpec{
		keys:  []string{"size"},
		paths: [][]string{{"metadata", "data", "size"}},
	}
	fileSummaryField = fieldSpec{
		keys:  []string{"summary"},
		paths: [][]string{{"metadata", "data", "summary"}},
	}
	fileTypeField = fieldSpec{
		keys:  []string{"fileType", "file_type"},
		paths: [][]string{{"metadata", "data", "fileType"}, {"metadata", "data", "file_type"}},
	}
)

// Normalize converts one raw upstream event into exactly one canonical
// event. Dispatch rules are evaluated in a fixed precedence order; the
// first match wins and is never re-evaluated.
func Normalize(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	rawType, _ := raw["type"].(string)
	rawState, _ := raw["state"].(string)

	switch {
	case rawType == "clarification_needed" && clarificationID(raw) != "":
		return normalizeClarification(raw, corr)
	case rawType == "discovery_result":
		return normalizeDiscovery(raw, corr)
	case rawType == "selection_required":
		return normalizeSelection(raw, corr)
	case rawType == "preview_ready":
		return domain.CanonicalEvent{
			Type:      domain.EventPreviewReady,
			SessionID: corr.SessionID,
			AgentURL:  corr.AgentURL,
			Extra:     rest(raw, "type"),
		}
	case rawType == "search_plan":
		return normalizeSearchPlan(raw, corr)
	case rawState == "completed":
		return normalizeCompleted(raw, corr)
	case isFileOutput(raw, rawType):
		return normalizeFileOutput(raw, corr)
	case rawState == "failed":
		return normalizeFailed(raw, corr)
	case rawState == "working":
		return normalizeWorking(raw, corr)
	default:
		return passthrough(raw, rawType, corr)
	}
}

func clarificationID(raw map[string]any) string {
	return strField(raw, "clarificationId", "clarification_id")
}

func normalizeClarification(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	// The event's own session id, when supplied, wins over the session
	// default: multi-workflow agents route clarifications explicitly.
	sessionID := corr.SessionID
	if own := strField(raw, "sessionId"); own != "" {
		sessionID = own
	}

	questions, _ := listField(raw, "questions")
	return domain.CanonicalEvent{
		Type:      domain.EventClarificationNeeded,
		SessionID: sessionID,
		AgentURL:  corr.AgentURL,
		Clarification: &domain.Clarification{
			ClarificationID: clarificationID(raw),
			Questions:       questions,
			Message:         strField(raw, "message"),
			AgentURL:        corr.AgentURL,
			SessionID:       sessionID,
		},
	}
}

func normalizeDiscovery(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	items, _ := listField(raw, "items")
	return domain.CanonicalEvent{
		Type:          domain.EventDiscoveryResult,
		SessionID:     corr.SessionID,
		AgentURL:      corr.AgentURL,
		Items:         items,
		Message:       strField(raw, "message"),
		DiscoveryType: discoveryTypeField.str(raw),
		DiscoveryID:   discoveryIDField.str(raw),
		Extra: rest(raw, "type", "items", "message",
			"discoveryType", "discovery_type", "discoveryId", "discovery_id"),
	}
}

func normalizeSelection(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	items, _ := listField(raw, "items")
	return domain.CanonicalEvent{
		Type:          domain.EventSelectionRequired,
		SessionID:     corr.SessionID,
		AgentURL:      corr.AgentURL,
		Items:         items,
		Message:       strField(raw, "message"),
		SelectionID:   selectionIDField.str(raw),
		DiscoveryType: discoveryTypeField.str(raw),
		MinSelect:     intPtrField(raw, "minSelect", "min_select"),
		MaxSelect:     intPtrField(raw, "maxSelect", "max_select"),
		Extra: rest(raw, "type", "items", "message",
			"selectionId", "selection_id", "discoveryType", "discovery_type",
			"minSelect", "min_select", "maxSelect", "max_select"),
	}
}

// normalizeSearchPlan restructures a search_plan record into preview_ready.
// The source fields are spread into the output for audit, but the
// synthesized tag is written structurally after them (see
// domain.CanonicalEvent.MarshalJSON), so the stale search_plan tag can never
// reappear downstream.
func normalizeSearchPlan(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	title := strField(raw, "userIntent")
	if title == "" {
		title = strField(raw, "message")
	}
	if title == "" {
		title = defaultPlanTitle
	}

	keywords, _ := listField(raw, "searchKeywords")
	if keywords == nil {
		keywords = []any{}
	}
	targets, _ := listField(raw, "subreddits", "targets")
	if targets == nil {
		targets = []any{}
	}

	extra := make(map[string]any, len(raw))
	for k, v := range raw {
		extra[k] = v
	}

	return domain.CanonicalEvent{
		Type:      domain.EventPreviewReady,
		SessionID: corr.SessionID,
		AgentURL:  corr.AgentURL,
		Plan: &domain.PlanPreview{
			Title:    title,
			Keywords: keywords,
			Targets:  targets,
			PlanID:   strField(raw, "planId"),
		},
		Message: strField(raw, "message"),
		Extra:   extra,
	}
}

// normalizeCompleted extracts the final assistant text with a fixed
// priority: an explicit result field, then the concatenated text parts of
// the message, then a direct content field. When nothing yields text the
// completion is still surfaced as a done event.
func normalizeCompleted(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	text := ""
	if v, ok := raw["result"]; ok && v != nil {
		text = stringify(v)
	}
	if text == "" {
		text = messagePartsText(raw)
	}
	if text == "" {
		if v, ok := raw["content"]; ok && v != nil {
			text = stringify(v)
		}
	}

	if text == "" {
		return domain.CanonicalEvent{
			Type:      domain.EventDone,
			SessionID: corr.SessionID,
			AgentURL:  corr.AgentURL,
			State:     "completed",
		}
	}

	return domain.CanonicalEvent{
		Type:      domain.EventContent,
		SessionID: corr.SessionID,
		AgentURL:  corr.AgentURL,
		Content:   text,
	}
}

// messagePartsText concatenates every message part carrying text, in list
// order. Parts without a text field (data parts, attachments) are skipped.
func messagePartsText(raw map[string]any) string {
	msg, ok := mapField(raw, "message")
	if !ok {
		return ""
	}
	parts, ok := msg["parts"].([]any)
	if !ok {
		return ""
	}

	var b strings.Builder
	for _, p := range parts {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := pm["text"].(string); ok {
			b.WriteString(t)
		}
	}
	return b.String()
}

// isFileOutput matches every alias an agent dialect uses to announce a file:
// the type field, the step field, or the event type buried in message
// metadata.
func isFileOutput(raw map[string]any, rawType string) bool {
	if isFileSignal(rawType) {
		return true
	}
	if isFileSignal(strField(raw, "step")) {
		return true
	}
	if v, ok := walk(raw, []string{"message", "metadata", "event_type"}); ok {
		if s, ok := v.(string); ok && isFileSignal(s) {
			return true
		}
	}
	return false
}

func isFileSignal(s string) bool {
	return s == "file_created" || s == "file_saved"
}

func normalizeFileOutput(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	format := fileFormatField.str(raw)
	if format == "" {
		// Only when no dialect carried any format signal at all.
		format = "html"
	}

	extra := rest(raw, "type", "state", "step", "message", "metadata",
		"path", "name", "filename", "format", "size", "summary",
		"fileType", "file_type")
	// The billing classifier matches keywords against the declared file
	// type; resolve the alias here so downstream consumers see one key.
	if ft := fileTypeField.str(raw); ft != "" {
		if extra == nil {
			extra = make(map[string]any, 1)
		}
		extra["fileType"] = ft
	}

	return domain.CanonicalEvent{
		Type:      domain.EventFileCreated,
		SessionID: corr.SessionID,
		AgentURL:  corr.AgentURL,
		Path:      filePathField.str(raw),
		Name:      fileNameField.str(raw),
		Format:    format,
		Size:      fileSizeField.int64(raw),
		Summary:   fileSummaryField.str(raw),
		Extra:     extra,
	}
}

func normalizeFailed(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	msg := ""
	if v, ok := raw["error"]; ok && v != nil {
		msg = stringify(v)
	}
	if msg == "" {
		msg = strField(raw, "message")
	}
	if msg == "" {
		msg = defaultFailureMessage
	}

	return domain.CanonicalEvent{
		Type:      domain.EventError,
		SessionID: corr.SessionID,
		AgentURL:  corr.AgentURL,
		Error:     msg,
	}
}

func normalizeWorking(raw map[string]any, corr Correlation) domain.CanonicalEvent {
	step := strField(raw, "step")
	if step == "" {
		step = defaultWorkingStep
	}
	msg := strField(raw, "message")
	if msg == "" {
		msg = defaultWorkingMessage
	}

	return domain.CanonicalEvent{
		Type:      domain.EventProgress,
		SessionID: corr.SessionID,
		AgentURL:  corr.AgentURL,
		Step:      step,
		Message:   msg,
		State:     "working",
		Metadata:  rest(raw, "type", "state", "message", "step"),
	}
}

func passthrough(raw map[string]any, rawType string, corr Correlation) domain.CanonicalEvent {
	tag := domain.EventType(rawType)
	if rawType == "" {
		tag = domain.EventUnknown
	}
	return domain.CanonicalEvent{
		Type:      tag,
		SessionID: corr.SessionID,
		AgentURL:  corr.AgentURL,
		Extra:     rest(raw, "type"),
	}
}
