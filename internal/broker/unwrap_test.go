package broker

import "testing"

func TestUnwrap_JSONRPCEnvelope(t *testing.T) {
	raw := map[string]any{
		"jsonrpc": "2.0",
		"id":      "req-1",
		"result": map[string]any{
			"kind": "status-update",
			"status": map[string]any{
				"state": "working",
			},
		},
	}

	out := unwrap(raw)
	if out["state"] != "working" {
		t.Errorf("Expected envelope peeled to flat state, got %v", out)
	}
}

func TestUnwrap_StatusUpdate_DataPart(t *testing.T) {
	raw := map[string]any{
		"kind": "status-update",
		"status": map[string]any{
			"state": "working",
			"message": map[string]any{
				"parts": []any{
					map[string]any{"text": "ignored"},
					map[string]any{"data": map[string]any{
						"type":            "clarification_needed",
						"clarificationId": "cl-2",
					}},
				},
			},
		},
	}

	out := unwrap(raw)
	if out["type"] != "clarification_needed" {
		t.Fatalf("Expected data part surfaced as the event, got %v", out)
	}
	if out["clarificationId"] != "cl-2" {
		t.Errorf("Expected data part fields, got %v", out)
	}
}

func TestUnwrap_StatusUpdate_FlatFields(t *testing.T) {
	raw := map[string]any{
		"kind": "status-update",
		"status": map[string]any{
			"state": "working",
			"message": map[string]any{
				"parts": []any{map[string]any{"text": "Searching..."}},
				"metadata": map[string]any{
					"event_type": "searching",
					"sources":    float64(4),
				},
			},
		},
	}

	out := unwrap(raw)
	if out["state"] != "working" {
		t.Errorf("Expected state, got %v", out["state"])
	}
	if out["message"] != "Searching..." {
		t.Errorf("Expected parts text as message, got %v", out["message"])
	}
	if out["step"] != "searching" {
		t.Errorf("Expected event_type as step, got %v", out["step"])
	}
	if out["sources"] != float64(4) {
		t.Errorf("Expected residual metadata carried, got %v", out)
	}
}

func TestUnwrap_TerminalMessage(t *testing.T) {
	raw := map[string]any{
		"kind": "message",
		"parts": []any{
			map[string]any{"text": "## Analysis Complete"},
		},
	}

	out := unwrap(raw)
	if out["state"] != "completed" {
		t.Errorf("Expected terminal message marked completed, got %v", out["state"])
	}
	msg, ok := out["message"].(map[string]any)
	if !ok {
		t.Fatalf("Expected parts rehomed under message, got %v", out)
	}
	if _, ok := msg["parts"].([]any); !ok {
		t.Errorf("Expected message.parts, got %v", msg)
	}
	if _, ok := out["parts"]; ok {
		t.Error("Expected top-level parts removed")
	}
}

func TestUnwrap_PlainEventUntouched(t *testing.T) {
	raw := map[string]any{"type": "file_created", "name": "report.html"}
	out := unwrap(raw)
	if out["type"] != "file_created" || out["name"] != "report.html" {
		t.Errorf("Expected flat event passed through, got %v", out)
	}
}
