package broker

// unwrap flattens the transport framing some agent runtimes put around
// their events before the record reaches the normalizer. Three layers are
// peeled, each optional:
//
//   - a JSON-RPC envelope ({"jsonrpc":..., "id":..., "result":{...}})
//   - a status-update record whose payload lives under status.state and
//     status.message
//   - a data part inside message.parts carrying the actual typed event
//
// The normalizer itself only sees flat type/state-keyed objects.
func unwrap(raw map[string]any) map[string]any {
	if result, ok := raw["result"].(map[string]any); ok {
		if _, rpc := raw["jsonrpc"]; rpc {
			raw = result
		}
	}

	kind, _ := raw["kind"].(string)

	// Terminal assistant message: surface as a completed record so content
	// extraction applies.
	if kind == "message" || kind == "task-complete" || raw["type"] == "task-complete" {
		out := flatCopy(raw)
		if _, ok := out["state"]; !ok {
			out["state"] = "completed"
		}
		// Terminal messages carry their parts at the top level; content
		// extraction expects them under message.parts.
		if parts, ok := out["parts"]; ok {
			if _, has := out["message"]; !has {
				out["message"] = map[string]any{"parts": parts}
			}
			delete(out, "parts")
		}
		return out
	}

	if kind != "status-update" {
		return raw
	}

	status, ok := raw["status"].(map[string]any)
	if !ok {
		return raw
	}

	msg, _ := status["message"].(map[string]any)

	// A structured data part is the event itself.
	if data := dataPart(msg); data != nil {
		return data
	}

	out := map[string]any{}
	if state, ok := status["state"].(string); ok {
		out["state"] = state
	}
	if msg != nil {
		if text := partsText(msg); text != "" {
			out["message"] = text
		}
		if meta, ok := msg["metadata"].(map[string]any); ok {
			if step, ok := meta["event_type"].(string); ok {
				out["step"] = step
			}
			for k, v := range meta {
				if k == "event_type" {
					continue
				}
				out[k] = v
			}
		}
	}
	return out
}

// dataPart returns the first message part carrying a typed data object.
func dataPart(msg map[string]any) map[string]any {
	if msg == nil {
		return nil
	}
	parts, ok := msg["parts"].([]any)
	if !ok {
		return nil
	}
	for _, p := range parts {
		pm, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if data, ok := pm["data"].(map[string]any); ok {
			if _, typed := data["type"]; typed {
				return data
			}
		}
	}
	return nil
}

func partsText(msg map[string]any) string {
	parts, ok := msg["parts"].([]any)
	if !ok {
		return ""
	}
	text := ""
	for _, p := range parts {
		if pm, ok := p.(map[string]any); ok {
			if t, ok := pm["text"].(string); ok {
				text += t
			}
		}
	}
	return text
}

func flatCopy(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
