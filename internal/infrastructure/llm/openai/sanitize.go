package openai

// sanitizeRequestMap normalizes a chat-completions request body, expressed
// as its JSON map form, against the handful of provider-specific quirks
// that trip up OpenAI-compatible-but-not-identical backends. It walks only
// the known request shape (messages/tools/stream_options) rather than
// enumerating arbitrary nested objects, so it can't accidentally mangle a
// provider-specific field it doesn't recognize.
func sanitizeRequestMap(m map[string]interface{}, streaming bool) {
	if messages, ok := m["messages"].([]interface{}); ok {
		for _, raw := range messages {
			msg, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if role, ok := msg["role"].(string); ok && role == "developer" {
				msg["role"] = "system"
			}
		}
	}

	if v, ok := m["max_completion_tokens"]; ok {
		if _, exists := m["max_tokens"]; !exists {
			m["max_tokens"] = v
		}
		delete(m, "max_completion_tokens")
	}

	if tools, ok := m["tools"].([]interface{}); ok {
		for _, raw := range tools {
			tool, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			delete(tool, "strict")
			if fn, ok := tool["function"].(map[string]interface{}); ok {
				delete(fn, "strict")
				if params, ok := fn["parameters"].(map[string]interface{}); ok {
					delete(params, "strict")
				}
			}
		}
	}

	if streaming {
		so, ok := m["stream_options"].(map[string]interface{})
		if !ok {
			so = map[string]interface{}{}
		}
		so["include_usage"] = true
		m["stream_options"] = so
	}
}
