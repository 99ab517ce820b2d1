package openai

import "testing"

func TestSanitizeRequestMap_RenamesDeveloperRole(t *testing.T) {
	m := map[string]interface{}{
		"messages": []interface{}{
			map[string]interface{}{"role": "developer", "content": "be terse"},
			map[string]interface{}{"role": "user", "content": "hi"},
		},
	}
	sanitizeRequestMap(m, false)

	msgs := m["messages"].([]interface{})
	if role := msgs[0].(map[string]interface{})["role"]; role != "system" {
		t.Fatalf("developer role not renamed, got %v", role)
	}
	if role := msgs[1].(map[string]interface{})["role"]; role != "user" {
		t.Fatalf("user role should be untouched, got %v", role)
	}
}

func TestSanitizeRequestMap_RenamesMaxCompletionTokens(t *testing.T) {
	m := map[string]interface{}{"max_completion_tokens": float64(512)}
	sanitizeRequestMap(m, false)

	if _, exists := m["max_completion_tokens"]; exists {
		t.Fatal("max_completion_tokens should be removed")
	}
	if v := m["max_tokens"]; v != float64(512) {
		t.Fatalf("max_tokens = %v, want 512", v)
	}
}

func TestSanitizeRequestMap_DoesNotOverwriteExistingMaxTokens(t *testing.T) {
	m := map[string]interface{}{
		"max_completion_tokens": float64(512),
		"max_tokens":             float64(128),
	}
	sanitizeRequestMap(m, false)

	if v := m["max_tokens"]; v != float64(128) {
		t.Fatalf("existing max_tokens should win, got %v", v)
	}
}

func TestSanitizeRequestMap_StripsStrictFlags(t *testing.T) {
	m := map[string]interface{}{
		"tools": []interface{}{
			map[string]interface{}{
				"type":   "function",
				"strict": true,
				"function": map[string]interface{}{
					"name":   "lookup",
					"strict": true,
					"parameters": map[string]interface{}{
						"type":   "object",
						"strict": true,
					},
				},
			},
		},
	}
	sanitizeRequestMap(m, false)

	tool := m["tools"].([]interface{})[0].(map[string]interface{})
	if _, ok := tool["strict"]; ok {
		t.Fatal("tool-level strict should be stripped")
	}
	fn := tool["function"].(map[string]interface{})
	if _, ok := fn["strict"]; ok {
		t.Fatal("function-level strict should be stripped")
	}
	params := fn["parameters"].(map[string]interface{})
	if _, ok := params["strict"]; ok {
		t.Fatal("parameters-level strict should be stripped")
	}
}

func TestSanitizeRequestMap_SetsIncludeUsageWhenStreaming(t *testing.T) {
	m := map[string]interface{}{}
	sanitizeRequestMap(m, true)

	so, ok := m["stream_options"].(map[string]interface{})
	if !ok {
		t.Fatal("stream_options should be set for streaming requests")
	}
	if so["include_usage"] != true {
		t.Fatalf("include_usage = %v, want true", so["include_usage"])
	}
}

func TestSanitizeRequestMap_NoStreamOptionsWhenNotStreaming(t *testing.T) {
	m := map[string]interface{}{}
	sanitizeRequestMap(m, false)

	if _, ok := m["stream_options"]; ok {
		t.Fatal("stream_options should not be set for non-streaming requests")
	}
}
