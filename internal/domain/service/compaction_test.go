package service

import (
	"testing"

	"go.uber.org/zap"
)

func newTestAgentLoopForCompaction() *AgentLoop {
	cfg := DefaultAgentLoopConfig()
	cfg.CompactKeepLast = 2
	return &AgentLoop{config: cfg, logger: zap.NewNop()}
}

func TestCompactToTargetIdempotent(t *testing.T) {
	a := newTestAgentLoopForCompaction()
	messages := []LLMMessage{
		{Role: "system", Content: "you are a helpful assistant"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	total := 0
	for _, m := range messages {
		total += EstimateMessageTokens(m)
	}

	first := a.compactToTarget(messages, total+100)
	second := a.compactToTarget(first, total+100)

	if len(first) != len(second) {
		t.Fatalf("expected no-op on second pass, got %d then %d messages", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content {
			t.Fatalf("message %d changed on idempotent re-run: %q vs %q", i, first[i].Content, second[i].Content)
		}
	}
}

func TestCompactToTargetProtectsSystemAndRecent(t *testing.T) {
	a := newTestAgentLoopForCompaction()
	messages := []LLMMessage{
		{Role: "system", Content: "system prompt"},
	}
	for i := 0; i < 20; i++ {
		messages = append(messages, LLMMessage{Role: "user", Content: "padding message to inflate token estimate well past the target so eviction has to occur here"})
	}
	messages = append(messages, LLMMessage{Role: "assistant", Content: "final assistant reply"})

	compacted := a.compactToTarget(messages, 50)

	if compacted[0].Role != "system" || compacted[0].Content != "system prompt" {
		t.Fatalf("system message must survive compaction, got %+v", compacted[0])
	}
	last := compacted[len(compacted)-1]
	if last.Content != "final assistant reply" {
		t.Fatalf("last protected message must survive, got %+v", last)
	}
	if len(compacted) >= len(messages) {
		t.Fatalf("expected eviction to shrink the transcript: before=%d after=%d", len(messages), len(compacted))
	}
}

func TestCompactToTargetPrefersEvictingToolOverAssistant(t *testing.T) {
	a := newTestAgentLoopForCompaction()
	// Equal-age tool and assistant-prose messages: tool should be evicted
	// first since tool outranks assistant prose in eviction preference.
	messages := []LLMMessage{
		{Role: "system", Content: "sys"},
		{Role: "tool", ToolCallID: "done-1", Content: "some old tool result padding padding padding padding padding"},
		{Role: "assistant", Content: "some old assistant narration padding padding padding padding"},
		{Role: "user", Content: "recent user turn"},
		{Role: "assistant", Content: "recent assistant turn"},
	}

	protected := a.protectedIndices(messages)
	if protected[1] || protected[2] {
		t.Fatalf("expected middle messages to be evictable, got protected=%v", protected)
	}

	// A target just below the current estimate forces exactly one eviction.
	total := 0
	for _, m := range messages {
		total += EstimateMessageTokens(m)
	}
	compacted := a.compactToTarget(messages, total-1)
	for _, m := range compacted {
		if m.Role == "tool" {
			t.Fatalf("expected the old tool result to be evicted first, got %+v", compacted)
		}
	}
	if len(compacted) < 3 || compacted[2].Content != messages[2].Content {
		t.Fatalf("expected the old assistant message to survive, got %+v", compacted)
	}
}
