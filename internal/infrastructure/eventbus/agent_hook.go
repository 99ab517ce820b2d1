package eventbus

import (
	"context"

	"github.com/turnengine/turnengine/internal/domain/service"
)

// AgentHook is an AgentHook that republishes agent lifecycle callbacks onto
// a Bus, so anything subscribed to the predefined event types (a WAL for
// audit/replay, a dashboard, a future streaming API) observes a turn's
// progress without being wired directly into the AgentLoop.
//
// Usage:
//
//	bus := eventbus.NewInMemoryBus(logger, 256)
//	agentLoop.SetHooks(service.NewHookChain(securityHook, eventbus.NewAgentHook(bus)))
type AgentHook struct {
	service.NoOpHook
	bus       Bus
	sessionID string
}

// NewAgentHook creates a hook that publishes onto bus under sessionID.
func NewAgentHook(bus Bus, sessionID string) *AgentHook {
	return &AgentHook{bus: bus, sessionID: sessionID}
}

var _ service.AgentHook = (*AgentHook)(nil)

func (h *AgentHook) BeforeLLMCall(ctx context.Context, req *service.LLMRequest, step int) {
	h.bus.Publish(ctx, NewEvent(EventTypeModelRequest, ModelRequestPayload{
		SessionID: h.sessionID,
		Model:     req.Model,
		Messages:  len(req.Messages),
		HasTools:  len(req.Tools) > 0,
	}))
}

func (h *AgentHook) AfterLLMCall(ctx context.Context, resp *service.LLMResponse, step int) {
	h.bus.Publish(ctx, NewEvent(EventTypeModelResponse, ModelResponsePayload{
		SessionID:  h.sessionID,
		Model:      resp.ModelUsed,
		TokensUsed: resp.TokensUsed,
		HasTools:   len(resp.ToolCalls) > 0,
	}))
}

func (h *AgentHook) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	h.bus.Publish(ctx, NewEvent(EventTypeToolExecution, ToolExecutionPayload{
		SessionID: h.sessionID,
		ToolName:  toolName,
		Arguments: args,
	}))
	return true
}

func (h *AgentHook) AfterToolCall(ctx context.Context, toolName string, output string, success bool) {
	h.bus.Publish(ctx, NewEvent(EventTypeToolExecution, ToolExecutionPayload{
		SessionID: h.sessionID,
		ToolName:  toolName,
		Result:    output,
		Success:   success,
	}))
}

func (h *AgentHook) OnError(ctx context.Context, err error, step int) {
	h.bus.Publish(ctx, NewEvent(EventTypeError, ErrorPayload{
		SessionID: h.sessionID,
		Component: "agent_loop",
		Error:     err.Error(),
	}))
}

func (h *AgentHook) OnStateChange(from, to service.AgentState, snap service.StateSnapshot) {
	h.bus.Publish(context.Background(), NewEvent(EventTypeStateChange, StateChangePayload{
		SessionID: h.sessionID,
		FromState: string(from),
		ToState:   string(to),
	}))
}
