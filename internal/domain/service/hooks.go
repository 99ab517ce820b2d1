package service

import (
	"context"
	"time"

	"github.com/turnengine/turnengine/internal/domain/entity"
	"go.uber.org/zap"
)

// AgentHook defines lifecycle hooks for extending agent loop behavior.
// All methods are optional — embed NoOpHook to only implement what you need.
// Hooks execute synchronously; keep them fast to avoid blocking the loop.
type AgentHook interface {
	// BeforeLLMCall is called before each LLM request.
	// The hook can modify the request (e.g., inject metadata).
	BeforeLLMCall(ctx context.Context, req *LLMRequest, step int)

	// AfterLLMCall is called after each successful LLM response.
	AfterLLMCall(ctx context.Context, resp *LLMResponse, step int)

	// BeforeToolCall is called before each tool execution.
	// Return false to skip the tool call (e.g., for sandboxing/permission checks).
	BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool

	// AfterToolCall is called after each tool execution completes.
	AfterToolCall(ctx context.Context, toolName string, output string, success bool)


	// OnError is called when an error occurs in the loop.
	OnError(ctx context.Context, err error, step int)

	// OnComplete is called when the loop finishes successfully.
	OnComplete(ctx context.Context, result *AgentResult)

	// OnStateChange is called on each state machine transition.
	OnStateChange(from, to AgentState, snap StateSnapshot)
}

// NoOpHook provides a default no-op implementation of all hooks.
// Embed this in your custom hook to only override methods you care about.
type NoOpHook struct{}

func (NoOpHook) BeforeLLMCall(_ context.Context, _ *LLMRequest, _ int)                         {}
func (NoOpHook) AfterLLMCall(_ context.Context, _ *LLMResponse, _ int)                          {}
func (NoOpHook) BeforeToolCall(_ context.Context, _ string, _ map[string]interface{}) bool       { return true }
func (NoOpHook) AfterToolCall(_ context.Context, _ string, _ string, _ bool)                     {}

func (NoOpHook) OnError(_ context.Context, _ error, _ int)                                       {}
func (NoOpHook) OnComplete(_ context.Context, _ *AgentResult)                                    {}
func (NoOpHook) OnStateChange(_, _ AgentState, _ StateSnapshot)                                  {}

// HookChain is the Hook Bus: it broadcasts lifecycle events to every
// registered observer in registration order. Each dispatch is wrapped with
// panic recovery and timing: under Strict, a handler exception re-panics
// after logging (propagating up to the orchestrator's own top-level
// recover, which fails the current ask); under non-strict, the exception is
// logged and swallowed so the remaining handlers still run. A handler whose
// call exceeds WarnMs logs a performance warning. Handlers must not retain
// payload references past the callback — the chain doesn't enforce this,
// but never stores payloads itself.
type HookChain struct {
	hooks   []AgentHook
	Strict  bool
	WarnMs  time.Duration
	logger  *zap.Logger
}

// NewHookChain creates a hook chain from the given hooks. Non-strict by
// default with no performance warning threshold; set Strict/WarnMs directly.
func NewHookChain(hooks ...AgentHook) *HookChain {
	return &HookChain{hooks: hooks, logger: zap.NewNop()}
}

// SetLogger attaches a logger for exception/timing diagnostics.
func (c *HookChain) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Add appends a hook to the chain.
func (c *HookChain) Add(h AgentHook) {
	c.hooks = append(c.hooks, h)
}

// dispatch runs fn for a single handler, recovering from panics per the
// strict/warn semantics above. event names the hook event for logs.
func (c *HookChain) dispatch(event string, fn func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if c.logger != nil {
				c.logger.Error("hook handler exception",
					zap.String("event", event),
					zap.Any("panic", r),
					zap.Bool("strict", c.Strict),
				)
			}
			if c.Strict {
				panic(r)
			}
		}
	}()
	fn()
	if c.WarnMs > 0 {
		if elapsed := time.Since(start); elapsed > c.WarnMs && c.logger != nil {
			c.logger.Warn("hook handler exceeded warn_ms",
				zap.String("event", event),
				zap.Duration("elapsed", elapsed),
				zap.Duration("warn_ms", c.WarnMs),
			)
		}
	}
}

func (c *HookChain) BeforeLLMCall(ctx context.Context, req *LLMRequest, step int) {
	for _, h := range c.hooks {
		h := h
		c.dispatch("before_llm_call", func() { h.BeforeLLMCall(ctx, req, step) })
	}
}

func (c *HookChain) AfterLLMCall(ctx context.Context, resp *LLMResponse, step int) {
	for _, h := range c.hooks {
		h := h
		c.dispatch("turn_end", func() { h.AfterLLMCall(ctx, resp, step) })
	}
}

func (c *HookChain) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	allowed := true
	for _, h := range c.hooks {
		h := h
		c.dispatch("tool_call", func() {
			if !h.BeforeToolCall(ctx, toolName, args) {
				allowed = false // any hook can veto a tool call
			}
		})
		if !allowed {
			return false
		}
	}
	return true
}

func (c *HookChain) AfterToolCall(ctx context.Context, toolName string, output string, success bool) {
	for _, h := range c.hooks {
		h := h
		c.dispatch("tool_result", func() { h.AfterToolCall(ctx, toolName, output, success) })
	}
}

func (c *HookChain) OnError(ctx context.Context, err error, step int) {
	for _, h := range c.hooks {
		h := h
		c.dispatch("ask_end", func() { h.OnError(ctx, err, step) })
	}
}

func (c *HookChain) OnComplete(ctx context.Context, result *AgentResult) {
	for _, h := range c.hooks {
		h := h
		c.dispatch("ask_end", func() { h.OnComplete(ctx, result) })
	}
}

func (c *HookChain) OnStateChange(from, to AgentState, snap StateSnapshot) {
	for _, h := range c.hooks {
		h := h
		c.dispatch("turn_start", func() { h.OnStateChange(from, to, snap) })
	}
}

// Compile-time check: HookChain implements AgentHook
var _ AgentHook = (*HookChain)(nil)

// --- Built-in Hooks ---

// LoggingHook provides basic logging for all lifecycle events.
type LoggingHook struct {
	NoOpHook
	events []entity.AgentEvent
}

// MetricsHook tracks timing and count metrics.
type MetricsHook struct {
	NoOpHook
	LLMCallCount  int
	ToolCallCount int
	ErrorCount    int
}

func (h *MetricsHook) AfterLLMCall(_ context.Context, _ *LLMResponse, _ int)   { h.LLMCallCount++ }
func (h *MetricsHook) AfterToolCall(_ context.Context, _ string, _ string, _ bool) { h.ToolCallCount++ }
func (h *MetricsHook) OnError(_ context.Context, _ error, _ int)                { h.ErrorCount++ }
