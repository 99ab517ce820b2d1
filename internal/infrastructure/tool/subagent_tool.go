package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/turnengine/turnengine/internal/domain/agent"
	"github.com/turnengine/turnengine/internal/domain/service"
	domaintool "github.com/turnengine/turnengine/internal/domain/tool"
	"go.uber.org/zap"
)

// callerAgentKey carries the spawned-agent ID of whoever is currently
// invoking spawn_agent, so nested calls register as children of the right
// parent in the shared Spawner rather than of the session root.
type callerAgentKey struct{}

// SubAgentTool allows the main agent to delegate sub-tasks to one or more
// independent AgentLoop instances, optionally running several of them in
// parallel through a dependency graph.
type SubAgentTool struct {
	llm             service.LLMClient
	tools           service.ToolExecutor
	defaultModel    string
	defaultMaxSteps int
	timeout         time.Duration
	logger          *zap.Logger

	spawner *agent.InMemorySpawner
}

func NewSubAgentTool(llm service.LLMClient, tools service.ToolExecutor, defaultModel string, maxSteps int, timeout time.Duration, logger *zap.Logger) *SubAgentTool {
	if maxSteps <= 0 {
		maxSteps = 25
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &SubAgentTool{
		llm:             llm,
		tools:           tools,
		defaultModel:    defaultModel,
		defaultMaxSteps: maxSteps,
		timeout:         timeout,
		logger:          logger,
		spawner:         agent.NewInMemorySpawner(logger.Named("spawner"), 2),
	}
}

func (t *SubAgentTool) Name() string         { return "spawn_agent" }
func (t *SubAgentTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *SubAgentTool) Description() string {
	return "Delegate a sub-task to an independent agent that has access to all the same tools. " +
		"Use this for complex tasks that benefit from focused, isolated execution. " +
		"Pass a single task, or a `tasks` array (each with id/task and optional depends_on) to " +
		"run several sub-agents concurrently as a dependency graph, fanning in their results. " +
		"Example: spawning an agent to audit a codebase, research a topic, or execute a multi-step procedure."
}

func (t *SubAgentTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "A clear description of the sub-task for the agent to complete. Ignored when tasks is set.",
			},
			"system_prompt": map[string]interface{}{
				"type":        "string",
				"description": "Optional system prompt to give the sub-agent a specific role or context",
			},
			"max_steps": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum reasoning steps for the sub-agent (default: %d)", t.defaultMaxSteps),
			},
			"tasks": map[string]interface{}{
				"type":        "array",
				"description": "Run multiple sub-agents as a dependency graph instead of a single task.",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":            map[string]interface{}{"type": "string", "description": "Unique ID for this node, referenced by other nodes' depends_on"},
						"task":          map[string]interface{}{"type": "string"},
						"system_prompt": map[string]interface{}{"type": "string"},
						"depends_on":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					},
					"required": []string{"id", "task"},
				},
			},
		},
	}
}

func (t *SubAgentTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	if rawTasks, ok := args["tasks"].([]interface{}); ok && len(rawTasks) > 0 {
		return t.executeGraph(ctx, rawTasks)
	}

	task, ok := args["task"].(string)
	if !ok || task == "" {
		return &domaintool.Result{Success: false, Error: "task is required"}, nil
	}

	systemPrompt, _ := args["system_prompt"].(string)
	maxSteps := t.maxStepsArg(args)

	callerID, _ := ctx.Value(callerAgentKey{}).(string)
	spawned, err := t.spawner.Spawn(ctx, callerID, &agent.SpawnConfig{
		Name:         "spawn_agent",
		SystemPrompt: systemPrompt,
		MaxDepth:     2,
		Timeout:      t.timeout,
	})
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	defer t.spawner.Terminate(spawned.ID)

	result, toolsUsed := t.runOne(ctx, spawned, systemPrompt, task, maxSteps)

	return &domaintool.Result{
		Output:  formatSubAgentResult(result, toolsUsed),
		Success: true,
		Metadata: map[string]interface{}{
			"steps":      result.TotalSteps,
			"tokens":     result.TotalTokens,
			"model":      result.ModelUsed,
			"tools_used": toolsUsed,
			"agent_id":   spawned.ID,
			"depth":      spawned.Depth,
		},
	}, nil
}

// executeGraph runs a set of named, possibly-dependent sub-tasks through a
// DAGExecutor so independent nodes execute in parallel while dependents wait
// on their inputs.
func (t *SubAgentTool) executeGraph(ctx context.Context, rawTasks []interface{}) (*domaintool.Result, error) {
	callerID, _ := ctx.Value(callerAgentKey{}).(string)

	nodes := make([]*agent.DAGNode, 0, len(rawTasks))
	for _, raw := range rawTasks {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return &domaintool.Result{Success: false, Error: "each entry in tasks must be an object"}, nil
		}
		id, _ := m["id"].(string)
		taskText, _ := m["task"].(string)
		if id == "" || taskText == "" {
			return &domaintool.Result{Success: false, Error: "each task needs a non-empty id and task"}, nil
		}
		systemPrompt, _ := m["system_prompt"].(string)

		var deps []string
		if rawDeps, ok := m["depends_on"].([]interface{}); ok {
			for _, d := range rawDeps {
				if s, ok := d.(string); ok {
					deps = append(deps, s)
				}
			}
		}

		nodes = append(nodes, &agent.DAGNode{
			ID:           id,
			Dependencies: deps,
			AgentConfig: &agent.SpawnConfig{
				Name:         "spawn_agent:" + id,
				SystemPrompt: systemPrompt,
				MaxDepth:     2,
				Timeout:      t.timeout,
			},
			Metadata: map[string]string{"input": taskText},
		})
	}

	var toolsMu sync.Mutex
	toolsUsed := make(map[string][]string, len(nodes))

	executor := agent.NewDAGExecutor(t.spawner, func(rctx context.Context, spawned *agent.SpawnedAgent, input string) (string, error) {
		res, used := t.runOne(rctx, spawned, spawned.SystemPrompt, input, t.defaultMaxSteps)
		toolsMu.Lock()
		toolsUsed[spawned.Name] = used
		toolsMu.Unlock()
		return res.FinalContent, nil
	}, agent.DAGConfig{ParentID: callerID, MaxParallel: 4}, t.logger)

	ctx, cancel := context.WithTimeout(ctx, t.timeout*time.Duration(len(nodes)))
	defer cancel()

	results, err := executor.Execute(ctx, nodes)
	if err != nil {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("sub-agent graph execution failed: %v", err)}, nil
	}

	var sb strings.Builder
	sb.WriteString("=== Sub-Agent Graph Result ===\n\n")
	for _, n := range nodes {
		sb.WriteString(fmt.Sprintf("--- %s ---\n%s\n\n", n.ID, results[n.ID]))
	}

	return &domaintool.Result{
		Output:  sb.String(),
		Success: true,
		Metadata: map[string]interface{}{
			"node_count": len(nodes),
			"results":    results,
		},
	}, nil
}

func (t *SubAgentTool) maxStepsArg(args map[string]interface{}) int {
	maxSteps := t.defaultMaxSteps
	if ms, ok := args["max_steps"].(float64); ok && ms > 0 {
		maxSteps = int(ms)
		if maxSteps > t.defaultMaxSteps*2 {
			maxSteps = t.defaultMaxSteps * 2
		}
	}
	return maxSteps
}

// runOne drives a single spawned agent's AgentLoop to completion.
func (t *SubAgentTool) runOne(ctx context.Context, spawned *agent.SpawnedAgent, systemPrompt, task string, maxSteps int) (*service.AgentResult, []string) {
	spawned.SetStatus(agent.AgentStatusRunning)

	t.logger.Info("Spawning sub-agent",
		zap.String("agent_id", spawned.ID),
		zap.String("task_preview", truncateStr(task, 100)),
		zap.Int("max_steps", maxSteps),
		zap.Int("depth", spawned.Depth),
	)

	cfg := service.AgentLoopConfig{
		DoomLoopThreshold: 3,
		MaxOutputChars:    32000,
		Temperature:       0.7,
		Model:             t.defaultModel,
		RunTimeout:        t.timeout,
	}

	subAgent := service.NewAgentLoop(t.llm, t.tools, cfg, t.logger.Named("sub-agent"))

	subCtx := context.WithValue(ctx, callerAgentKey{}, spawned.ID)
	subCtx, cancel := context.WithTimeout(subCtx, t.timeout)
	defer cancel()

	result, eventCh := subAgent.Run(subCtx, systemPrompt, task, nil, "")

	var toolsUsed []string
	for ev := range eventCh {
		if ev.ToolCall != nil {
			toolsUsed = append(toolsUsed, ev.ToolCall.Name)
		}
	}

	spawned.SetStatus(agent.AgentStatusCompleted)

	t.logger.Info("Sub-agent completed",
		zap.String("agent_id", spawned.ID),
		zap.Int("steps", result.TotalSteps),
		zap.Int("tokens", result.TotalTokens),
		zap.String("model", result.ModelUsed),
		zap.Int("tools_used", len(toolsUsed)),
	)

	return result, uniqueStrings(toolsUsed)
}

func formatSubAgentResult(result *service.AgentResult, toolsUsed []string) string {
	var sb strings.Builder
	sb.WriteString("=== Sub-Agent Result ===\n\n")
	sb.WriteString(result.FinalContent)
	sb.WriteString("\n\n--- Execution Summary ---\n")
	sb.WriteString(fmt.Sprintf("Steps: %d | Tokens: %d | Model: %s\n", result.TotalSteps, result.TotalTokens, result.ModelUsed))
	if len(toolsUsed) > 0 {
		sb.WriteString(fmt.Sprintf("Tools used: %s\n", strings.Join(toolsUsed, ", ")))
	}
	return sb.String()
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func uniqueStrings(ss []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
