// Copyright 2026 TurnEngine. All rights reserved.

package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/turnengine/turnengine/internal/infrastructure/config"
)

// ApprovalFunc is the callback to request user confirmation via Telegram.
// It blocks until the user responds or the context is cancelled.
// Returns true if approved, false if denied/timeout.
type ApprovalFunc func(ctx context.Context, toolName string, args map[string]interface{}) (bool, error)

// SecurityHook implements AgentHook to enforce the approval gate: path
// confinement for file tools, exec-tier classification for shell_exec, and
// mode-driven prompting for everything else. See ApprovalMode and ExecTier
// for the policy vocabulary.
type SecurityHook struct {
	cfg          config.SecurityConfig
	approvalFunc ApprovalFunc
	provider     ApprovalProvider
	remembered   *RememberedApprovals
	logger       *zap.Logger
	mu           sync.RWMutex
}

// NewSecurityHook creates a SecurityHook with the given config and approval callback.
func NewSecurityHook(cfg config.SecurityConfig, approvalFunc ApprovalFunc, logger *zap.Logger) *SecurityHook {
	return &SecurityHook{
		cfg:          cfg,
		approvalFunc: approvalFunc,
		remembered:   NewRememberedApprovals(),
		logger:       logger,
	}
}

// SetApprovalProvider attaches the richer ApprovalProvider surface (plan
// review, blocked notices) alongside the legacy single-call ApprovalFunc.
func (h *SecurityHook) SetApprovalProvider(p ApprovalProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.provider = p
}

// ---- AgentHook interface ----

func (h *SecurityHook) BeforeToolCall(ctx context.Context, toolName string, args map[string]interface{}) bool {
	h.mu.RLock()
	cfg := h.cfg
	provider := h.provider
	h.mu.RUnlock()

	mode := normalizeMode(cfg.ApprovalMode)

	if h.isTrusted(toolName, args, cfg) {
		return true
	}
	if h.remembered.Check(toolName, args) {
		return true
	}

	if toolName == "shell_exec" {
		return h.gateExec(ctx, toolName, args, mode, provider)
	}
	if isFileTool(toolName) {
		return h.gateFileTool(ctx, toolName, args, mode, provider)
	}

	return h.gateGeneric(ctx, toolName, args, cfg, mode)
}

// gateExec classifies the shell command and enforces forbidden/cautious/
// navigation handling per ApprovalMode. Forbidden always fails. Navigation
// out of the working root is treated like path confinement: only yolo and
// auto-edit let it through, and even then with a warning.
func (h *SecurityHook) gateExec(ctx context.Context, toolName string, args map[string]interface{}, mode ApprovalMode, provider ApprovalProvider) bool {
	cmd, _ := args["command"].(string)
	tier, navigatesAway, navTarget := ClassifyExec(cmd)

	if tier == ExecForbidden {
		h.blocked(ctx, provider, toolName, "forbidden command: "+cmd)
		return false
	}

	if navigatesAway {
		if mode != ModeYolo && mode != ModeAutoEdit {
			h.blocked(ctx, provider, toolName, "command navigates outside the working root via "+navTarget)
			return false
		}
		h.logger.Warn("exec navigates outside working root, allowed by mode",
			zap.String("command", cmd),
			zap.String("target", navTarget),
			zap.String("mode", string(mode)),
		)
	}

	switch tier {
	case ExecSafe:
		return true
	case ExecCautious:
		switch mode {
		case ModeReject:
			h.blocked(ctx, provider, toolName, "cautious command rejected by approval_mode=reject: "+cmd)
			return false
		case ModeYolo:
			return true
		default: // ModeDefault, ModeAutoEdit
			return h.requestApproval(ctx, toolName, args, "run cautious command: "+cmd)
		}
	}
	return true
}

// gateFileTool enforces path confinement for every tool in the fixed file
// surface, then applies edit-vs-read and mode-driven prompting.
func (h *SecurityHook) gateFileTool(ctx context.Context, toolName string, args map[string]interface{}, mode ApprovalMode, provider ApprovalProvider) bool {
	h.mu.RLock()
	roots := DefaultAllowedRoots(h.cfg.AllowedRoots)
	h.mu.RUnlock()

	if key := fileToolPathArgKey[toolName]; key != "" {
		path, _ := args[key].(string)
		if path != "" {
			_, outside := ConfinePath(path, roots)
			if outside {
				if mode != ModeYolo && mode != ModeAutoEdit {
					h.blocked(ctx, provider, toolName, "path outside allowed roots: "+path)
					return false
				}
				h.logger.Warn("path outside allowed roots, allowed by mode",
					zap.String("tool", toolName),
					zap.String("path", path),
					zap.String("mode", string(mode)),
				)
			}
		}
	}

	if !isEditTool(toolName) {
		return true
	}

	switch mode {
	case ModeReject:
		h.blocked(ctx, provider, toolName, "edit rejected by approval_mode=reject")
		return false
	case ModeYolo:
		return true
	case ModeAutoEdit:
		return true // already confinement-checked above
	default: // ModeDefault
		return h.requestApproval(ctx, toolName, args, "apply edit via "+toolName)
	}
}

// gateGeneric handles every tool outside the file/exec surfaces, preserving
// the dangerous/trusted-tool list semantics layered under the new modes.
func (h *SecurityHook) gateGeneric(ctx context.Context, toolName string, args map[string]interface{}, cfg config.SecurityConfig, mode ApprovalMode) bool {
	h.mu.RLock()
	provider := h.provider
	h.mu.RUnlock()

	if mode == ModeYolo {
		return true
	}
	if mode == ModeReject && h.isDangerous(toolName, cfg) {
		h.blocked(ctx, provider, toolName, "dangerous tool rejected by approval_mode=reject")
		return false
	}
	if !h.isDangerous(toolName, cfg) && mode != ModeReject {
		return true
	}

	return h.requestApproval(ctx, toolName, args, "call "+toolName)
}

// requestApproval asks the ApprovalProvider (if set) or the legacy
// ApprovalFunc for a yes/no decision, remembering an approval so an
// identical retry of the same call doesn't re-prompt this session.
func (h *SecurityHook) requestApproval(ctx context.Context, toolName string, args map[string]interface{}, summary string) bool {
	h.mu.RLock()
	provider := h.provider
	fn := h.approvalFunc
	h.mu.RUnlock()

	var approved bool
	var err error
	switch {
	case provider != nil:
		approved, err = provider.Confirm(ctx, ApprovalRequest{Tool: toolName, Args: args, Summary: summary})
	case fn != nil:
		approved, err = fn(ctx, toolName, args)
	default:
		h.logger.Warn("no approval provider configured, auto-approving", zap.String("tool", toolName))
		return true
	}

	if err != nil {
		h.logger.Error("approval request failed", zap.String("tool", toolName), zap.Error(err))
		return false
	}
	if approved {
		h.remembered.Remember(toolName, args)
	} else {
		h.logger.Info("tool call denied by user", zap.String("tool", toolName))
	}
	return approved
}

func (h *SecurityHook) blocked(ctx context.Context, provider ApprovalProvider, toolName, reason string) {
	h.logger.Info("tool call blocked", zap.String("tool", toolName), zap.String("reason", reason))
	if provider != nil {
		provider.ShowBlocked(ctx, BlockedNotice{Tool: toolName, Reason: reason})
	}
}

func (h *SecurityHook) AfterToolCall(_ context.Context, _ string, _ string, _ bool) {}
func (h *SecurityHook) BeforeLLMCall(_ context.Context, _ *LLMRequest, _ int)       {}
func (h *SecurityHook) AfterLLMCall(_ context.Context, _ *LLMResponse, _ int)       {}
func (h *SecurityHook) OnStateChange(_ AgentState, _ AgentState, _ StateSnapshot)   {}
func (h *SecurityHook) OnError(_ context.Context, _ error, _ int)                   {}
func (h *SecurityHook) OnComplete(_ context.Context, _ *AgentResult)                {}

// SetApprovalFunc sets the approval callback (deferred injection after TG adapter creation).
func (h *SecurityHook) SetApprovalFunc(fn ApprovalFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.approvalFunc = fn
}

// ---- Policy helpers ----

// isTrusted checks if a tool/command is in the trust list.
func (h *SecurityHook) isTrusted(toolName string, args map[string]interface{}, cfg config.SecurityConfig) bool {
	for _, t := range cfg.TrustedTools {
		if t == toolName {
			return true
		}
	}

	// For shell_exec, check if the command matches a trusted command prefix
	if toolName == "shell_exec" {
		return h.isCommandTrusted(args, cfg)
	}

	return false
}

// isDangerous checks if a tool is in the dangerous list.
func (h *SecurityHook) isDangerous(toolName string, cfg config.SecurityConfig) bool {
	for _, d := range cfg.DangerousTools {
		if d == toolName {
			return true
		}
	}
	return false
}

// isCommandTrusted checks if a shell command matches a trusted command prefix.
func (h *SecurityHook) isCommandTrusted(args map[string]interface{}, cfg config.SecurityConfig) bool {
	cmd, ok := args["command"].(string)
	if !ok {
		return false
	}
	cmd = strings.TrimSpace(cmd)

	// Extract the first token (the actual command binary)
	firstToken := cmd
	if idx := strings.IndexAny(cmd, " \t|;&"); idx >= 0 {
		firstToken = cmd[:idx]
	}
	// Strip path prefix (e.g. /usr/bin/ls → ls)
	if idx := strings.LastIndex(firstToken, "/"); idx >= 0 {
		firstToken = firstToken[idx+1:]
	}

	for _, trusted := range cfg.TrustedCommands {
		if firstToken == trusted {
			return true
		}
	}
	return false
}

// ---- Runtime config updates (called by TG commands) ----

// UpdateConfig replaces the security config at runtime.
func (h *SecurityHook) UpdateConfig(cfg config.SecurityConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// GetConfig returns the current security config.
func (h *SecurityHook) GetConfig() config.SecurityConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// SetApprovalMode changes the approval mode ("reject", "default", "auto-edit", "yolo").
// This is the only way the mode changes — a tool call's own arguments (e.g.
// a "--yolo" shell flag) never affect it.
func (h *SecurityHook) SetApprovalMode(mode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg.ApprovalMode = string(normalizeMode(mode))
}

// ClearRemembered resets the remembered-approval layer, e.g. on session reset.
func (h *SecurityHook) ClearRemembered() {
	h.remembered.ClearRemembered()
}

// TrustTool adds a tool to the trusted list (removes from dangerous if present).
func (h *SecurityHook) TrustTool(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Add to trusted if not already there
	for _, t := range h.cfg.TrustedTools {
		if t == name {
			goto removeDangerous
		}
	}
	h.cfg.TrustedTools = append(h.cfg.TrustedTools, name)

removeDangerous:
	// Remove from dangerous if present
	filtered := h.cfg.DangerousTools[:0]
	for _, d := range h.cfg.DangerousTools {
		if d != name {
			filtered = append(filtered, d)
		}
	}
	h.cfg.DangerousTools = filtered
}

// UntrustTool removes a tool from the trusted list.
func (h *SecurityHook) UntrustTool(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	filtered := h.cfg.TrustedTools[:0]
	for _, t := range h.cfg.TrustedTools {
		if t != name {
			filtered = append(filtered, t)
		}
	}
	h.cfg.TrustedTools = filtered
}

// TrustCommand adds a command prefix to the trusted commands list.
func (h *SecurityHook) TrustCommand(cmd string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.cfg.TrustedCommands {
		if c == cmd {
			return
		}
	}
	h.cfg.TrustedCommands = append(h.cfg.TrustedCommands, cmd)
}
