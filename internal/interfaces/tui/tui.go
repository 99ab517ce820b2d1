package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/turnengine/turnengine/internal/domain/entity"
	"github.com/turnengine/turnengine/internal/domain/service"
)

// TUI is a rich terminal user interface for the TurnEngine agent. It
// streams agent events to the terminal as they arrive (styled with
// lipgloss) and doubles as a service.ProgressSink: a ProgressPresenter can
// drive it with throttled IR-document snapshots (tool-line block, diff,
// assistant markdown) in addition to the live per-event stream.
type TUI struct {
	agentLoop *service.AgentLoop
	toolExec  service.ToolExecutor
	model     string
	sessionID string
	logger    *zap.Logger

	renderer *glamour.TermRenderer
	lastDoc  string
}

var (
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Faint(true)
	styleCyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("36"))
	styleGreen   = lipgloss.NewStyle().Foreground(lipgloss.Color("32"))
	styleYellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	styleRed     = lipgloss.NewStyle().Foreground(lipgloss.Color("31"))
	styleMagenta = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	styleGray    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleBanner  = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("36")).Foreground(lipgloss.Color("255")).Padding(0, 1)
)

// Config holds TUI configuration.
type Config struct {
	Model     string
	SessionID string
	UserName  string
}

// New creates a new TUI instance.
func New(agentLoop *service.AgentLoop, toolExec service.ToolExecutor, cfg Config, logger *zap.Logger) *TUI {
	session := cfg.SessionID
	if session == "" {
		session = fmt.Sprintf("tui_%d", time.Now().UnixNano())
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil && logger != nil {
		logger.Warn("glamour renderer unavailable, falling back to plain markdown", zap.Error(err))
	}

	return &TUI{
		agentLoop: agentLoop,
		toolExec:  toolExec,
		model:     cfg.Model,
		sessionID: session,
		logger:    logger,
		renderer:  renderer,
	}
}

// PrintBanner displays the TurnEngine TUI header.
func (t *TUI) PrintBanner() {
	id := t.sessionID
	if len(id) > 16 {
		id = id[:16]
	}
	fmt.Println()
	fmt.Println(styleBanner.Render("TurnEngine Agent"))
	fmt.Println(styleGray.Render(fmt.Sprintf("Model: %s │ Session: %s", t.model, id)))
	fmt.Println()
}

// RunMessage sends a message through the agent loop and renders events live.
func (t *TUI) RunMessage(ctx context.Context, systemPrompt, userMessage string, history []service.LLMMessage) (*service.AgentResult, error) {
	fmt.Println(styleBold.Render(styleGreen.Render("▶ You")))
	fmt.Printf("  %s\n\n", userMessage)

	result, eventCh := t.agentLoop.Run(ctx, systemPrompt, userMessage, history, "")

	for event := range eventCh {
		t.renderEvent(event)
	}

	t.renderSummary(result)
	return result, nil
}

func (t *TUI) renderEvent(event entity.AgentEvent) {
	switch event.Type {
	case entity.EventThinking:
		fmt.Println(styleDim.Render(styleMagenta.Render("💭 Thinking")))
		for _, line := range strings.Split(event.Content, "\n") {
			fmt.Println("  " + styleGray.Render(line))
		}
		fmt.Println()

	case entity.EventTextDelta:
		fmt.Print(event.Content)

	case entity.EventToolCall:
		if event.ToolCall != nil {
			fmt.Print("\n" + styleBold.Render(styleYellow.Render("🔧 "+event.ToolCall.Name)))
			if len(event.ToolCall.Arguments) > 0 {
				fmt.Print(" " + styleGray.Render("("))
				i := 0
				for k, v := range event.ToolCall.Arguments {
					if i > 0 {
						fmt.Print(", ")
					}
					vStr := fmt.Sprintf("%v", v)
					if len(vStr) > 60 {
						vStr = vStr[:57] + "..."
					}
					fmt.Printf("%s=%s", k, vStr)
					i++
				}
				fmt.Print(styleGray.Render(")"))
			}
			fmt.Println()
		}

	case entity.EventToolResult:
		if event.ToolCall != nil {
			icon, style := "✅", styleGreen
			if !event.ToolCall.Success {
				icon, style = "❌", styleRed
			}
			line := fmt.Sprintf("  %s %s", icon, event.ToolCall.Name)
			if event.ToolCall.Duration > 0 {
				line += " " + styleGray.Render(fmt.Sprintf("(%s)", event.ToolCall.Duration.Round(time.Millisecond)))
			}
			fmt.Println(style.Render(line))

			output := event.ToolCall.Output
			if len(output) > 500 {
				output = output[:497] + "..."
			}
			if output != "" {
				lines := strings.Split(output, "\n")
				const maxLines = 10
				shown := lines
				if len(lines) > maxLines {
					shown = lines[:maxLines]
				}
				for _, line := range shown {
					fmt.Println("  " + styleGray.Render("│ "+line))
				}
				if len(lines) > maxLines {
					fmt.Println("  " + styleGray.Render(fmt.Sprintf("│ ... (%d more lines)", len(lines)-maxLines)))
				}
			}
			fmt.Println()
		}

	case entity.EventStepDone:
		if event.StepInfo != nil {
			fmt.Println(styleGray.Render(fmt.Sprintf("  ── step %d │ %d tokens │ %s ──",
				event.StepInfo.Step, event.StepInfo.TokensUsed, event.StepInfo.ModelUsed)))
		}

	case entity.EventError:
		fmt.Println("\n" + styleBold.Render(styleRed.Render("⚠ Error: "+event.Error)) + "\n")

	case entity.EventDone:
		fmt.Println("\n" + styleBold.Render(styleCyan.Render("🤖 Assistant")))
	}
}

func (t *TUI) renderSummary(result *service.AgentResult) {
	rule := styleGray.Render(strings.Repeat("─", 36))
	fmt.Println("\n" + styleDim.Render(rule))
	fmt.Println(styleGray.Render(fmt.Sprintf("  Steps: %d │ Tokens: %d │ Model: %s",
		result.TotalSteps, result.TotalTokens, result.ModelUsed)))
	if len(result.ToolsUsed) > 0 {
		fmt.Println(styleGray.Render("  Tools: " + strings.Join(result.ToolsUsed, ", ")))
	}
	fmt.Println(styleGray.Render(rule) + "\n")
}

// Apply implements service.ProgressSink, letting a ProgressPresenter drive
// this TUI with throttled turn-lifecycle snapshots alongside the live
// per-event stream above. The assistant-markdown block is rendered through
// glamour; everything else prints as the plain IR text.
func (t *TUI) Apply(_ context.Context, doc service.ProgressDocument) error {
	rendered := doc.Render(t.MaxLen())
	if rendered == t.lastDoc {
		return nil
	}
	t.lastDoc = rendered

	for _, h := range doc.Headers {
		fmt.Println(styleBold.Render(styleCyan.Render(h)))
	}
	for _, l := range doc.ToolLines {
		fmt.Println(styleGray.Render("  " + l))
	}
	if doc.Tail != "" {
		fmt.Println(styleDim.Render(doc.Tail))
	}
	if doc.Diff != "" {
		fmt.Println(doc.Diff)
	}
	if doc.AssistantMarkdown != "" {
		if t.renderer != nil {
			out, err := t.renderer.Render(doc.AssistantMarkdown)
			if err == nil {
				fmt.Print(out)
				return nil
			}
		}
		fmt.Println(doc.AssistantMarkdown)
	}
	return nil
}

// MaxLen implements service.ProgressSink. Terminals have no hard length
// cap; this bounds glamour's render cost on a runaway document.
func (t *TUI) MaxLen() int {
	return 32000
}
