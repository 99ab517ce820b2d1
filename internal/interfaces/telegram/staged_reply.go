package telegram

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/turnengine/turnengine/internal/domain/service"
)

// StagedReply implements two-phase turn-lifecycle output for a TG chat:
//
//	Phase 1 (Status): a single status message that updates in place
//	  "🤔 思考中..."  →  "⚙️ bash_exec..."  →  "🔄 Step 2..."
//	  driven by a service.ProgressPresenter — throttled renders, a
//	  single-flight apply lock, and TelegramApplyClassifier triaging
//	  send/edit failures into ignore/retry/fatal.
//	Phase 2 (Deliver): delete the status message, send the final reply.
//
// This avoids the flickering edit-in-place streaming that breaks TG card UX.
type StagedReply struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	parseMode string

	mu          sync.Mutex
	statusID    int
	lastText    string
	toolHistory []string
	activeTool  string
	stepInfo    string

	presenter *service.ProgressPresenter
	started   sync.Once
}

// NewStagedReply creates a staged reply handler.
func NewStagedReply(bot *tgbotapi.BotAPI, chatID int64) *StagedReply {
	cfg := service.DefaultProgressPresenterConfig()
	cfg.ProgressIntervalMs = 1500 // status updates don't need to be fast

	s := &StagedReply{
		bot:       bot,
		chatID:    chatID,
		parseMode: "HTML",
	}
	s.presenter = service.NewProgressPresenter(cfg)
	s.presenter.AddSink(statusSink{s: s}, TelegramApplyClassifier)
	return s
}

// SetThrottle sets the throttle interval for status updates. Must be
// called before the first Status* call starts the scheduler.
func (s *StagedReply) SetThrottle(ms int64) {
	cfg := service.DefaultProgressPresenterConfig()
	cfg.ProgressIntervalMs = int(ms)
	s.presenter = service.NewProgressPresenter(cfg)
	s.presenter.AddSink(statusSink{s: s}, TelegramApplyClassifier)
}

func (s *StagedReply) ensureStarted() {
	s.started.Do(func() { s.presenter.Start(context.Background()) })
}

// statusSink is the ProgressPresenter sink that sends/edits the single
// status message for a StagedReply.
type statusSink struct{ s *StagedReply }

func (sink statusSink) Apply(_ context.Context, doc service.ProgressDocument) error {
	return sink.s.applyStatus(doc.Render(sink.MaxLen()))
}

func (sink statusSink) MaxLen() int { return telegramMaxMessageLen - 16 }

// StatusThinking shows the initial "thinking" status.
func (s *StagedReply) StatusThinking() error {
	s.refresh(true)
	return nil
}

// StatusToolStart shows that a tool is being executed with human-readable label.
func (s *StagedReply) StatusToolStart(toolName string, args map[string]interface{}) error {
	s.mu.Lock()
	s.activeTool = toolDisplayLabel(toolName, args)
	s.mu.Unlock()
	s.refresh(true)
	return nil
}

// StatusToolDone marks a tool as completed with human-readable label.
func (s *StagedReply) StatusToolDone(toolName string, args map[string]interface{}, success bool) error {
	s.mu.Lock()
	icon := "✅"
	if !success {
		icon = "❌"
	}
	s.toolHistory = append(s.toolHistory, fmt.Sprintf("%s %s", icon, toolDisplayLabel(toolName, args)))
	s.activeTool = ""
	s.mu.Unlock()
	s.refresh(true)
	return nil
}

// StatusStep shows step progress.
func (s *StagedReply) StatusStep(step, maxSteps int) error {
	s.mu.Lock()
	if maxSteps > 0 {
		s.stepInfo = fmt.Sprintf("Step %d/%d", step, maxSteps)
	}
	s.mu.Unlock()
	s.refresh(true)
	return nil
}

// StatusCustom sets an arbitrary status message (throttled, not forced).
func (s *StagedReply) StatusCustom(text string) error {
	s.mu.Lock()
	s.lastText = text
	s.mu.Unlock()
	s.presenter.SetDocument(service.ProgressDocument{Headers: []string{text}})
	s.presenter.MarkActivity()
	s.ensureStarted()
	return nil
}

// buildDocument composes the current IR snapshot: completed tools as a
// numbered tool-line block, the active tool (if any) as the tail line.
func (s *StagedReply) buildDocument() service.ProgressDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lines []string
	total := len(s.toolHistory)
	start := 0
	if total > 6 {
		start = total - 6
		lines = append(lines, fmt.Sprintf("<i>... +%d</i>", start))
	}
	for i := start; i < total; i++ {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, s.toolHistory[i]))
	}

	var tail string
	if s.activeTool != "" {
		tail = fmt.Sprintf("⚙️ %d. <i>%s</i>", total+1, s.activeTool)
	} else if total == 0 {
		tail = "🤔 <i>思考中...</i>"
	}

	return service.ProgressDocument{ToolLines: lines, Tail: tail}
}

// refresh pushes the current state into the presenter; force bypasses the
// throttle gate for phase transitions the user should see immediately.
func (s *StagedReply) refresh(force bool) {
	s.ensureStarted()
	s.presenter.SetDocument(s.buildDocument())
	s.presenter.MarkActivity()
	if force {
		s.presenter.Flush(context.Background())
	}
}

// applyStatus sends a new status message or edits the existing one.
func (s *StagedReply) applyStatus(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if text == s.lastText {
		return nil
	}

	if s.statusID == 0 {
		msg := tgbotapi.NewMessage(s.chatID, text)
		if s.parseMode != "" {
			msg.ParseMode = s.parseMode
		}
		sent, err := s.bot.Send(msg)
		if err != nil {
			return err
		}
		s.statusID = sent.MessageID
	} else {
		editMsg := tgbotapi.NewEditMessageText(s.chatID, s.statusID, text)
		if s.parseMode != "" {
			editMsg.ParseMode = s.parseMode
		}
		_, err := s.bot.Send(editMsg)
		if err != nil && !isMessageNotModifiedError(err) {
			return err
		}
	}

	s.lastText = text
	return nil
}

// Deliver deletes the status message and sends the final complete reply.
// For long texts, it splits into multiple messages with pagination.
func (s *StagedReply) Deliver(adapter *Adapter, finalText string) error {
	s.teardown()
	return s.sendFinalChunked(adapter, finalText)
}

// DeliverWithSuffix delivers with a suffix appended to the last chunk.
// Converts Markdown → TG HTML before sending.
func (s *StagedReply) DeliverWithSuffix(adapter *Adapter, finalText, suffix string) error {
	s.teardown()

	htmlText := MarkdownToTelegramHTML(finalText)

	chunks := ChunkMarkdown(htmlText)
	if len(chunks) == 0 {
		chunks = []string{htmlText}
	}

	for i, chunk := range chunks {
		text := chunk
		isLast := i == len(chunks)-1

		if len(chunks) > 1 {
			text += fmt.Sprintf("\n\n📄 <i>(%d/%d)</i>", i+1, len(chunks))
		}
		if isLast && suffix != "" {
			text += "\n\n" + suffix
		}

		err := adapter.SendMessage(&OutgoingMessage{
			ChatID:    s.chatID,
			Text:      text,
			ParseMode: s.parseMode,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// teardown stops the presenter's scheduler and removes the status message.
func (s *StagedReply) teardown() {
	s.presenter.Stop()
	s.deleteStatus()
}

// deleteStatus removes the status message.
func (s *StagedReply) deleteStatus() {
	s.mu.Lock()
	msgID := s.statusID
	s.mu.Unlock()

	if msgID == 0 {
		return
	}

	deleteMsg := tgbotapi.NewDeleteMessage(s.chatID, msgID)
	s.bot.Request(deleteMsg)

	s.mu.Lock()
	s.statusID = 0
	s.mu.Unlock()
}

// sendFinalChunked sends the final text in properly formatted chunks.
func (s *StagedReply) sendFinalChunked(adapter *Adapter, text string) error {
	chunks := ChunkMarkdown(text)
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	for i, chunk := range chunks {
		displayText := chunk
		if len(chunks) > 1 {
			displayText += fmt.Sprintf("\n\n📄 <i>(%d/%d)</i>", i+1, len(chunks))
		}
		err := adapter.SendMessage(&OutgoingMessage{
			ChatID:    s.chatID,
			Text:      displayText,
			ParseMode: s.parseMode,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// GetStatusMessageID returns the current status message ID.
func (s *StagedReply) GetStatusMessageID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusID
}

// toolDisplayLabel generates a human-readable label for a tool invocation.
// Instead of showing bare "bash", it shows "执行命令: ls -la" etc.
func toolDisplayLabel(toolName string, args map[string]interface{}) string {
	switch toolName {
	case "bash", "bash_exec", "shell":
		if cmd := argStr(args, "command"); cmd != "" {
			return fmt.Sprintf("执行命令: %s", truncateLabel(cmd, 48))
		}
		return "执行命令"

	case "read_file":
		if p := argStr(args, "path"); p != "" {
			return fmt.Sprintf("读取: %s", filepath.Base(p))
		}
		return "读取文件"

	case "write_file":
		if p := argStr(args, "path"); p != "" {
			return fmt.Sprintf("写入: %s", filepath.Base(p))
		}
		return "写入文件"

	case "list_dir", "list_directory":
		if p := argStr(args, "path"); p != "" {
			return fmt.Sprintf("查看目录: %s", truncateLabel(p, 40))
		}
		return "查看目录"

	case "web_search", "search":
		if q := argStr(args, "query"); q != "" {
			return fmt.Sprintf("搜索: %s", truncateLabel(q, 48))
		}
		return "网络搜索"

	case "browser", "browse":
		if u := argStr(args, "url"); u != "" {
			return fmt.Sprintf("浏览: %s", truncateLabel(u, 48))
		}
		return "浏览网页"

	case "git":
		if sub := argStr(args, "subcommand"); sub != "" {
			return fmt.Sprintf("Git: %s", sub)
		}
		if cmd := argStr(args, "command"); cmd != "" {
			return fmt.Sprintf("Git: %s", truncateLabel(cmd, 40))
		}
		return "Git 操作"

	case "memory_search", "memory_store":
		if q := argStr(args, "query"); q != "" {
			return fmt.Sprintf("记忆检索: %s", truncateLabel(q, 40))
		}
		return "记忆操作"

	case "stock_analysis", "stock_query":
		if code := argStr(args, "code"); code != "" {
			return fmt.Sprintf("股票分析: %s", code)
		}
		return "股票分析"

	case "subagent":
		if task := argStr(args, "task"); task != "" {
			return fmt.Sprintf("子任务: %s", truncateLabel(task, 40))
		}
		return "子任务执行"

	case "lsp_diagnostics", "lsp_hover", "lsp_definition":
		return "代码分析"

	case "lint_fix":
		return "代码修复"

	case "repomap":
		return "仓库结构分析"

	default:
		return toolName
	}
}

// argStr safely extracts a string argument from the args map.
func argStr(args map[string]interface{}, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// truncateLabel shortens text to maxLen, adding an ellipsis if truncated.
func truncateLabel(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
