// Copyright 2026 TurnEngine. All rights reserved.

package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/turnengine/turnengine/internal/infrastructure/config"
)

// SecurityController exposes approval-gate operations to TG commands.
type SecurityController interface {
	SetApprovalMode(mode string)
	GetConfig() config.SecurityConfig
	TrustTool(name string)
	UntrustTool(name string)
	TrustCommand(cmd string)
	ClearRemembered()
}

// registerSecurityCommands registers /security, /trust, /untrust commands.
func (a *Adapter) registerSecurityCommands(registry *CommandRegistry, ctrl SecurityController) {
	// /security [reject|default|auto-edit|yolo]
	registry.Register("security", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if cmd.RawArgs == "" {
			return buildSecurityStatus(cmd.ChatID, ctrl), nil
		}

		mode := strings.TrimSpace(strings.ToLower(cmd.RawArgs))
		if !setApprovalModeAlias(ctrl, mode) {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("❌ 未知模式: <code>%s</code>\n可用: <code>reject</code> | <code>default</code> | <code>auto-edit</code> | <code>yolo</code>", mode),
				ParseMode: "HTML",
			}, nil
		}

		return buildSecurityStatus(cmd.ChatID, ctrl), nil
	})

	// /trust <tool_name|cmd:command_name>
	registry.Register("trust", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if cmd.RawArgs == "" {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "用法: /trust &lt;工具名&gt; 或 /trust cmd:&lt;命令名&gt;",
				ParseMode: "HTML",
			}, nil
		}

		name := strings.TrimSpace(cmd.RawArgs)
		if strings.HasPrefix(name, "cmd:") {
			cmdName := strings.TrimPrefix(name, "cmd:")
			ctrl.TrustCommand(cmdName)
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      fmt.Sprintf("✅ 已信任命令: <code>%s</code>", cmdName),
				ParseMode: "HTML",
			}, nil
		}

		ctrl.TrustTool(name)
		return &OutgoingMessage{
			ChatID:    cmd.ChatID,
			Text:      fmt.Sprintf("✅ 已信任工具: <code>%s</code>", name),
			ParseMode: "HTML",
		}, nil
	})

	// /untrust <tool_name>
	registry.Register("untrust", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		if cmd.RawArgs == "" {
			return &OutgoingMessage{
				ChatID:    cmd.ChatID,
				Text:      "用法: /untrust &lt;工具名&gt;",
				ParseMode: "HTML",
			}, nil
		}

		name := strings.TrimSpace(cmd.RawArgs)
		ctrl.UntrustTool(name)
		return &OutgoingMessage{
			ChatID:    cmd.ChatID,
			Text:      fmt.Sprintf("🔓 已取消信任: <code>%s</code>", name),
			ParseMode: "HTML",
		}, nil
	})

	// /forget — clear remembered per-session approvals
	registry.Register("forget", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		ctrl.ClearRemembered()
		return &OutgoingMessage{
			ChatID: cmd.ChatID,
			Text:   "🧹 已清空本会话的记忆确认",
		}, nil
	})

	// Callback handler for inline keyboard mode switching
	registry.Register("security_mode", func(ctx context.Context, cmd *Command) (*OutgoingMessage, error) {
		mode := strings.TrimSpace(cmd.RawArgs)
		setApprovalModeAlias(ctrl, mode)
		return buildSecurityStatus(cmd.ChatID, ctrl), nil
	})
}

// setApprovalModeAlias accepts both the spec's mode names and a couple of
// short aliases a human is likely to type, and reports whether mode was
// recognized. It never derives a mode from anything but this explicit input.
func setApprovalModeAlias(ctrl SecurityController, mode string) bool {
	switch mode {
	case "reject":
		ctrl.SetApprovalMode("reject")
	case "default", "ask":
		ctrl.SetApprovalMode("default")
	case "auto-edit", "auto_edit", "autoedit":
		ctrl.SetApprovalMode("auto-edit")
	case "yolo", "auto":
		ctrl.SetApprovalMode("yolo")
	default:
		return false
	}
	return true
}

// buildSecurityStatus builds the security status message with toggleable inline keyboard.
func buildSecurityStatus(chatID int64, ctrl SecurityController) *OutgoingMessage {
	cfg := ctrl.GetConfig()

	modeLabel := "❓ 未知"
	var rejectIcon, defaultIcon, autoEditIcon, yoloIcon string
	switch cfg.ApprovalMode {
	case "reject":
		modeLabel = "⛔ 全部拒绝"
		rejectIcon = "✅ "
	case "default":
		modeLabel = "⚠️ 默认确认"
		defaultIcon = "✅ "
	case "auto-edit":
		modeLabel = "🟡 自动编辑"
		autoEditIcon = "✅ "
	case "yolo":
		modeLabel = "🟢 YOLO"
		yoloIcon = "✅ "
	}

	trustedStr := "无"
	if len(cfg.TrustedTools) > 0 {
		trustedStr = strings.Join(cfg.TrustedTools, ", ")
	}
	dangerousStr := "无"
	if len(cfg.DangerousTools) > 0 {
		dangerousStr = strings.Join(cfg.DangerousTools, ", ")
	}
	trustedCmdStr := "无"
	if len(cfg.TrustedCommands) > 0 {
		if len(cfg.TrustedCommands) > 8 {
			trustedCmdStr = strings.Join(cfg.TrustedCommands[:8], ", ") + "..."
		} else {
			trustedCmdStr = strings.Join(cfg.TrustedCommands, ", ")
		}
	}
	rootsStr := "仅 $HOME"
	if len(cfg.AllowedRoots) > 0 {
		rootsStr = strings.Join(cfg.AllowedRoots, ", ")
	}

	text := fmt.Sprintf(
		"🔒 <b>审批策略</b>\n━━━━━━━━━━━━━\n"+
			"当前模式: %s\n\n"+
			"📗 <b>信任工具</b>: <code>%s</code>\n"+
			"📕 <b>危险工具</b>: <code>%s</code>\n"+
			"📘 <b>信任命令</b>: <code>%s</code>\n"+
			"📁 <b>允许根目录</b>: <code>%s</code>\n\n"+
			"<i>点击下方按钮切换模式:</i>",
		modeLabel, trustedStr, dangerousStr, trustedCmdStr, rootsStr,
	)

	keyboard := BuildInlineKeyboard([][]InlineButton{
		{
			{Text: rejectIcon + "⛔ 拒绝", CallbackData: "/security_mode reject"},
			{Text: defaultIcon + "⚠️ 默认", CallbackData: "/security_mode default"},
		},
		{
			{Text: autoEditIcon + "🟡 自动编辑", CallbackData: "/security_mode auto-edit"},
			{Text: yoloIcon + "🟢 YOLO", CallbackData: "/security_mode yolo"},
		},
	})

	return &OutgoingMessage{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: &keyboard,
	}
}
