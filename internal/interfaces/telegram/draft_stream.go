package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/turnengine/turnengine/internal/domain/service"
)

// telegramMaxMessageLen is Telegram's hard cap on message body length; the
// presenter truncates the rendered document below this so edits never 400.
const telegramMaxMessageLen = 4096

// DraftStream is a throttled editor over a single Telegram message: the
// first Update sends, every one after edits the same message in place.
// It implements service.ProgressSink so a ProgressPresenter can drive it
// directly as one of its turn-lifecycle sinks.
type DraftStream struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	messageID  int
	lastText   string
	throttleMs int64
	lastUpdate int64
	parseMode  string
	mu         sync.Mutex
}

// NewDraftStream builds a draft stream targeting chatID on bot.
func NewDraftStream(bot *tgbotapi.BotAPI, chatID int64) *DraftStream {
	return &DraftStream{
		bot:        bot,
		chatID:     chatID,
		throttleMs: 500,
		parseMode:  "Markdown",
	}
}

// SetThrottle sets the minimum interval between edits in milliseconds.
func (d *DraftStream) SetThrottle(ms int64) {
	d.throttleMs = ms
}

// Update applies text, throttled: a no-op if called again before throttleMs
// has elapsed or if text is unchanged from the last applied value. The
// ProgressPresenter's own dual-clock throttle is the primary gate; this is
// a cheap last-line-of-defense against a misconfigured or absent presenter.
func (d *DraftStream) Update(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now().UnixMilli()
	if now-d.lastUpdate < d.throttleMs {
		return nil
	}
	if text == d.lastText {
		return nil
	}
	return d.doUpdate(text, now)
}

// ForceUpdate applies text immediately, bypassing the throttle.
func (d *DraftStream) ForceUpdate(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doUpdate(text, time.Now().UnixMilli())
}

// Apply implements service.ProgressSink: it renders doc to this sink's
// length cap and force-applies it (the presenter already owns throttling).
func (d *DraftStream) Apply(_ context.Context, doc service.ProgressDocument) error {
	return d.ForceUpdate(doc.Render(d.MaxLen()))
}

// MaxLen implements service.ProgressSink.
func (d *DraftStream) MaxLen() int {
	return telegramMaxMessageLen - 16 // headroom for parse-mode escaping
}

func (d *DraftStream) doUpdate(text string, now int64) error {
	if d.messageID == 0 {
		msg := tgbotapi.NewMessage(d.chatID, text)
		if d.parseMode != "" {
			msg.ParseMode = d.parseMode
		}
		sent, err := d.bot.Send(msg)
		if err != nil {
			return err
		}
		d.messageID = sent.MessageID
	} else {
		editMsg := tgbotapi.NewEditMessageText(d.chatID, d.messageID, text)
		if d.parseMode != "" {
			editMsg.ParseMode = d.parseMode
		}
		_, err := d.bot.Send(editMsg)
		if err != nil && !isMessageNotModifiedError(err) {
			return err
		}
	}

	d.lastText = text
	d.lastUpdate = now
	return nil
}

// Finalize sends (or edits) finalText unconditionally, marking the stream done.
func (d *DraftStream) Finalize(finalText string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.messageID == 0 {
		msg := tgbotapi.NewMessage(d.chatID, finalText)
		if d.parseMode != "" {
			msg.ParseMode = d.parseMode
		}
		sent, err := d.bot.Send(msg)
		if err != nil {
			return err
		}
		d.messageID = sent.MessageID
		d.lastText = finalText
		return nil
	}

	if finalText != d.lastText {
		editMsg := tgbotapi.NewEditMessageText(d.chatID, d.messageID, finalText)
		if d.parseMode != "" {
			editMsg.ParseMode = d.parseMode
		}
		_, err := d.bot.Send(editMsg)
		if err != nil && !isMessageNotModifiedError(err) {
			return err
		}
		d.lastText = finalText
	}

	return nil
}

// GetMessageID returns the Telegram message ID this stream is editing, or
// zero if nothing has been sent yet.
func (d *DraftStream) GetMessageID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.messageID
}

// TelegramApplyClassifier triages DraftStream.Apply errors for a
// ProgressPresenter: rate limits retry after Telegram's advertised
// Retry-After, "not modified" is ignored outright, and chat-gone errors
// are fatal since no further edit in this chat can ever succeed.
func TelegramApplyClassifier(err error) (service.ApplyClassification, time.Duration) {
	if err == nil {
		return service.ApplyIgnore, 0
	}
	if isMessageNotModifiedError(err) {
		return service.ApplyIgnore, 0
	}
	msg := err.Error()
	if containsStr(msg, "Too Many Requests") {
		if d, ok := parseRetryAfter(msg); ok {
			return service.ApplyRetry, d
		}
		return service.ApplyRetry, 0
	}
	if containsStr(msg, "chat not found") || containsStr(msg, "bot was blocked") ||
		containsStr(msg, "user is deactivated") {
		return service.ApplyFatal, 0
	}
	return service.ApplyRetry, 0
}

// parseRetryAfter extracts Telegram's "retry after N" seconds hint, if present.
func parseRetryAfter(msg string) (time.Duration, bool) {
	idx := strings.LastIndex(msg, "retry after ")
	if idx < 0 {
		return 0, false
	}
	var secs int
	if _, err := fmt.Sscanf(msg[idx+len("retry after "):], "%d", &secs); err != nil || secs <= 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func isMessageNotModifiedError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return containsStr(errStr, "message is not modified") ||
		containsStr(errStr, "MESSAGE_NOT_MODIFIED")
}

func containsStr(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
