package telegram

import (
	"errors"
	"testing"
	"time"

	"github.com/turnengine/turnengine/internal/domain/service"
)

func TestTelegramApplyClassifier_IgnoresNotModified(t *testing.T) {
	class, _ := TelegramApplyClassifier(errors.New("Bad Request: message is not modified"))
	if class != service.ApplyIgnore {
		t.Fatalf("expected ApplyIgnore for not-modified, got %v", class)
	}
}

func TestTelegramApplyClassifier_RetriesRateLimitWithRetryAfter(t *testing.T) {
	class, delay := TelegramApplyClassifier(errors.New("Too Many Requests: retry after 7"))
	if class != service.ApplyRetry {
		t.Fatalf("expected ApplyRetry for 429, got %v", class)
	}
	if delay != 7*time.Second {
		t.Fatalf("expected 7s retry delay parsed from message, got %v", delay)
	}
}

func TestTelegramApplyClassifier_FatalOnChatGone(t *testing.T) {
	cases := []string{
		"Forbidden: bot was blocked by the user",
		"Bad Request: chat not found",
		"Forbidden: user is deactivated",
	}
	for _, msg := range cases {
		class, _ := TelegramApplyClassifier(errors.New(msg))
		if class != service.ApplyFatal {
			t.Errorf("TelegramApplyClassifier(%q) = %v, want ApplyFatal", msg, class)
		}
	}
}

func TestTelegramApplyClassifier_DefaultsToRetry(t *testing.T) {
	class, _ := TelegramApplyClassifier(errors.New("network reset"))
	if class != service.ApplyRetry {
		t.Fatalf("expected ApplyRetry as the default for unrecognized errors, got %v", class)
	}
}

func TestIsMessageNotModifiedError(t *testing.T) {
	if !isMessageNotModifiedError(errors.New("message is not modified")) {
		t.Fatal("expected true for the literal TG error text")
	}
	if isMessageNotModifiedError(errors.New("some other error")) {
		t.Fatal("expected false for unrelated errors")
	}
	if isMessageNotModifiedError(nil) {
		t.Fatal("expected false for nil")
	}
}
