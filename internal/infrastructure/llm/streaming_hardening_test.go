package llm

import (
	"net/http"
	"testing"
	"time"
)

func TestRateLimiter_EscalatesPastThreshold(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 2, 5*time.Second)
	now := time.Now()

	rl.Note503(now)
	rl.Note503(now)
	if d := rl.ExtraDelay(now); d != 0 {
		t.Fatalf("expected no extra delay at threshold, got %v", d)
	}

	rl.Note503(now)
	if d := rl.ExtraDelay(now); d != 5*time.Second {
		t.Fatalf("expected 5s extra delay one over threshold, got %v", d)
	}

	rl.Note503(now)
	if d := rl.ExtraDelay(now); d != 10*time.Second {
		t.Fatalf("expected 10s extra delay two over threshold, got %v", d)
	}
}

func TestRateLimiter_PrunesOldHits(t *testing.T) {
	rl := NewRateLimiter(50*time.Millisecond, 1, time.Second)
	now := time.Now()

	rl.Note503(now)
	rl.Note503(now)
	rl.Note503(now)
	if d := rl.ExtraDelay(now); d == 0 {
		t.Fatal("expected escalation before the window elapses")
	}

	later := now.Add(100 * time.Millisecond)
	if d := rl.ExtraDelay(later); d != 0 {
		t.Fatalf("expected stale hits pruned out of the window, got %v", d)
	}
}

func TestBackpressureMonitor_WarnsOnlyAfterMinSamplesAndMultiplier(t *testing.T) {
	bp := NewBackpressureMonitor(10, 3.0, 3)

	for i := 0; i < 3; i++ {
		warn, _ := bp.Observe(100 * time.Millisecond)
		if warn {
			t.Fatalf("sample %d: unexpected warn before minSamples reached", i)
		}
	}

	warn, avg := bp.Observe(1000 * time.Millisecond)
	if !warn {
		t.Fatalf("expected warn: 1000ms vs avg %v with 3x multiplier", avg)
	}
}

func TestBackpressureMonitor_NoWarnWithinMultiplier(t *testing.T) {
	bp := NewBackpressureMonitor(10, 3.0, 3)
	for i := 0; i < 5; i++ {
		bp.Observe(100 * time.Millisecond)
	}
	warn, _ := bp.Observe(250 * time.Millisecond)
	if warn {
		t.Fatal("250ms should not trip a 3x-of-100ms threshold")
	}
}

func TestBackoffDelay_DoublesAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	if d := BackoffDelay(0, base, 10000); d != base {
		t.Fatalf("attempt 0: got %v, want %v", d, base)
	}
	if d := BackoffDelay(1, base, 10000); d != 200*time.Millisecond {
		t.Fatalf("attempt 1: got %v, want 200ms", d)
	}
	if d := BackoffDelay(2, base, 10000); d != 400*time.Millisecond {
		t.Fatalf("attempt 2: got %v, want 400ms", d)
	}
	if d := BackoffDelay(10, base, 500); d != 500*time.Millisecond {
		t.Fatalf("attempt 10: expected cap at 500ms, got %v", d)
	}
}

func TestRedactHeaders_RedactsSecretsOnly(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-super-secret")
	h.Set("X-Api-Key", "abc123")
	h.Set("Content-Type", "application/json")

	redacted := RedactHeaders(h)
	if redacted["Authorization"] != "[REDACTED]" {
		t.Fatalf("Authorization not redacted: %v", redacted)
	}
	if redacted["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("X-Api-Key not redacted: %v", redacted)
	}
	if redacted["Content-Type"] != "application/json" {
		t.Fatalf("Content-Type should pass through unredacted, got %v", redacted["Content-Type"])
	}
}
