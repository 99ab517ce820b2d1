// Copyright 2026 TurnEngine. All rights reserved.

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSink struct {
	mu      sync.Mutex
	applied []string
	err     error
	maxLen  int
}

func (f *fakeSink) Apply(_ context.Context, doc ProgressDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, doc.Render(f.MaxLen()))
	return nil
}

func (f *fakeSink) MaxLen() int { return f.maxLen }

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func TestProgressDocument_RenderTruncatesToMaxLen(t *testing.T) {
	doc := ProgressDocument{Headers: []string{"hello world this is a long header"}}
	out := doc.Render(10)
	if len(out) != 10 {
		t.Fatalf("Render did not truncate to maxLen, got %q (%d bytes)", out, len(out))
	}
}

func TestProgressPresenter_FlushAppliesImmediately(t *testing.T) {
	p := NewProgressPresenter(DefaultProgressPresenterConfig())
	sink := &fakeSink{}
	p.AddSink(sink, nil)

	p.SetDocument(ProgressDocument{Headers: []string{"step 1"}})
	p.Flush(context.Background())

	if sink.count() != 1 {
		t.Fatalf("expected exactly one apply after Flush, got %d", sink.count())
	}
}

func TestProgressPresenter_FlushIsNoOpWhenApplyInFlight(t *testing.T) {
	p := NewProgressPresenter(DefaultProgressPresenterConfig())
	if !p.applyMu.TryLock() {
		t.Fatal("setup: expected to acquire applyMu")
	}
	defer p.applyMu.Unlock()

	sink := &fakeSink{}
	p.AddSink(sink, nil)
	p.SetDocument(ProgressDocument{Headers: []string{"step 1"}})
	p.Flush(context.Background()) // applyMu held elsewhere: must not block or apply

	if sink.count() != 0 {
		t.Fatalf("expected no apply while single-flight lock is held, got %d", sink.count())
	}
}

func TestProgressPresenter_RetryClassificationBacksOffAndRecovers(t *testing.T) {
	p := NewProgressPresenter(DefaultProgressPresenterConfig())
	sink := &fakeSink{err: errors.New("transient")}
	var classifyCount int32
	p.AddSink(sink, func(error) (ApplyClassification, time.Duration) {
		atomic.AddInt32(&classifyCount, 1)
		return ApplyRetry, time.Hour // long delay: next Flush must skip this sink
	})

	p.SetDocument(ProgressDocument{Headers: []string{"x"}})
	p.Flush(context.Background())
	if atomic.LoadInt32(&classifyCount) != 1 {
		t.Fatalf("expected classifier called once after first failure, got %d", classifyCount)
	}

	// Second flush: sink is in its retry-delay window, must not be retried yet.
	p.SetDocument(ProgressDocument{Headers: []string{"y"}})
	p.Flush(context.Background())
	if atomic.LoadInt32(&classifyCount) != 1 {
		t.Fatalf("classifier should not run again before the retry delay elapses, got %d calls", classifyCount)
	}
}

func TestProgressPresenter_FatalClassificationDropsSink(t *testing.T) {
	p := NewProgressPresenter(DefaultProgressPresenterConfig())
	sink := &fakeSink{err: errors.New("chat not found")}
	p.AddSink(sink, func(error) (ApplyClassification, time.Duration) {
		return ApplyFatal, 0
	})

	p.SetDocument(ProgressDocument{Headers: []string{"x"}})
	p.Flush(context.Background())

	p.sinkMu.Lock()
	fatal := p.sinks[0].fatal
	p.sinkMu.Unlock()
	if !fatal {
		t.Fatal("sink should be marked fatal and excluded from further applies")
	}
}

func TestProgressPresenter_IgnoreClassificationLeavesSinkRetryable(t *testing.T) {
	p := NewProgressPresenter(DefaultProgressPresenterConfig())
	sink := &fakeSink{err: errors.New("not modified")}
	p.AddSink(sink, func(error) (ApplyClassification, time.Duration) {
		return ApplyIgnore, 0
	})

	p.SetDocument(ProgressDocument{Headers: []string{"x"}})
	p.Flush(context.Background())

	p.sinkMu.Lock()
	entry := p.sinks[0]
	p.sinkMu.Unlock()
	if entry.fatal || !entry.nextRetry.IsZero() {
		t.Fatal("ignored failures must neither be fatal nor schedule a retry delay")
	}
}

func TestBackoffWithJitter_CapsAtMax(t *testing.T) {
	d := backoffWithJitter(20, 5000)
	if d > 6*time.Second {
		t.Fatalf("backoff should stay near the cap plus jitter, got %v", d)
	}
}

func TestProgressPresenter_SchedulerAppliesWhenDirty(t *testing.T) {
	cfg := ProgressPresenterConfig{ProgressIntervalMs: 1, HeartbeatIntervalMs: 1, PollIntervalMs: 5, MaxBackoffMs: 1000}
	p := NewProgressPresenter(cfg)
	sink := &fakeSink{}
	p.AddSink(sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.SetDocument(ProgressDocument{Headers: []string{"hello"}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() == 0 {
		t.Fatal("scheduler never applied a dirty document within the deadline")
	}
}
