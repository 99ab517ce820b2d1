// Copyright 2026 TurnEngine. All rights reserved.

package service

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ProgressDocument is the intermediate representation the presenter
// composes once per render and hands to every sink. Sinks decide how to
// lay it out; the presenter only decides when to render and apply.
type ProgressDocument struct {
	Headers           []string
	ToolLines         []string
	Tail              string // active tool stdout/stderr tail, optional
	Diff              string // optional
	AssistantMarkdown string
}

// Render serializes the document as plain text, truncated to maxLen (0 =
// unbounded). Sinks that need richer formatting (HTML, TUI styling) render
// the fields directly instead of calling this.
func (d ProgressDocument) Render(maxLen int) string {
	var b strings.Builder
	for _, h := range d.Headers {
		b.WriteString(h)
		b.WriteString("\n")
	}
	if len(d.ToolLines) > 0 {
		b.WriteString("\n")
		for _, l := range d.ToolLines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	if d.Tail != "" {
		b.WriteString("\n")
		b.WriteString(d.Tail)
		b.WriteString("\n")
	}
	if d.Diff != "" {
		b.WriteString("\n")
		b.WriteString(d.Diff)
		b.WriteString("\n")
	}
	if d.AssistantMarkdown != "" {
		b.WriteString("\n")
		b.WriteString(d.AssistantMarkdown)
	}
	out := b.String()
	if maxLen > 0 && len(out) > maxLen {
		const ellipsis = "…"
		if maxLen > len(ellipsis) {
			out = out[:maxLen-len(ellipsis)] + ellipsis
		} else {
			out = out[:maxLen]
		}
	}
	return out
}

// ApplyClassification is what a sink's failure classifier decides to do
// about an apply error.
type ApplyClassification int

const (
	ApplyIgnore ApplyClassification = iota
	ApplyRetry
	ApplyFatal
)

// FailureClassifier maps a sink-specific apply error to a classification
// and, for ApplyRetry, the delay to honor before the backoff-with-jitter
// computation kicks in (zero means let backoff alone decide).
type FailureClassifier func(err error) (ApplyClassification, time.Duration)

// ProgressSink renders and applies a ProgressDocument to one destination
// (terminal line, chat message editor, TUI block). MaxLen caps the
// serialized text for this sink (0 = unbounded).
type ProgressSink interface {
	Apply(ctx context.Context, doc ProgressDocument) error
	MaxLen() int
}

// ProgressPresenterConfig configures the throttle clocks and backoff cap.
type ProgressPresenterConfig struct {
	ProgressIntervalMs int // default 3000
	HeartbeatIntervalMs int // default 4000
	PollIntervalMs      int // scheduler poll cadence, default 200
	MaxBackoffMs        int // default 30000
}

// DefaultProgressPresenterConfig returns the spec's default throttle clocks.
func DefaultProgressPresenterConfig() ProgressPresenterConfig {
	return ProgressPresenterConfig{
		ProgressIntervalMs:  3000,
		HeartbeatIntervalMs: 4000,
		PollIntervalMs:      200,
		MaxBackoffMs:        30000,
	}
}

// ProgressPresenter is a throttled broadcaster of turn lifecycle to one or
// more sinks. A cooperative scheduler polls a dirty flag; when set, it
// renders the current document and applies it to every sink under a
// single-flight lock so edits never overlap. Per-sink apply failures are
// triaged by that sink's FailureClassifier: ignored, retried with capped
// exponential backoff plus jitter, or treated as fatal (the sink is
// dropped from further applies).
type ProgressPresenter struct {
	cfg ProgressPresenterConfig

	mu           sync.Mutex
	doc          ProgressDocument
	dirty        bool
	lastActivity time.Time
	lastApply    time.Time
	lastHeartbeat time.Time

	applyMu sync.Mutex // single-flight: only one apply pass in flight at a time

	sinkMu      sync.Mutex
	sinks       []progressSinkEntry
	stopCh      chan struct{}
	stoppedOnce sync.Once
}

type progressSinkEntry struct {
	sink       ProgressSink
	classifier FailureClassifier
	failCount  int
	nextRetry  time.Time
	fatal      bool
}

// NewProgressPresenter builds a presenter with cfg, defaulting zero fields.
func NewProgressPresenter(cfg ProgressPresenterConfig) *ProgressPresenter {
	if cfg.ProgressIntervalMs <= 0 {
		cfg.ProgressIntervalMs = 3000
	}
	if cfg.HeartbeatIntervalMs <= 0 {
		cfg.HeartbeatIntervalMs = 4000
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 200
	}
	if cfg.MaxBackoffMs <= 0 {
		cfg.MaxBackoffMs = 30000
	}
	return &ProgressPresenter{cfg: cfg, stopCh: make(chan struct{})}
}

// AddSink registers sink with its failure classifier. A nil classifier
// always retries with plain backoff.
func (p *ProgressPresenter) AddSink(sink ProgressSink, classifier FailureClassifier) {
	if classifier == nil {
		classifier = func(error) (ApplyClassification, time.Duration) { return ApplyRetry, 0 }
	}
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sinks = append(p.sinks, progressSinkEntry{sink: sink, classifier: classifier})
}

// SetDocument replaces the current document and marks the presenter dirty.
func (p *ProgressPresenter) SetDocument(doc ProgressDocument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.dirty = true
}

// MarkActivity records that the user/turn is actively producing output,
// which keeps updates flowing even before progress_interval_ms elapses.
func (p *ProgressPresenter) MarkActivity() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActivity = time.Now()
}

// Start launches the scheduler goroutine. Call Stop (or cancel ctx) to end it.
func (p *ProgressPresenter) Start(ctx context.Context) {
	go p.run(ctx)
}

// Stop ends the scheduler loop. Safe to call more than once.
func (p *ProgressPresenter) Stop() {
	p.stoppedOnce.Do(func() { close(p.stopCh) })
}

func (p *ProgressPresenter) run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick implements the edit scheduler: checks the dirty flag and throttle
// gate, and if due, renders and applies under the single-flight lock.
func (p *ProgressPresenter) tick(ctx context.Context) {
	p.mu.Lock()
	dirty := p.dirty
	doc := p.doc
	now := time.Now()
	recentActivity := !p.lastActivity.IsZero() && now.Sub(p.lastActivity) < time.Duration(p.cfg.ProgressIntervalMs)*time.Millisecond
	heartbeatDue := p.lastHeartbeat.IsZero() || now.Sub(p.lastHeartbeat) >= time.Duration(p.cfg.HeartbeatIntervalMs)*time.Millisecond
	progressDue := p.lastApply.IsZero() || now.Sub(p.lastApply) >= time.Duration(p.cfg.ProgressIntervalMs)*time.Millisecond
	p.mu.Unlock()

	if !dirty {
		return
	}
	if !(recentActivity || heartbeatDue || progressDue) {
		return
	}

	if !p.applyMu.TryLock() {
		return // another apply pass is already in flight
	}
	defer p.applyMu.Unlock()

	p.applyToSinks(ctx, doc)

	p.mu.Lock()
	p.dirty = false
	p.lastApply = time.Now()
	if heartbeatDue {
		p.lastHeartbeat = p.lastApply
	}
	p.mu.Unlock()
}

// Flush immediately renders and applies the current document to every
// sink, bypassing the throttle gate (still serialized behind the
// single-flight apply lock). Used at phase transitions — e.g. the first
// status line, or the instant before a final deliver — where waiting out
// the next poll would leave a stale render on screen.
func (p *ProgressPresenter) Flush(ctx context.Context) {
	p.mu.Lock()
	doc := p.doc
	p.mu.Unlock()

	if !p.applyMu.TryLock() {
		return
	}
	defer p.applyMu.Unlock()

	p.applyToSinks(ctx, doc)

	p.mu.Lock()
	p.dirty = false
	p.lastApply = time.Now()
	p.mu.Unlock()
}

func (p *ProgressPresenter) applyToSinks(ctx context.Context, doc ProgressDocument) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()

	now := time.Now()
	for i := range p.sinks {
		entry := &p.sinks[i]
		if entry.fatal {
			continue
		}
		if !entry.nextRetry.IsZero() && now.Before(entry.nextRetry) {
			continue
		}

		if err := entry.sink.Apply(ctx, doc); err != nil {
			class, delay := entry.classifier(err)
			switch class {
			case ApplyIgnore:
				// no-op: transient, non-actionable (e.g. "not modified")
			case ApplyFatal:
				entry.fatal = true
			default: // ApplyRetry
				entry.failCount++
				if delay <= 0 {
					delay = backoffWithJitter(entry.failCount, p.cfg.MaxBackoffMs)
				}
				entry.nextRetry = now.Add(delay)
			}
			continue
		}
		entry.failCount = 0
		entry.nextRetry = time.Time{}
	}
}

// backoffWithJitter doubles from 250ms per failure, capped at maxMs, with
// up to ±10% jitter so many retrying sinks don't all wake in lockstep.
func backoffWithJitter(failCount, maxMs int) time.Duration {
	base := 250 * time.Millisecond
	d := base
	for i := 1; i < failCount; i++ {
		d *= 2
	}
	cap := time.Duration(maxMs) * time.Millisecond
	if cap > 0 && d > cap {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - time.Duration(int64(d)/10)
	d += jitter
	if d < 0 {
		d = base
	}
	return d
}
