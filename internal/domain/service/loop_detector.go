package service

import (
	"sync"

	domaintool "github.com/turnengine/turnengine/internal/domain/tool"
	"go.uber.org/zap"
)

// Verdict is the outcome of registering a tool call with the loop detector.
type Verdict string

const (
	VerdictNone     Verdict = "none"
	VerdictWarning  Verdict = "warning"
	VerdictCritical Verdict = "critical"
)

// LoopRecord is one entry in the detector's ring buffer.
type LoopRecord struct {
	Signature string
	ToolName  string
}

// LoopStats mirrors the counters spec §4.4 requires getStats() to expose.
type LoopStats struct {
	CallsRegistered      int64
	DedupedReplays       int64
	Warnings             int64
	Criticals            int64
	RecoveryRecommended  int64
	ReadFileFailures     int64 // consecutive; resets on any read_file success
}

// LoopDetectorState is the bounded ring buffer of recent ToolCallRecords
// plus per-signature counters described in spec §3 "LoopDetectorState".
// Default thresholds per spec §4.4/§8.5: warning=4, critical=8, a global
// circuit breaker at 12 on the single most frequent signature, within a
// ring buffer of at most 30 records.
type LoopDetectorState struct {
	mu sync.Mutex

	ring    []LoopRecord
	history int // max ring size

	warningThreshold  int
	criticalThreshold int
	globalThreshold   int

	counts map[string]int // per-signature occurrence count within the ring

	// enable/disable individual detector strategies independently.
	genericRepeatEnabled    bool
	knownPollNoProgress     bool
	pingPongEnabled         bool

	lastTwoSignatures [2]string // for ping_pong detection
	lastResultHash    map[string]string // signature -> hash of last result, for known_poll_no_progress
	lastResultRepeats map[string]int

	shouldDisableToolsNextTurn bool
	globalBreakerTripped       bool // set once the global circuit breaker fires; cleared by Reset

	stats LoopStats

	logger *zap.Logger
}

// NewLoopDetectorState constructs the detector with spec-default
// thresholds; pass zero values to accept the defaults.
func NewLoopDetectorState(historySize, warningThreshold, criticalThreshold, globalThreshold int, logger *zap.Logger) *LoopDetectorState {
	if historySize <= 0 {
		historySize = 30
	}
	if warningThreshold <= 0 {
		warningThreshold = 4
	}
	if criticalThreshold <= 0 {
		criticalThreshold = 8
	}
	if globalThreshold <= 0 {
		globalThreshold = 12
	}
	return &LoopDetectorState{
		history:              historySize,
		warningThreshold:     warningThreshold,
		criticalThreshold:    criticalThreshold,
		globalThreshold:      globalThreshold,
		counts:               make(map[string]int),
		genericRepeatEnabled: true,
		knownPollNoProgress:  true,
		pingPongEnabled:      true,
		lastResultHash:       make(map[string]string),
		lastResultRepeats:    make(map[string]int),
		logger:               logger,
	}
}

// RegisterCall records a tool call's signature and returns the resulting
// verdict for that call's own signature count, following the exact
// ordering spec §8.5 pins: the first critical verdict appears at the Nth
// call for N == criticalThreshold, not before.
func (d *LoopDetectorState) RegisterCall(toolName string, args map[string]interface{}) Verdict {
	sig := domaintool.CanonicalSignature(toolName, args)
	return d.register(toolName, sig)
}

func (d *LoopDetectorState) register(toolName, sig string) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.CallsRegistered++

	d.ring = append(d.ring, LoopRecord{Signature: sig, ToolName: toolName})
	if len(d.ring) > d.history {
		evicted := d.ring[0]
		d.ring = d.ring[1:]
		d.counts[evicted.Signature]--
		if d.counts[evicted.Signature] <= 0 {
			delete(d.counts, evicted.Signature)
		}
	}
	d.counts[sig]++

	count := d.counts[sig]

	// global circuit breaker: most frequent signature in the ring exceeds
	// globalThreshold.
	maxCount := 0
	for _, c := range d.counts {
		if c > maxCount {
			maxCount = c
		}
	}
	// §8.5 pins the breaker to fire exactly at the Nth call for
	// N == globalThreshold (12 by default), so the comparison is >=.
	if maxCount >= d.globalThreshold {
		d.shouldDisableToolsNextTurn = true
		d.globalBreakerTripped = true
	}

	d.lastTwoSignatures[0], d.lastTwoSignatures[1] = d.lastTwoSignatures[1], sig

	verdict := VerdictNone
	if count >= d.criticalThreshold {
		verdict = VerdictCritical
		d.stats.Criticals++
		d.shouldDisableToolsNextTurn = true
		d.stats.RecoveryRecommended++
	} else if count >= d.warningThreshold {
		verdict = VerdictWarning
		d.stats.Warnings++
	}

	if verdict != VerdictNone && d.logger != nil {
		d.logger.Warn("tool loop detector verdict",
			zap.String("tool", toolName),
			zap.String("signature", sig),
			zap.Int("count", count),
			zap.String("verdict", string(verdict)),
		)
	}

	return verdict
}

// RegisterOutcome feeds known_poll_no_progress: when the same signature's
// handler keeps returning byte-identical output, that's a stronger loop
// signal than mere repetition. resultHash should be a cheap digest (e.g.
// first/last N bytes or a real hash) of the tool's output text.
func (d *LoopDetectorState) RegisterOutcome(toolName string, args map[string]interface{}, resultHash string) Verdict {
	if !d.knownPollNoProgress {
		return VerdictNone
	}
	sig := domaintool.CanonicalSignature(toolName, args)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastResultHash[sig] == resultHash && resultHash != "" {
		d.lastResultRepeats[sig]++
	} else {
		d.lastResultRepeats[sig] = 0
	}
	d.lastResultHash[sig] = resultHash

	if d.lastResultRepeats[sig] >= d.warningThreshold {
		return VerdictWarning
	}
	return VerdictNone
}

// PingPong detects two signatures alternating with no mutation between
// them (A, B, A, B, ...) — a pattern generic_repeat misses because no
// single signature repeats consecutively.
func (d *LoopDetectorState) PingPong() bool {
	if !d.pingPongEnabled {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ring) < 4 {
		return false
	}
	tail := d.ring[len(d.ring)-4:]
	return tail[0].Signature == tail[2].Signature &&
		tail[1].Signature == tail[3].Signature &&
		tail[0].Signature != tail[1].Signature
}

// ShouldDisableToolsNextTurn reports and clears the "disable tools for the
// next turn only" flag a critical verdict or global breaker sets.
func (d *LoopDetectorState) ShouldDisableToolsNextTurn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.shouldDisableToolsNextTurn
	d.shouldDisableToolsNextTurn = false
	return v
}

// GlobalBreakerTripped reports whether the global circuit breaker has fired
// since the last Reset. Unlike ShouldDisableToolsNextTurn it is not cleared
// by reading it, and a critical verdict alone does not set it.
func (d *LoopDetectorState) GlobalBreakerTripped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globalBreakerTripped
}

// RecordDedupedReplay increments the dedup counter — called by the
// dispatcher each time a call is served from the per-turn replay map
// instead of re-executing.
func (d *LoopDetectorState) RecordDedupedReplay() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.DedupedReplays++
}

// RecordReadFileOutcome tracks consecutive read_file failures for the
// readFileFailures telemetry counter; it resets on any success.
func (d *LoopDetectorState) RecordReadFileOutcome(success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if success {
		d.stats.ReadFileFailures = 0
		return
	}
	d.stats.ReadFileFailures++
}

// GetStats returns a snapshot of the telemetry counters.
func (d *LoopDetectorState) GetStats() LoopStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Reset clears all tracking state — call at the start of each ask.
func (d *LoopDetectorState) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring = d.ring[:0]
	d.counts = make(map[string]int)
	d.lastResultHash = make(map[string]string)
	d.lastResultRepeats = make(map[string]int)
	d.shouldDisableToolsNextTurn = false
	d.globalBreakerTripped = false
}
