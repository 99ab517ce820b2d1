package llm

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// RateLimiter tracks recent HTTP 503 responses in a sliding window and
// escalates the retry delay once they cluster, on top of plain exponential
// backoff. It complements CircuitBreaker: the breaker trips on consecutive
// failures of any kind, this tracks 503-specific pressure within a call's
// own retry loop.
type RateLimiter struct {
	mu         sync.Mutex
	window     time.Duration
	threshold  int
	escalation time.Duration
	hits       []time.Time
}

// NewRateLimiter builds a limiter that escalates once more than threshold
// 503s land within window, adding escalation delay per excess hit.
func NewRateLimiter(window time.Duration, threshold int, escalation time.Duration) *RateLimiter {
	if window <= 0 {
		window = 60 * time.Second
	}
	if threshold <= 0 {
		threshold = 3
	}
	if escalation <= 0 {
		escalation = 2 * time.Second
	}
	return &RateLimiter{window: window, threshold: threshold, escalation: escalation}
}

// Note503 records a 503 response at now.
func (r *RateLimiter) Note503(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, now)
	r.prune(now)
}

// ExtraDelay returns the additional delay to layer on top of exponential
// backoff, based on how many 503s landed in the trailing window.
func (r *RateLimiter) ExtraDelay(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	excess := len(r.hits) - r.threshold
	if excess <= 0 {
		return 0
	}
	return time.Duration(excess) * r.escalation
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := sort.Search(len(r.hits), func(i int) bool { return r.hits[i].After(cutoff) })
	r.hits = r.hits[i:]
}

// BackpressureMonitor keeps a rolling window of recent call completion
// durations and flags when the latest sample is disproportionately slower
// than the rolling average, once enough samples exist to trust the average.
type BackpressureMonitor struct {
	mu         sync.Mutex
	samples    []time.Duration
	windowSize int
	multiplier float64
	minSamples int
}

// NewBackpressureMonitor builds a monitor over the last windowSize samples,
// warning once latest > multiplier * average after at least minSamples
// observations.
func NewBackpressureMonitor(windowSize int, multiplier float64, minSamples int) *BackpressureMonitor {
	if windowSize <= 0 {
		windowSize = 20
	}
	if multiplier <= 0 {
		multiplier = 3.0
	}
	if minSamples <= 0 {
		minSamples = 3
	}
	return &BackpressureMonitor{windowSize: windowSize, multiplier: multiplier, minSamples: minSamples}
}

// Observe records a completion duration and reports whether it exceeds the
// backpressure threshold, along with the rolling average it was judged
// against (computed before this sample was added).
func (b *BackpressureMonitor) Observe(d time.Duration) (warn bool, rollingAvg time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.samples) >= b.minSamples {
		var sum time.Duration
		for _, s := range b.samples {
			sum += s
		}
		rollingAvg = sum / time.Duration(len(b.samples))
		if rollingAvg > 0 && float64(d) > b.multiplier*float64(rollingAvg) {
			warn = true
		}
	}

	b.samples = append(b.samples, d)
	if len(b.samples) > b.windowSize {
		b.samples = b.samples[len(b.samples)-b.windowSize:]
	}
	return warn, rollingAvg
}

// BackoffDelay computes the exponential-backoff delay for attempt (0-based),
// doubling from base and capped at maxMs.
func BackoffDelay(attempt int, base time.Duration, maxMs int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	cap := time.Duration(maxMs) * time.Millisecond
	if cap > 0 && d > cap {
		d = cap
	}
	return d
}

// redactedHeaderNames lists header keys (case-insensitive) whose values must
// never reach a capture record.
var redactedHeaderNames = map[string]bool{
	"authorization": true,
	"api-key":       true,
	"x-api-key":     true,
}

// RedactHeaders returns a copy of h suitable for a capture record: known
// secret-bearing headers replaced with "[REDACTED]", everything else passed
// through. It walks a fixed, known set of header names rather than
// open-endedly enumerating arbitrary nested structures.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		val := strings.Join(v, ", ")
		if redactedHeaderNames[strings.ToLower(k)] {
			val = "[REDACTED]"
		}
		out[k] = val
	}
	return out
}
