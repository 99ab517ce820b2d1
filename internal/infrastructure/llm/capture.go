package llm

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CaptureRecord is one logged call: request headers (redacted), the model
// and provider involved, status, latency, and any warning flags raised
// during the call. It intentionally carries only named fields — not a
// generic walk of the request/response bodies — so redaction never depends
// on recognizing shapes it hasn't seen before.
type CaptureRecord struct {
	Time      time.Time         `json:"time"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Streaming bool              `json:"streaming"`
	Headers   map[string]string `json:"headers"`
	Status    int               `json:"status,omitempty"`
	Err       string            `json:"error,omitempty"`
	LatencyMs int64             `json:"latency_ms"`
	Backpressure bool           `json:"backpressure,omitempty"`
	Attempt   int               `json:"attempt"`
}

// CaptureRecorder appends CaptureRecords as JSONL to a per-day file under
// dir. A nil *CaptureRecorder is valid and a no-op, so callers can always
// invoke Write without a feature-flag check at every call site.
type CaptureRecorder struct {
	mu  sync.Mutex
	dir string
}

// NewCaptureRecorder returns nil if dir is empty (capture disabled).
func NewCaptureRecorder(dir string) *CaptureRecorder {
	if dir == "" {
		return nil
	}
	return &CaptureRecorder{dir: dir}
}

// Write appends rec as one JSON line. It writes rec.Headers as given and
// does no redaction itself; callers build Headers with RecordHeaders, which
// redacts them via RedactHeaders.
func (c *CaptureRecorder) Write(rec CaptureRecord) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(c.dir, "captures-"+rec.Time.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

// RecordHeaders builds the redacted header map for a CaptureRecord.
func RecordHeaders(h http.Header) map[string]string {
	return RedactHeaders(h)
}
