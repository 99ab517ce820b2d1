package llm

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCaptureRecorder_NilIsNoOp(t *testing.T) {
	var c *CaptureRecorder
	if err := c.Write(CaptureRecord{}); err != nil {
		t.Fatalf("nil recorder should be a no-op, got %v", err)
	}
}

func TestCaptureRecorder_WritesRedactedJSONL(t *testing.T) {
	dir := t.TempDir()
	c := NewCaptureRecorder(dir)

	rec := CaptureRecord{
		Time:     time.Now(),
		Provider: "openai",
		Model:    "gpt-test",
		Headers:  map[string]string{"Authorization": "[REDACTED]", "Content-Type": "application/json"},
		Status:   200,
	}
	if err := c.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one capture file, got %v (err=%v)", entries, err)
	}
	if !strings.HasPrefix(entries[0].Name(), "captures-") {
		t.Fatalf("unexpected capture file name: %s", entries[0].Name())
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open capture file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected at least one JSONL line")
	}
	var got CaptureRecord
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal capture line: %v", err)
	}
	if got.Headers["Authorization"] != "[REDACTED]" {
		t.Fatalf("Authorization should stay redacted in the persisted record, got %v", got.Headers)
	}
}
