package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestReplayStore_BeginCommitCapturesPrePostImages(t *testing.T) {
	workDir := t.TempDir()
	storeDir := t.TempDir()

	filePath := filepath.Join(workDir, "a.txt")
	if err := os.WriteFile(filePath, []byte("before"), 0644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}

	r, err := NewReplayStore(storeDir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create replay store: %v", err)
	}
	defer r.Close()

	cp, err := r.Begin(OpWrite, filePath)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if string(cp.PreImage) != "before" {
		t.Fatalf("expected pre-image 'before', got %q", cp.PreImage)
	}

	if err := os.WriteFile(filePath, []byte("after"), 0644); err != nil {
		t.Fatalf("mutation write failed: %v", err)
	}

	if err := r.Commit(cp); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	last, ok := r.Last()
	if !ok {
		t.Fatal("expected a last checkpoint")
	}
	if string(last.PostImage) != "after" {
		t.Fatalf("expected post-image 'after', got %q", last.PostImage)
	}
}

func TestReplayStore_ReplaysIndexOnReopen(t *testing.T) {
	workDir := t.TempDir()
	storeDir := t.TempDir()
	filePath := filepath.Join(workDir, "a.txt")
	os.WriteFile(filePath, []byte("v1"), 0644)

	r1, err := NewReplayStore(storeDir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create replay store: %v", err)
	}
	cp, _ := r1.Begin(OpEdit, filePath)
	os.WriteFile(filePath, []byte("v2"), 0644)
	if err := r1.Commit(cp); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := r1.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r2, err := NewReplayStore(storeDir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to reopen replay store: %v", err)
	}
	defer r2.Close()

	got, ok := r2.ByID(cp.ID)
	if !ok {
		t.Fatal("expected checkpoint to survive reopen via index replay")
	}
	if string(got.PreImage) != "v1" {
		t.Fatalf("expected replayed pre-image 'v1', got %q", got.PreImage)
	}
}

func TestRewind_RestoresPreImageAtomically(t *testing.T) {
	workDir := t.TempDir()
	filePath := filepath.Join(workDir, "a.txt")
	os.WriteFile(filePath, []byte("mutated"), 0644)

	cp := Checkpoint{Path: filePath, PreExisted: true, PreImage: []byte("original")}
	if err := Rewind(cp); err != nil {
		t.Fatalf("rewind failed: %v", err)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("read after rewind failed: %v", err)
	}
	if string(data) != "original" {
		t.Fatalf("expected file restored to 'original', got %q", data)
	}
}

func TestRewind_RemovesFileThatDidNotExistBefore(t *testing.T) {
	workDir := t.TempDir()
	filePath := filepath.Join(workDir, "new.txt")
	os.WriteFile(filePath, []byte("created by write"), 0644)

	cp := Checkpoint{Path: filePath, PreExisted: false, PreImage: nil}
	if err := Rewind(cp); err != nil {
		t.Fatalf("rewind failed: %v", err)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed after rewinding a pre-creation checkpoint")
	}
}
