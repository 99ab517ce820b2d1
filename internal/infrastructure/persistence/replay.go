package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CheckpointOp names the kind of mutation a checkpoint captures.
type CheckpointOp string

const (
	OpWrite     CheckpointOp = "write"
	OpEdit      CheckpointOp = "edit"
	OpInsert    CheckpointOp = "insert"
	OpPatch     CheckpointOp = "patch"
	OpRangeEdit CheckpointOp = "range_edit"
)

// Checkpoint records the pre- and post-image of one file mutation, so the
// mutation can be rewound by restoring PreImage over the current file.
type Checkpoint struct {
	ID         int64        `json:"id"`
	Op         CheckpointOp `json:"op"`
	Path       string       `json:"path"`
	PreExisted bool         `json:"pre_existed"`
	PreImage   []byte       `json:"pre_image"`
	PostImage  []byte       `json:"post_image,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ReplayStore persists Checkpoint records to a per-session directory as one
// JSON file per checkpoint, binary-named by monotonic ID, plus an append-only
// JSONL index describing the sequence — mirroring VaultStore/PersistentBus's
// append-and-replay shape so an interrupted session can reload its
// checkpoint history on reopen.
type ReplayStore struct {
	mu      sync.Mutex
	dir     string
	logger  *zap.Logger
	index   *os.File
	writer  *bufio.Writer
	nextID  int64
	entries []Checkpoint
}

// NewReplayStore opens (or creates) the replay directory under dir, replaying
// the existing index to determine the next checkpoint ID.
func NewReplayStore(dir string, logger *zap.Logger) (*ReplayStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create replay dir: %w", err)
	}

	r := &ReplayStore{dir: dir, logger: logger}
	if err := r.loadIndex(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(r.indexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open replay index: %w", err)
	}
	r.index = f
	r.writer = bufio.NewWriterSize(f, 32*1024)
	return r, nil
}

func (r *ReplayStore) indexPath() string { return filepath.Join(r.dir, "index.jsonl") }

func (r *ReplayStore) loadIndex() error {
	f, err := os.Open(r.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open replay index for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 32*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping corrupt replay index entry", zap.Error(err))
			}
			continue
		}
		r.entries = append(r.entries, cp)
		if cp.ID >= r.nextID {
			r.nextID = cp.ID + 1
		}
	}
	return scanner.Err()
}

// Begin captures the pre-image of path (empty if the file does not yet
// exist — the common case for a fresh write) and returns a Checkpoint handle
// that the caller completes via Commit once the mutation succeeds.
func (r *ReplayStore) Begin(op CheckpointOp, path string) (Checkpoint, error) {
	pre, err := os.ReadFile(path)
	preExisted := err == nil
	if err != nil && !os.IsNotExist(err) {
		return Checkpoint{}, fmt.Errorf("read pre-image of %s: %w", path, err)
	}

	id := atomic.AddInt64(&r.nextID, 1) - 1
	return Checkpoint{ID: id, Op: op, Path: path, PreExisted: preExisted, PreImage: pre, CreatedAt: time.Now()}, nil
}

// Commit attaches the post-image of cp.Path and persists the completed
// checkpoint to the append-only index.
func (r *ReplayStore) Commit(cp Checkpoint) error {
	post, err := os.ReadFile(cp.Path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read post-image of %s: %w", cp.Path, err)
	}
	cp.PostImage = post

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	cpPath := filepath.Join(r.dir, fmt.Sprintf("%d.json", cp.ID))
	if err := os.WriteFile(cpPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("flush replay index: %w", err)
	}
	r.entries = append(r.entries, cp)
	return nil
}

// Last returns the most recent checkpoint, if any.
func (r *ReplayStore) Last() (Checkpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return Checkpoint{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// ByID returns the checkpoint with the given ID, if present.
func (r *ReplayStore) ByID(id int64) (Checkpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cp := range r.entries {
		if cp.ID == id {
			return cp, true
		}
	}
	return Checkpoint{}, false
}

// Rewind restores cp.Path to cp.PreImage using an atomic write-to-tmp-then-
// rename so a crash mid-restore never leaves the file half-written. When the
// checkpoint was taken before the file existed (a fresh write), rewinding
// removes the file instead of writing an empty one.
func Rewind(cp Checkpoint) error {
	if !cp.PreExisted {
		if err := os.Remove(cp.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove file with no pre-existing image: %w", err)
		}
		return nil
	}

	dir := filepath.Dir(cp.Path)
	tmp, err := os.CreateTemp(dir, ".turnengine-rewind-*")
	if err != nil {
		return fmt.Errorf("create rewind tmp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(cp.PreImage); err != nil {
		tmp.Close()
		return fmt.Errorf("write rewind tmp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rewind tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, cp.Path); err != nil {
		return fmt.Errorf("rename rewind tmp file into place: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying index file.
func (r *ReplayStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer != nil {
		_ = r.writer.Flush()
	}
	if r.index != nil {
		return r.index.Close()
	}
	return nil
}
