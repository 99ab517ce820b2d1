package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SemanticIndex is an optional, swappable search backend a VaultStore can
// delegate to in addition to its default substring Search. The spec's
// "simple substring match" remains the behavior of Search/ListKind — a
// SemanticIndex only backs the separate SemanticSearch path, so wiring one
// in never changes the meaning of existing calls.
type SemanticIndex interface {
	Index(ctx context.Context, key, value string) error
	Query(ctx context.Context, query string, limit int) ([]string, error)
}

// VaultEntry is one immutable (key, value, updated_at, kind) tuple. Writing
// a key never overwrites a prior entry in the log — it appends a new,
// higher-versioned entry and the index advances to point at it.
type VaultEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Kind      string    `json:"kind"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VaultStore is an append-only log of VaultEntry records with a secondary
// latest-by-key index, opened exclusively by one session (per spec §5,
// multi-process sharing of a vault is out of scope). Modeled on
// eventbus.PersistentBus's write-ahead-log shape: a buffered append-only
// writer plus a scan-based replay that rebuilds in-memory state on open.
type VaultStore struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	writer  *bufio.Writer
	logger  *zap.Logger
	latest   map[string]VaultEntry
	history  map[string][]VaultEntry
	semantic SemanticIndex
}

// NewVaultStore opens (or creates) the vault log under dir, replaying any
// existing entries to rebuild the latest-by-key index before accepting writes.
func NewVaultStore(dir string, logger *zap.Logger) (*VaultStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	v := &VaultStore{
		path:    filepath.Join(dir, "vault.log"),
		logger:  logger,
		latest:  make(map[string]VaultEntry),
		history: make(map[string][]VaultEntry),
	}
	if err := v.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(v.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open vault log: %w", err)
	}
	v.file = f
	v.writer = bufio.NewWriterSize(f, 64*1024)
	return v, nil
}

func (v *VaultStore) replay() error {
	f, err := os.Open(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open vault log for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry VaultEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			if v.logger != nil {
				v.logger.Warn("skipping corrupt vault log entry", zap.Error(err))
			}
			continue
		}
		v.index(entry)
	}
	return scanner.Err()
}

func (v *VaultStore) index(entry VaultEntry) {
	v.history[entry.Key] = append(v.history[entry.Key], entry)
	if cur, ok := v.latest[entry.Key]; !ok || entry.Version >= cur.Version {
		v.latest[entry.Key] = entry
	}
}

// Put appends a new version of key and advances the latest-by-key index.
// Superseded versions are never deleted — they remain in history.
func (v *VaultStore) Put(key, value, kind string) (VaultEntry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	version := 1
	if cur, ok := v.latest[key]; ok {
		version = cur.Version + 1
	}
	entry := VaultEntry{Key: key, Value: value, Kind: kind, Version: version, UpdatedAt: time.Now()}

	data, err := json.Marshal(entry)
	if err != nil {
		return VaultEntry{}, fmt.Errorf("marshal vault entry: %w", err)
	}
	if _, err := v.writer.Write(append(data, '\n')); err != nil {
		return VaultEntry{}, fmt.Errorf("append vault entry: %w", err)
	}
	if err := v.writer.Flush(); err != nil {
		return VaultEntry{}, fmt.Errorf("flush vault log: %w", err)
	}

	v.index(entry)

	if v.semantic != nil {
		if err := v.semantic.Index(context.Background(), key, value); err != nil && v.logger != nil {
			v.logger.Warn("semantic index update failed, falling back to substring search for this key",
				zap.String("key", key), zap.Error(err))
		}
	}

	return entry, nil
}

// SetSemanticIndex wires an optional SemanticIndex backend (e.g. an
// embedding-based vector index) for SemanticSearch. A nil index disables
// semantic search and SemanticSearch falls back to the substring Search.
func (v *VaultStore) SetSemanticIndex(idx SemanticIndex) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.semantic = idx
}

// SemanticSearch queries the wired SemanticIndex for keys relevant to query
// and resolves them to their latest VaultEntry. When no SemanticIndex is
// wired, it falls back to the default substring Search.
func (v *VaultStore) SemanticSearch(ctx context.Context, query string, limit int) ([]VaultEntry, error) {
	v.mu.Lock()
	idx := v.semantic
	v.mu.Unlock()

	if idx == nil {
		return v.Search(query, limit), nil
	}

	keys, err := idx.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	results := make([]VaultEntry, 0, len(keys))
	for _, k := range keys {
		if e, ok := v.latest[k]; ok {
			results = append(results, e)
		}
	}
	return results, nil
}

// Get returns the latest entry for key.
func (v *VaultStore) Get(key string) (VaultEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.latest[key]
	return e, ok
}

// GetVersion returns a specific historical version of key, if it exists.
func (v *VaultStore) GetVersion(key string, version int) (VaultEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.history[key] {
		if e.Version == version {
			return e, true
		}
	}
	return VaultEntry{}, false
}

// Search performs a substring match over the latest value of every key,
// most-recently-updated first, capped at limit (0 = unbounded).
func (v *VaultStore) Search(substr string, limit int) []VaultEntry {
	v.mu.Lock()
	defer v.mu.Unlock()

	matches := make([]VaultEntry, 0)
	for _, e := range v.latest {
		if strings.Contains(e.Value, substr) {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].UpdatedAt.After(matches[j].UpdatedAt) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// ListKind returns every latest entry whose Kind matches, most-recently
// updated first.
func (v *VaultStore) ListKind(kind string) []VaultEntry {
	v.mu.Lock()
	defer v.mu.Unlock()

	matches := make([]VaultEntry, 0)
	for _, e := range v.latest {
		if e.Kind == kind {
			matches = append(matches, e)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].UpdatedAt.After(matches[j].UpdatedAt) })
	return matches
}

// Keys returns every distinct key currently in the latest-by-key index.
func (v *VaultStore) Keys() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.latest))
	for k := range v.latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close flushes and closes the underlying log file.
func (v *VaultStore) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.writer != nil {
		_ = v.writer.Flush()
	}
	if v.file != nil {
		return v.file.Close()
	}
	return nil
}
