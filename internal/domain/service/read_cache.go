package service

import (
	"fmt"
	"os"
	"sync"
	"time"

	domaintool "github.com/turnengine/turnengine/internal/domain/tool"
	"go.uber.org/zap"
)

// readOnlyTools are the only tool names the read cache ever stores —
// mutating tools are never cached and always invalidate instead.
var readOnlyTools = map[string]bool{
	"file_read":       true,
	"batch_file_read": true,
	"directory_list":  true,
}

// resourceVersion captures the opaque (mtime, size) fingerprint of a path
// at cache-write time. A mismatch on lookup evicts the entry instead of
// serving stale content.
type resourceVersion struct {
	mtime int64
	size  int64
}

func statVersion(path string) (resourceVersion, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return resourceVersion{}, false
	}
	return resourceVersion{mtime: info.ModTime().UnixNano(), size: info.Size()}, true
}

type readCacheEntry struct {
	path      string
	version   resourceVersion
	hasVer    bool
	content   string
	createdAt time.Time
}

// ReadCache is C4's two-layer cache for read-only tool results:
//
//   - a signature-keyed layer with TTL, covering (tool-name, canonical
//     signature) for any read-only tool;
//   - a per-absolute-path layer keyed by (abs_path | offset | limit),
//     consulted even for reads that never repeat the exact same signature
//     consecutively, so a model alternating between two offsets on the
//     same file still gets cache hits.
//
// Every hit re-validates the resource's current (mtime, size) against the
// version recorded at write time; a mismatch evicts rather than serving
// stale content. Any mutating tool call on a path invalidates both layers
// for that path before it runs.
type ReadCache struct {
	mu       sync.RWMutex
	bySig    map[string]*readCacheEntry
	byPath   map[string]*readCacheEntry
	ttl      time.Duration
	maxSize  int
	logger   *zap.Logger
	stats    CacheStats
}

// CacheStats mirrors the "readCacheLookups/hits" half of C4's telemetry;
// the loop-detector side lives in LoopStats.
type CacheStats struct {
	Lookups int64
	Hits    int64
}

// NewReadCache creates a read cache with the given TTL and an approximate
// entry cap shared across both layers.
func NewReadCache(ttl time.Duration, maxSize int, logger *zap.Logger) *ReadCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 200
	}
	return &ReadCache{
		bySig:   make(map[string]*readCacheEntry, maxSize),
		byPath:  make(map[string]*readCacheEntry, maxSize),
		ttl:     ttl,
		maxSize: maxSize,
		logger:  logger,
	}
}

func pathKey(path string, offset, limit int) string {
	return fmt.Sprintf("%s|%d|%d", path, offset, limit)
}

// Store records content for a read-only tool call. toolName must be one of
// the recognized read-only tools or the call is a no-op.
func (c *ReadCache) Store(toolName string, args map[string]interface{}, path string, offset, limit int, content string) {
	if !readOnlyTools[toolName] {
		return
	}
	ver, hasVer := statVersion(path)
	entry := &readCacheEntry{
		path:      path,
		version:   ver,
		hasVer:    hasVer,
		content:   content,
		createdAt: time.Now(),
	}

	sig := toolName + ":" + domaintool.CanonicalSignature(toolName, args)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bySig) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.bySig[sig] = entry
	if path != "" {
		c.byPath[pathKey(path, offset, limit)] = entry
	}
}

// CacheLookupResult is the outcome of a cache lookup: the stored content, already
// prefixed with "[CACHE HIT]" and an optional mutation hint, or a miss.
type CacheLookupResult struct {
	Content string
	Hit     bool
}

// Lookup checks both layers for a hit, validating the resource version.
// mutationHint, when non-empty, is appended to the hit content to nudge
// the model toward varying its parameters (a larger offset, a search
// term, recursive=true) so it breaks out of a read-loop.
func (c *ReadCache) Lookup(toolName string, args map[string]interface{}, path string, offset, limit int, mutationHint string) CacheLookupResult {
	c.mu.Lock()
	c.stats.Lookups++
	c.mu.Unlock()

	if !readOnlyTools[toolName] {
		return CacheLookupResult{}
	}

	sig := toolName + ":" + domaintool.CanonicalSignature(toolName, args)

	c.mu.RLock()
	entry, ok := c.bySig[sig]
	if !ok && path != "" {
		entry, ok = c.byPath[pathKey(path, offset, limit)]
	}
	c.mu.RUnlock()

	if !ok {
		return CacheLookupResult{}
	}

	if time.Since(entry.createdAt) > c.ttl {
		c.evictPath(entry.path)
		return CacheLookupResult{}
	}

	if entry.hasVer {
		cur, ok := statVersion(entry.path)
		if !ok || cur != entry.version {
			c.evictPath(entry.path)
			return CacheLookupResult{}
		}
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()

	content := "[CACHE HIT] " + entry.content
	if mutationHint != "" {
		content += "\n[HINT] " + mutationHint
	}
	return CacheLookupResult{Content: content, Hit: true}
}

// InvalidatePath drops every cached entry touching path — called before any
// mutating tool runs against that path.
func (c *ReadCache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictPathLocked(path)
}

// evictPath removes all entries (both layers) whose path matches. Acquires
// its own lock — callers must not already hold c.mu.
func (c *ReadCache) evictPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictPathLocked(path)
}

func (c *ReadCache) evictPathLocked(path string) {
	for k, v := range c.bySig {
		if v.path == path {
			delete(c.bySig, k)
		}
	}
	for k, v := range c.byPath {
		if v.path == path {
			delete(c.byPath, k)
		}
	}
}

func (c *ReadCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for k, v := range c.bySig {
		if oldestKey == "" || v.createdAt.Before(oldestTime) {
			oldestKey, oldestTime = k, v.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.bySig, oldestKey)
	}
}

// Stats returns a snapshot of lookup/hit counters.
func (c *ReadCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Clear empties both layers — used at the start of each ask.
func (c *ReadCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySig = make(map[string]*readCacheEntry, c.maxSize)
	c.byPath = make(map[string]*readCacheEntry, c.maxSize)
}
