package persistence

import (
	"context"
	"fmt"

	"github.com/turnengine/turnengine/internal/domain/memory"
	"github.com/turnengine/turnengine/internal/infrastructure/vectorstore"

	"go.uber.org/zap"
)

// DefaultEmbedDimension is the vector width used when no OllamaEmbedder is
// configured and MemoryVaultIndex falls back to the deterministic hash
// embedder.
const DefaultEmbedDimension = 256

// vaultKeyMeta is the MemoryEntry metadata field MemoryVaultIndex uses to
// carry a vault key through the embedding store and back.
const vaultKeyMeta = "vault_key"

// MemoryVaultIndex adapts a memory.MemoryManager into a VaultStore
// SemanticIndex, so vault entries can be retrieved by embedding similarity
// instead of substring match. It is an optional backend: the spec's default
// Vault search stays substring-based, and a VaultStore only consults this
// index when SetSemanticIndex has wired one in.
type MemoryVaultIndex struct {
	mgr    *memory.MemoryManager
	logger *zap.Logger
}

// NewLanceDBVaultIndex builds a MemoryVaultIndex backed by a LanceDB vector
// store. storeDir is the directory LanceDB persists its table under (e.g.
// ~/.turnengine/vault/lancedb). If embedder is nil, a deterministic hash
// embedder fills in instead of a real model — useful for tests and for
// deployments without an Ollama instance.
//
// Note: LanceDBVectorStore links against a native liblancedb_go shared
// library via cgo (internal/infrastructure/vectorstore/cgo_link.go); that
// native library is not part of this tree and must be provided by the
// deployment environment, the same way the teacher repo expected it.
func NewLanceDBVaultIndex(storeDir string, dimension int, embedder memory.EmbeddingProvider, logger *zap.Logger) (*MemoryVaultIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := vectorstore.NewLanceDBVectorStore(storeDir, dimension, logger)
	if err != nil {
		return nil, fmt.Errorf("open lancedb vault index: %w", err)
	}
	if embedder == nil {
		embedder = memory.NewSimpleEmbedder(dimension)
	}
	return &MemoryVaultIndex{
		mgr:    memory.NewMemoryManager(store, embedder),
		logger: logger,
	}, nil
}

// Index embeds value and remembers it under a metadata tag pointing back at
// the vault key, so Query can resolve hits to the key VaultStore indexes on.
func (m *MemoryVaultIndex) Index(ctx context.Context, key, value string) error {
	_, err := m.mgr.Remember(ctx, value, map[string]interface{}{vaultKeyMeta: key})
	return err
}

// Query embeds the query string and returns the vault keys of the topK
// nearest neighbors by cosine similarity, most similar first.
func (m *MemoryVaultIndex) Query(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	entries, err := m.mgr.Recall(ctx, query, limit, nil)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if k, ok := e.Metadata[vaultKeyMeta].(string); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
