package tool

import (
	"context"
	"testing"

	"github.com/turnengine/turnengine/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

func TestSaveMemoryTool_VaultBacked_UpdateSupersedesInHistory(t *testing.T) {
	vault, err := persistence.NewVaultStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	defer vault.Close()
	defer SetGlobalVault(nil)
	SetGlobalVault(vault)

	tool := NewSaveMemoryTool(zap.NewNop())
	ctx := context.Background()

	res, err := tool.Execute(ctx, map[string]interface{}{
		"fact":     "user prefers dark mode",
		"category": "preference",
	})
	if err != nil || !res.Success {
		t.Fatalf("first save failed: %v %+v", err, res)
	}

	store, err := LoadMemoryStore()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(store.Facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(store.Facts))
	}
	factID := store.Facts[0].ID

	// Near-duplicate save should update in place (same vault key, new version),
	// not append a second fact.
	res, err = tool.Execute(ctx, map[string]interface{}{
		"fact":     "user prefers dark mode UI",
		"category": "preference",
	})
	if err != nil || !res.Success {
		t.Fatalf("dedup save failed: %v %+v", err, res)
	}

	store, err = LoadMemoryStore()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(store.Facts) != 1 {
		t.Fatalf("expected dedup update to keep exactly 1 fact, got %d", len(store.Facts))
	}

	// The original version must still be retrievable from vault history —
	// updates supersede, they never destroy the prior entry.
	if _, ok := vault.GetVersion("fact:"+factID, 1); !ok {
		t.Fatal("expected version 1 of the fact to survive in vault history after update")
	}
	entry, ok := vault.Get("fact:" + factID)
	if !ok || entry.Version != 2 {
		t.Fatalf("expected latest vault entry to be version 2, got %+v ok=%v", entry, ok)
	}
}

func TestSearchMemoryTool_FindsSavedFactBySubstring(t *testing.T) {
	vault, err := persistence.NewVaultStore(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	defer vault.Close()
	defer SetGlobalVault(nil)
	SetGlobalVault(vault)

	ctx := context.Background()
	saveTool := NewSaveMemoryTool(zap.NewNop())
	if _, err := saveTool.Execute(ctx, map[string]interface{}{"fact": "deploys happen on Fridays at noon"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	searchTool := NewSearchMemoryTool(zap.NewNop())
	res, err := searchTool.Execute(ctx, map[string]interface{}{"query": "Fridays"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected successful search, got %+v", res)
	}
	if res.Output == "No matching memories found" {
		t.Fatal("expected the saved fact to be found by substring search")
	}
}

func TestSearchMemoryTool_NoVault_FallsBackToLegacyStore(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	SetGlobalVault(nil)
	searchTool := NewSearchMemoryTool(zap.NewNop())
	res, err := searchTool.Execute(context.Background(), map[string]interface{}{"query": "nonexistent-xyz-query"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected graceful no-match result, got %+v", res)
	}
}
