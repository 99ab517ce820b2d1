package persistence

import (
	"testing"

	"go.uber.org/zap"
)

func TestVaultStore_PutAndGetLatest(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVaultStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	defer v.Close()

	if _, err := v.Put("greeting", "hello", "note"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	entry, err := v.Put("greeting", "hello world", "note")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if entry.Version != 2 {
		t.Fatalf("expected version 2 after second put, got %d", entry.Version)
	}

	latest, ok := v.Get("greeting")
	if !ok {
		t.Fatal("expected latest entry to exist")
	}
	if latest.Value != "hello world" || latest.Version != 2 {
		t.Fatalf("unexpected latest entry: %+v", latest)
	}
}

func TestVaultStore_SupersededVersionsSurviveInHistory(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVaultStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	defer v.Close()

	v.Put("k", "v1", "note")
	v.Put("k", "v2", "note")
	v.Put("k", "v3", "note")

	old, ok := v.GetVersion("k", 1)
	if !ok || old.Value != "v1" {
		t.Fatalf("expected version 1 to still be retrievable, got %+v ok=%v", old, ok)
	}
}

func TestVaultStore_ReplaysExistingLogOnReopen(t *testing.T) {
	dir := t.TempDir()

	v1, err := NewVaultStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	v1.Put("a", "1", "note")
	v1.Put("b", "2", "note")
	if err := v1.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	v2, err := NewVaultStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to reopen vault: %v", err)
	}
	defer v2.Close()

	if _, ok := v2.Get("a"); !ok {
		t.Fatal("expected key 'a' to survive reopen via replay")
	}
	keys := v2.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys after replay, got %d (%v)", len(keys), keys)
	}
}

func TestVaultStore_SearchMatchesSubstringAndRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVaultStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	defer v.Close()

	v.Put("fact:1", "likes dark mode", "memory_fact")
	v.Put("fact:2", "prefers tabs over spaces", "memory_fact")
	v.Put("fact:3", "likes concise replies", "memory_fact")

	results := v.Search("likes", 1)
	if len(results) != 1 {
		t.Fatalf("expected limit of 1 result, got %d", len(results))
	}

	all := v.Search("likes", 0)
	if len(all) != 2 {
		t.Fatalf("expected 2 unlimited matches, got %d", len(all))
	}
}

func TestVaultStore_ListKindFiltersByKind(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVaultStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}
	defer v.Close()

	v.Put("fact:1", "a", "memory_fact")
	v.Put("context", "b", "memory_context")

	facts := v.ListKind("memory_fact")
	if len(facts) != 1 {
		t.Fatalf("expected 1 memory_fact entry, got %d", len(facts))
	}
}
