package core

import (
	"context"
	"path/filepath"
	"testing"

	"dragonfarm/internal/infra/persistence/memory"
	"dragonfarm/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreDrivers(t *testing.T) {
	engine := NewDefaultRulesEngine(testRegistry(t))

	store, err := OpenPersistentStore(StorageConfig{Driver: StorageMemory}, engine)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "farm.db")
	store, err = OpenPersistentStore(StorageConfig{SQLitePath: path}, engine)
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	sq, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store for empty driver, got %T", store)
	}
	t.Cleanup(func() { _ = sq.Close() })

	if _, err := OpenPersistentStore(StorageConfig{Driver: "etcd"}, engine); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestServiceSurvivesSQLiteReopen(t *testing.T) {
	registry := testRegistry(t)
	path := filepath.Join(t.TempDir(), "farm.db")
	cfg := StorageConfig{Driver: StorageSQLite, SQLitePath: path}

	store, err := OpenPersistentStore(cfg, NewDefaultRulesEngine(registry))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	svc := NewService(store, registry)
	mustRegister(t, svc, pyro())
	if err := store.(*sqlite.Store).Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenPersistentStore(cfg, NewDefaultRulesEngine(registry))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.(*sqlite.Store).Close() })
	profile, err := NewService(reopened, registry).GetDragon(context.Background(), pyro().ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if profile.Dragon.Name != "Pyro" || profile.Genotype[3].A != "s" {
		t.Fatalf("unexpected reloaded profile %+v", profile)
	}
}
