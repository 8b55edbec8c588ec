package catalog

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreContract(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	rec := NewBuilder().Build(nil, map[string]any{"k": "v"}, Fields{Name: "x", Tags: "a"}, "mem://1")

	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	rec.Name = "mutated after create"
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "x" {
		t.Fatalf("store aliased caller record")
	}

	next := got.Clone()
	next.Downloads = 1
	next.Version = 2
	if err := store.CompareAndSwap(ctx, next, 5); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
	if err := store.CompareAndSwap(ctx, next, 1); err != nil {
		t.Fatalf("cas: %v", err)
	}
	if err := store.CompareAndSwap(ctx, next, 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on replay, got %v", err)
	}
	missing := next.Clone()
	missing.ID = "bot_missing"
	if err := store.CompareAndSwap(ctx, missing, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	all, err := store.List(ctx)
	if err != nil || len(all) != 1 || all[0].Downloads != 1 {
		t.Fatalf("unexpected list %v err=%v", all, err)
	}
}
