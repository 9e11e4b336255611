package cache

import (
	"context"
	"testing"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/backend/memory"
	"splitledger/internal/core"
)

func testStore() *memory.Store {
	return memory.New(
		[]core.User{{ID: 1, Name: "Alice"}},
		map[int][]string{1: {"Food"}},
	)
}

func TestDirectoryCachesCategoryLists(t *testing.T) {
	store := testStore()
	b := WrapBackend(store, time.Minute)
	ctx := context.Background()

	first, err := b.ListCategories(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Mutate the store behind the cache's back; the cached list wins.
	if err := store.CreateCategory(ctx, "Sneaky", 1); err != nil {
		t.Fatalf("seed: %v", err)
	}
	second, err := b.ListCategories(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("cached list should not see backend-side writes: %v vs %v", second, first)
	}
}

func TestDirectoryCreateInvalidatesLevel(t *testing.T) {
	store := testStore()
	b := WrapBackend(store, time.Minute)
	ctx := context.Background()

	if _, err := b.ListCategories(ctx, 1); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if err := b.CreateCategory(ctx, "Pets", 1); err != nil {
		t.Fatalf("create: %v", err)
	}
	names, err := b.ListCategories(ctx, 1)
	if err != nil {
		t.Fatalf("list after create: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "Pets" {
			found = true
		}
	}
	if !found {
		t.Fatalf("created category not visible after invalidation: %v", names)
	}
}

func TestDirectoryCachesUsers(t *testing.T) {
	store := testStore()
	b := WrapBackend(store, time.Minute)
	ctx := context.Background()

	users, err := b.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Name != "Alice" {
		t.Fatalf("unexpected users: %v", users)
	}
	// Returned slices are copies; mutating one must not poison the cache.
	users[0].Name = "Mallory"
	again, _ := b.ListUsers(ctx)
	if again[0].Name != "Alice" {
		t.Fatalf("cache entry mutated through returned slice")
	}
}

func TestWrappedBackendPassesThroughOtherCalls(t *testing.T) {
	store := testStore()
	b := WrapBackend(store, time.Minute)
	ctx := context.Background()

	id, err := b.CreatePurchase(ctx, purchasePayload(), nil)
	if err != nil {
		t.Fatalf("create purchase: %v", err)
	}
	rec, err := b.GetPurchase(ctx, id)
	if err != nil {
		t.Fatalf("get purchase: %v", err)
	}
	if rec.Purchase.Name != "Groceries" {
		t.Fatalf("pass-through broken: %+v", rec.Purchase)
	}
}

func purchasePayload() backend.PurchasePayload {
	return backend.PurchasePayload{
		Name:    "Groceries",
		Date:    core.NewDate(2025, 6, 1),
		PayerID: 1,
	}
}
