package session

import (
	"context"
	"testing"

	"github.com/cipherchat/dm-app/internal/auth"
)

// newTestStore creates a Store connected to a local Redis instance. Tests
// that call this helper skip when Redis is unavailable.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore("localhost:6379", "relay-test")
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}

	ctx := context.Background()
	cleanup := func() {
		iter := store.Client().Scan(ctx, 0, PresencePrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			store.Client().Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		store.Close()
	})
	return store
}

func TestPresence_CreateGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := auth.Identity{ID: 42, Username: "alice"}
	if err := store.Create(ctx, "test_conn_1", identity); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	p, err := store.Get(ctx, "test_conn_1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p == nil {
		t.Fatal("expected presence record, got nil")
	}
	if p.UserID != 42 || p.Username != "alice" {
		t.Errorf("unexpected record: %+v", p)
	}
	if p.Server != "relay-test" {
		t.Errorf("expected server %q, got %q", "relay-test", p.Server)
	}

	if err := store.Delete(ctx, "test_conn_1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	p, err = store.Get(ctx, "test_conn_1")
	if err != nil {
		t.Fatalf("Get() after delete error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil after delete, got %+v", p)
	}
}

func TestPresence_GetMissing(t *testing.T) {
	store := newTestStore(t)

	p, err := store.Get(context.Background(), "test_conn_missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for unknown connection, got %+v", p)
	}
}

func TestPresence_Touch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "test_conn_2", auth.Identity{ID: 7, Username: "bob"}); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Touch(ctx, "test_conn_2"); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	ttl, err := store.Client().TTL(ctx, PresencePrefix+"test_conn_2").Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("expected positive TTL after touch, got %v", ttl)
	}
}
