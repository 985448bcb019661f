package kv

import (
	"context"
	"errors"
	"sort"
	"testing"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "job/missing"); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get missing key: got %v, want ErrKeyNotFound", err)
			}
			if err := store.Set(ctx, "job/a", []byte(`{"id":"a"}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := store.Get(ctx, "job/a")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `{"id":"a"}` {
				t.Fatalf("Get returned %q", got)
			}
			// Last write wins.
			if err := store.Set(ctx, "job/a", []byte(`{"id":"a2"}`)); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, err = store.Get(ctx, "job/a")
			if err != nil {
				t.Fatalf("Get after overwrite: %v", err)
			}
			if string(got) != `{"id":"a2"}` {
				t.Fatalf("overwrite: got %q", got)
			}
		})
	}
}

func TestStoreKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			seed := map[string]string{
				"job/a":  "1",
				"job/b":  "2",
				"card/c": "3",
			}
			for k, v := range seed {
				if err := store.Set(ctx, k, []byte(v)); err != nil {
					t.Fatalf("Set %q: %v", k, err)
				}
			}
			keys, err := store.Keys(ctx, "job/")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			sort.Strings(keys)
			if len(keys) != 2 || keys[0] != "job/a" || keys[1] != "job/b" {
				t.Fatalf("Keys returned %v", keys)
			}
		})
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Set(ctx, "job/a", []byte("x")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := store.Delete(ctx, "job/a"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "job/a"); err != nil {
				t.Fatalf("second Delete should be a no-op: %v", err)
			}
			if _, err := store.Get(ctx, "job/a"); !errors.Is(err, ErrKeyNotFound) {
				t.Fatalf("Get after delete: got %v, want ErrKeyNotFound", err)
			}
		})
	}
}
