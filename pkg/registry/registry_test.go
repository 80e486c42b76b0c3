package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type testEntry struct {
	id   string
	name string
}

func (e *testEntry) GetID() string { return e.id }

func TestNew(t *testing.T) {
	reg := New[*testEntry]()

	if reg == nil {
		t.Fatal("expected registry to be created")
	}

	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d entries", reg.Count())
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := New[*testEntry]()

	if err := reg.Register(&testEntry{id: "ws-1", name: "first"}); err != nil {
		t.Fatalf("failed to register entry: %v", err)
	}

	if reg.Count() != 1 {
		t.Errorf("expected 1 entry, got %d", reg.Count())
	}

	// Duplicate ID
	if err := reg.Register(&testEntry{id: "ws-1"}); err == nil {
		t.Error("expected error for duplicate ID")
	}

	// Empty ID
	if err := reg.Register(&testEntry{name: "no-id"}); err == nil {
		t.Error("expected error for entry without ID")
	}
}

func TestRegistry_Get(t *testing.T) {
	reg := New[*testEntry]()
	reg.Register(&testEntry{id: "ws-1", name: "first"})

	got, err := reg.Get("ws-1")
	if err != nil {
		t.Fatalf("failed to get entry: %v", err)
	}
	if got.name != "first" {
		t.Errorf("expected name first, got %s", got.name)
	}

	if _, err := reg.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := reg.Get(""); err == nil {
		t.Error("expected error for empty ID")
	}
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	reg := New[*testEntry]()
	for _, id := range []string{"c", "a", "b"} {
		reg.Register(&testEntry{id: id})
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	for i, want := range []string{"c", "a", "b"} {
		if list[i].id != want {
			t.Errorf("position %d: expected %s, got %s", i, want, list[i].id)
		}
	}

	// Mutating the returned slice must not affect the registry
	list[0] = &testEntry{id: "zzz"}
	if reg.List()[0].id != "c" {
		t.Error("external modification affected internal order")
	}
}

func TestRegistry_Deregister(t *testing.T) {
	reg := New[*testEntry]()
	reg.Register(&testEntry{id: "a"})
	reg.Register(&testEntry{id: "b"})

	removed, err := reg.Deregister("a")
	if err != nil {
		t.Fatalf("failed to deregister entry: %v", err)
	}
	if removed.id != "a" {
		t.Errorf("expected removed entry a, got %s", removed.id)
	}

	if _, err := reg.Get("a"); !errors.Is(err, ErrNotFound) {
		t.Error("entry a should be gone")
	}
	if list := reg.List(); len(list) != 1 || list[0].id != "b" {
		t.Errorf("unexpected list after deregister: %v", list)
	}

	if _, err := reg.Deregister("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := reg.Deregister(""); err == nil {
		t.Error("expected error for empty ID")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := New[*testEntry]()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ws-%d", i)
			if err := reg.Register(&testEntry{id: id}); err != nil {
				t.Errorf("register %s: %v", id, err)
			}
			reg.List()
			reg.Get(id)
		}(i)
	}
	wg.Wait()

	if reg.Count() != 50 {
		t.Errorf("expected 50 entries, got %d", reg.Count())
	}
}
