package registry

import (
	"path/filepath"
	"testing"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/domain"
)

func newTestInstance(name string) *domain.Instance {
	return &domain.Instance{
		Name:        name,
		Variant:     domain.VariantTerminal,
		Status:      domain.StatusRunning,
		TmuxSession: "session-" + name,
	}
}

func TestRegistryOpenCreatesEmptyWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "instances.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatalf("List() = %v, want empty registry", r.List())
	}
}

func TestRegistryCreateGetListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if err := r.Create(newTestInstance("claude-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got := r.Get("claude-1")
	if got == nil || got.Name != "claude-1" {
		t.Fatalf("Get() = %+v, want claude-1", got)
	}
	if len(r.List()) != 1 {
		t.Fatalf("List() len = %d, want 1", len(r.List()))
	}

	r2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	if r2.Get("claude-1") == nil {
		t.Fatal("re-opened registry should have persisted the created instance")
	}
}

func TestRegistryCreateRejectsInvalidInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	r, _ := Open(path)

	err := r.Create(&domain.Instance{Name: "bad", Variant: domain.VariantTerminal})
	if !bridgeerr.Is(err, bridgeerr.Validation) {
		t.Fatalf("Create() error = %v, want a Validation error", err)
	}
}

func TestRegistryUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	r, _ := Open(path)
	r.Create(newTestInstance("claude-1"))

	ok, err := r.Update("claude-1", func(inst *domain.Instance) {
		inst.Status = domain.StatusStopped
	})
	if err != nil || !ok {
		t.Fatalf("Update() = (%v, %v), want (true, nil)", ok, err)
	}
	if r.Get("claude-1").Status != domain.StatusStopped {
		t.Fatalf("Status = %v, want stopped", r.Get("claude-1").Status)
	}

	ok, err = r.Update("missing", func(*domain.Instance) {})
	if err != nil || ok {
		t.Fatalf("Update() on unknown instance = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRegistryDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	r, _ := Open(path)
	r.Create(newTestInstance("claude-1"))

	ok, err := r.Delete("claude-1")
	if err != nil || !ok {
		t.Fatalf("Delete() = (%v, %v), want (true, nil)", ok, err)
	}
	if r.Get("claude-1") != nil {
		t.Fatal("instance should be gone after Delete")
	}

	ok, err = r.Delete("claude-1")
	if err != nil || ok {
		t.Fatalf("second Delete() = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRegistryMergeDoesNotOverwriteExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	r, _ := Open(path)

	existing := newTestInstance("claude-1")
	existing.Status = domain.StatusStopped
	r.Create(existing)

	discovered := []*domain.Instance{
		newTestInstance("claude-1"),
		newTestInstance("claude-2"),
	}
	added, err := r.Merge(discovered)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1 (only claude-2 is new)", added)
	}
	if r.Get("claude-1").Status != domain.StatusStopped {
		t.Fatal("Merge should not overwrite the existing claude-1 entry")
	}
	if r.Get("claude-2") == nil {
		t.Fatal("Merge should have added claude-2")
	}
}
