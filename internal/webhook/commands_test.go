package webhook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cc-bridge/cc-bridge/internal/adapter"
	"github.com/cc-bridge/cc-bridge/internal/domain"
	"github.com/cc-bridge/cc-bridge/internal/registry"
)

// testFactory builds an adapter.Factory with no container engine, which is
// enough for tests that only exercise terminal-variant selection logic;
// selectInstance falls back to the stored status for container instances
// when no engine is configured.
func testFactory() *adapter.Factory {
	return adapter.NewFactory(nil, "")
}

func newTestRegistry(t *testing.T, instances ...*domain.Instance) *registry.Registry {
	t.Helper()
	r, err := registry.Open(filepath.Join(t.TempDir(), "instances.json"))
	if err != nil {
		t.Fatalf("registry.Open() error = %v", err)
	}
	for _, inst := range instances {
		if err := r.Create(inst); err != nil {
			t.Fatalf("registry.Create() error = %v", err)
		}
	}
	return r
}

func TestSelectInstancePrefersRunningOverStopped(t *testing.T) {
	reg := newTestRegistry(t,
		&domain.Instance{Name: "stopped-1", Variant: domain.VariantTerminal, TmuxSession: "s1", Status: domain.StatusStopped},
		&domain.Instance{Name: "running-1", Variant: domain.VariantTerminal, TmuxSession: "s2", Status: domain.StatusRunning, PID: os.Getpid()},
	)
	d := New(Config{Registry: reg, Factory: testFactory()})

	got := d.selectInstance(context.Background())
	if got == nil || got.Name != "running-1" {
		t.Fatalf("selectInstance() = %+v, want running-1", got)
	}
}

func TestSelectInstanceFallsBackToStopped(t *testing.T) {
	reg := newTestRegistry(t,
		&domain.Instance{Name: "stopped-1", Variant: domain.VariantTerminal, TmuxSession: "s1", Status: domain.StatusStopped},
	)
	d := New(Config{Registry: reg, Factory: testFactory()})

	got := d.selectInstance(context.Background())
	if got == nil || got.Name != "stopped-1" {
		t.Fatalf("selectInstance() = %+v, want stopped-1", got)
	}
}

func TestSelectInstanceReturnsNilWhenEmpty(t *testing.T) {
	reg := newTestRegistry(t)
	d := New(Config{Registry: reg, Factory: testFactory()})

	if got := d.selectInstance(context.Background()); got != nil {
		t.Fatalf("selectInstance() = %+v, want nil", got)
	}
}

func TestSelectInstancePrefersConfiguredVariantAmongRunning(t *testing.T) {
	reg := newTestRegistry(t,
		&domain.Instance{Name: "terminal-1", Variant: domain.VariantTerminal, TmuxSession: "s1", Status: domain.StatusRunning, PID: os.Getpid()},
		&domain.Instance{Name: "container-1", Variant: domain.VariantContainer, ContainerID: "c1", Status: domain.StatusRunning},
	)
	d := New(Config{Registry: reg, DockerPreferred: true, Factory: testFactory()})

	got := d.selectInstance(context.Background())
	if got == nil || got.Name != "container-1" {
		t.Fatalf("selectInstance() with DockerPreferred = %+v, want container-1", got)
	}
}

func TestPreferVariant(t *testing.T) {
	instances := []*domain.Instance{
		{Name: "terminal-1", Variant: domain.VariantTerminal},
		{Name: "container-1", Variant: domain.VariantContainer},
	}

	if got := preferVariant(instances, false); got == nil || got.Name != "terminal-1" {
		t.Fatalf("preferVariant(false) = %+v, want terminal-1", got)
	}
	if got := preferVariant(instances, true); got == nil || got.Name != "container-1" {
		t.Fatalf("preferVariant(true) = %+v, want container-1", got)
	}
	if got := preferVariant(nil, true); got != nil {
		t.Fatalf("preferVariant(nil) = %+v, want nil", got)
	}
}
