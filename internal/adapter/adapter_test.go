package adapter

import (
	"testing"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/domain"
)

func TestFactoryForTerminal(t *testing.T) {
	f := NewFactory(nil, "/tmp/pipes")
	inst := &domain.Instance{Name: "claude-1", Variant: domain.VariantTerminal, TmuxSession: "s1"}

	got, err := f.For(inst)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}
	if _, ok := got.(*TerminalAdapter); !ok {
		t.Fatalf("For() returned %T, want *TerminalAdapter", got)
	}
}

func TestFactoryForContainerRequiresEngine(t *testing.T) {
	f := NewFactory(nil, "/tmp/pipes")
	inst := &domain.Instance{Name: "claude-2", Variant: domain.VariantContainer, ContainerID: "c1"}

	_, err := f.For(inst)
	if !bridgeerr.Is(err, bridgeerr.Internal) {
		t.Fatalf("For() error = %v, want an Internal error when engine is nil", err)
	}
}

func TestFactoryForUnknownVariant(t *testing.T) {
	f := NewFactory(nil, "/tmp/pipes")
	inst := &domain.Instance{Name: "claude-3", Variant: "bogus"}

	_, err := f.For(inst)
	if !bridgeerr.Is(err, bridgeerr.Validation) {
		t.Fatalf("For() error = %v, want a Validation error for an unknown variant", err)
	}
}
