// Package adapter implements the closed-set Instance adapter (spec.md C3):
// a uniform interface over a terminal-backed (tmux) or container-backed
// (Docker) Claude Code instance, selected by the instance's Variant tag.
package adapter

import (
	"context"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/containerengine"
	"github.com/cc-bridge/cc-bridge/internal/domain"
)

// Instance is the uniform operation set both variants implement.
type Instance interface {
	IsRunning(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	SendCommandAndWait(ctx context.Context, text string, timeout time.Duration) (success bool, output string, err error)
	Interrupt(ctx context.Context) error
	ClearConversation(ctx context.Context) error

	// GetInfo returns a structured snapshot of the instance's transport
	// metadata, for /status and the operator debug surface.
	GetInfo(ctx context.Context) (Info, error)

	// Cleanup releases any transport resources the adapter holds (FIFOs,
	// buffered connections). Idempotent: safe to call on an instance that
	// was never started, or twice in a row.
	Cleanup(ctx context.Context) error

	// Peek returns a best-effort snapshot of the instance's current raw
	// output without sending a command, for the operator debug live-tail
	// endpoint. It never blocks waiting for new output.
	Peek(ctx context.Context) (string, error)
}

// Info is the structured metadata returned by Instance.GetInfo.
type Info struct {
	Type   string            `json:"type"`
	Name   string            `json:"name"`
	Status string            `json:"status"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Factory builds the correct adapter variant for a domain.Instance.
type Factory struct {
	engine  containerengine.Engine
	pipeDir string
}

// NewFactory builds an adapter Factory. engine may be nil if only terminal
// instances are in use (it is required for the Container variant).
func NewFactory(engine containerengine.Engine, pipeDir string) *Factory {
	return &Factory{engine: engine, pipeDir: pipeDir}
}

// Engine returns the container engine the factory was built with, or nil.
// Used by callers that need to liveness-check a container instance
// directly (registry.GetStatus), rather than through an adapter.
func (f *Factory) Engine() containerengine.Engine {
	if f == nil {
		return nil
	}
	return f.engine
}

// For returns the adapter implementation for inst, per the closed
// {Terminal, Container} tag (spec.md Design Note "polymorphism without
// inheritance" — no base class, a factory switch over the tag instead).
func (f *Factory) For(inst *domain.Instance) (Instance, error) {
	switch inst.Variant {
	case domain.VariantTerminal:
		return NewTerminalAdapter(inst), nil
	case domain.VariantContainer:
		if f.engine == nil {
			return nil, bridgeerr.New(bridgeerr.Internal, "container adapter requested without a container engine")
		}
		return NewContainerAdapter(inst, f.engine, f.pipeDir), nil
	default:
		return nil, bridgeerr.New(bridgeerr.Validation, "unknown instance variant: "+string(inst.Variant))
	}
}
