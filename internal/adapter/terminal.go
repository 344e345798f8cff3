package adapter

import (
	"context"
	"strconv"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/domain"
	"github.com/cc-bridge/cc-bridge/internal/tmuxctl"
)

// TerminalAdapter drives a Claude Code instance running interactively inside
// a tmux session, using pane-content delta extraction to read responses.
type TerminalAdapter struct {
	instance *domain.Instance
	session  *tmuxctl.Session
}

// NewTerminalAdapter builds the tmux-backed adapter for inst.
func NewTerminalAdapter(inst *domain.Instance) *TerminalAdapter {
	return &TerminalAdapter{
		instance: inst,
		session:  tmuxctl.New(inst.Name),
	}
}

// IsRunning reports whether the backing tmux session exists.
func (a *TerminalAdapter) IsRunning(ctx context.Context) (bool, error) {
	return a.session.Exists(ctx), nil
}

// Start creates the tmux session and launches the Claude Code CLI in it.
func (a *TerminalAdapter) Start(ctx context.Context) error {
	return a.session.Create(ctx, a.instance.Cwd, "claude")
}

// SendCommandAndWait types text into the session and waits for the output
// to settle, returning the extracted response text.
func (a *TerminalAdapter) SendCommandAndWait(ctx context.Context, text string, timeout time.Duration) (bool, string, error) {
	return a.session.SendCommandAndWait(ctx, text, timeout)
}

// Interrupt sends Ctrl-C to the session.
func (a *TerminalAdapter) Interrupt(ctx context.Context) error {
	return a.session.Interrupt(ctx)
}

// ClearConversation sends Claude Code's /clear slash command.
func (a *TerminalAdapter) ClearConversation(ctx context.Context) error {
	return a.session.SendCommand(ctx, "/clear")
}

// GetInfo reports the tmux session's name, pid, and working directory.
func (a *TerminalAdapter) GetInfo(ctx context.Context) (Info, error) {
	status := "stopped"
	if a.session.Exists(ctx) {
		status = "running"
	}
	return Info{
		Type:   "tmux",
		Name:   a.instance.Name,
		Status: status,
		Fields: map[string]string{
			"session": a.instance.TmuxSession,
			"pid":     strconv.Itoa(a.instance.PID),
			"cwd":     a.instance.Cwd,
		},
	}, nil
}

// Cleanup is a no-op: a tmux session holds no transport resources beyond
// the session itself, which outlives the adapter by design.
func (a *TerminalAdapter) Cleanup(ctx context.Context) error {
	return nil
}

// Peek returns the tmux pane's current contents.
func (a *TerminalAdapter) Peek(ctx context.Context) (string, error) {
	return a.session.PaneOutput(ctx)
}
