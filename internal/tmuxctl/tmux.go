// Package tmuxctl wraps the tmux CLI to drive a Claude Code terminal session:
// create/kill sessions, send keystrokes, and extract the text a command
// produced by diffing pane snapshots around a known-stable prompt.
package tmuxctl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
)

const (
	socketDirName  = "bridge"
	socketFileName = "tmux.sock"

	pollInterval          = time.Second
	minWaitTime           = 2 * time.Second
	requiredStableChecks  = 3
	promptSearchLastLines = 5
)

var promptMarkers = []string{"❯", ">", "»"}

// Session drives one tmux session named "claude-<instance>".
type Session struct {
	InstanceName string
	TmuxName     string
	socketPath   string
	logger       *slog.Logger
}

// New builds a Session descriptor for the given instance name.
func New(instanceName string) *Session {
	home, _ := os.UserHomeDir()
	return &Session{
		InstanceName: instanceName,
		TmuxName:     "claude-" + instanceName,
		socketPath:   filepath.Join(home, ".claude", socketDirName, socketFileName),
		logger:       slog.Default().With("instance", instanceName, "tmux_session", "claude-"+instanceName),
	}
}

func (s *Session) run(ctx context.Context, args ...string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o770); err != nil {
		return "", bridgeerr.Wrap(bridgeerr.Transport, "create tmux socket dir", err)
	}
	full := append([]string{"-S", s.socketPath}, args...)
	cmd := exec.CommandContext(ctx, "tmux", full...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return out.String(), bridgeerr.Wrap(bridgeerr.Transport, fmt.Sprintf("tmux %s: %s", strings.Join(args, " "), stderr.String()), err)
	}
	return out.String(), nil
}

// Exists reports whether the tmux session is alive.
func (s *Session) Exists(ctx context.Context) bool {
	_, err := s.run(ctx, "has-session", "-t", s.TmuxName)
	return err == nil
}

// Create starts a new detached tmux session rooted at cwd (if non-empty)
// and running command (if non-empty, else the user's default shell).
func (s *Session) Create(ctx context.Context, cwd, command string) error {
	if s.Exists(ctx) {
		return nil
	}
	args := []string{"new-session", "-d", "-s", s.TmuxName}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	if command != "" {
		args = append(args, command)
	}
	_, err := s.run(ctx, args...)
	if err != nil {
		return err
	}
	s.logger.Info("tmux session created")
	return nil
}

// Kill terminates the tmux session. Idempotent: a missing session is not
// an error.
func (s *Session) Kill(ctx context.Context) error {
	if !s.Exists(ctx) {
		return nil
	}
	_, err := s.run(ctx, "kill-session", "-t", s.TmuxName)
	return err
}

// SendKeys sends raw keys without pressing Enter.
func (s *Session) SendKeys(ctx context.Context, keys string) error {
	_, err := s.run(ctx, "send-keys", "-t", s.TmuxName, keys)
	return err
}

// SendCommand types text and presses Enter.
func (s *Session) SendCommand(ctx context.Context, text string) error {
	_, err := s.run(ctx, "send-keys", "-t", s.TmuxName, text, "Enter")
	return err
}

// Interrupt sends Ctrl-C.
func (s *Session) Interrupt(ctx context.Context) error {
	_, err := s.run(ctx, "send-keys", "-t", s.TmuxName, "C-c")
	return err
}

// PaneOutput returns the full captured pane content.
func (s *Session) PaneOutput(ctx context.Context) (string, error) {
	return s.run(ctx, "capture-pane", "-t", s.TmuxName, "-p", "-S", "-")
}

// LastLines returns the last n lines of the pane.
func (s *Session) LastLines(ctx context.Context, n int) ([]string, error) {
	out, err := s.PaneOutput(ctx)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// SendCommandAndWait sends text, then polls the pane until output has
// settled (three consecutive stable hashes, each separated by pollInterval,
// with at least minWaitTime elapsed) or timeout expires. It then extracts
// the text the command produced: the "echo boundary" is the last of the
// final promptSearchLastLines lines that contains both the command text and
// a prompt marker; everything after that line, minus trailing prompt lines
// and box-drawing separator lines, is returned.
func (s *Session) SendCommandAndWait(ctx context.Context, text string, timeout time.Duration) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	before, err := s.PaneOutput(ctx)
	if err != nil {
		return false, "", err
	}
	beforeLines := strings.Split(before, "\n")
	beforeSet := make(map[string]struct{}, len(beforeLines))
	for _, l := range beforeLines {
		beforeSet[l] = struct{}{}
	}

	if err := s.SendCommand(ctx, text); err != nil {
		return false, "", err
	}

	beforeHash := sha256.Sum256([]byte(before))

	start := time.Now()
	var lastHash [32]byte
	stableCount := 0

	for {
		select {
		case <-ctx.Done():
			out, _ := s.PaneOutput(ctx)
			return false, extractOutput(out, beforeSet, text), bridgeerr.New(bridgeerr.Timeout, "command did not settle before timeout")
		case <-time.After(pollInterval):
		}

		out, err := s.PaneOutput(ctx)
		if err != nil {
			return false, "", err
		}
		hash := sha256.Sum256([]byte(out))

		// Stability requires both an unchanged hash across polls *and* the
		// pane's tail actually being a bare prompt marker: a long pause
		// between streamed tokens can leave the hash unchanged for several
		// polls while the agent is still mid-response, not back at a prompt.
		if hash == lastHash && paneEndsAtPrompt(out) {
			stableCount++
		} else {
			stableCount = 0
			lastHash = hash
		}

		// A poll only counts toward settling once the pane has actually
		// changed from its pre-command snapshot: otherwise a slow-starting
		// response can be mistaken for "stable" while the screen still
		// shows the old, pre-command content.
		if hash == beforeHash {
			continue
		}

		if stableCount >= requiredStableChecks && time.Since(start) >= minWaitTime {
			return true, extractOutput(out, beforeSet, text), nil
		}
	}
}

// paneEndsAtPrompt reports whether the last non-blank of the pane's final
// promptSearchLastLines lines is a bare prompt marker, i.e. the terminal
// has actually returned control rather than merely gone quiet mid-response.
func paneEndsAtPrompt(pane string) bool {
	lines := strings.Split(strings.TrimRight(pane, "\n"), "\n")
	start := len(lines) - promptSearchLastLines
	if start < 0 {
		start = 0
	}
	for i := len(lines) - 1; i >= start; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		return isPromptOnly(trimmed)
	}
	return false
}

func extractOutput(pane string, beforeSet map[string]struct{}, command string) string {
	lines := strings.Split(strings.TrimRight(pane, "\n"), "\n")

	boundary := findEchoBoundary(lines, command)
	var body []string
	if boundary >= 0 {
		body = lines[boundary+1:]
	} else {
		// Fallback: keep only lines not present in the pre-command snapshot.
		for _, l := range lines {
			if _, seen := beforeSet[l]; !seen {
				body = append(body, l)
			}
		}
	}

	body = stripTrailingPromptLines(body)
	return strings.TrimSpace(strings.Join(body, "\n"))
}

// findEchoBoundary searches the last promptSearchLastLines lines for the one
// containing both the command text and a prompt marker, returning its index
// in the full lines slice (or -1 if not found).
func findEchoBoundary(lines []string, command string) int {
	start := len(lines) - promptSearchLastLines
	if start < 0 {
		start = 0
	}
	for i := len(lines) - 1; i >= start; i-- {
		if strings.Contains(lines[i], command) && containsPromptMarker(lines[i]) {
			return i
		}
	}
	return -1
}

func containsPromptMarker(line string) bool {
	for _, m := range promptMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func stripTrailingPromptLines(lines []string) []string {
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" {
			lines = lines[:len(lines)-1]
			continue
		}
		if isPromptOnly(last) || isSeparatorLine(last) {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	return lines
}

func isPromptOnly(line string) bool {
	for _, m := range promptMarkers {
		if line == m {
			return true
		}
	}
	if !startsWithAny(line, promptMarkers) || len(line) >= 20 {
		return false
	}
	alnumOrSpace := 0
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			alnumOrSpace++
		}
	}
	return alnumOrSpace < 5
}

func startsWithAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

const boxDrawingChars = "─═━│┌┐└┘"

func isSeparatorLine(line string) bool {
	if len(line) <= 10 {
		return false
	}
	boxCount, total := 0, 0
	for _, r := range line {
		total++
		if strings.ContainsRune(boxDrawingChars, r) {
			boxCount++
		}
	}
	return boxCount > 3 && boxCount*2 > total
}
