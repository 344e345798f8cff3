package adapter

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
	"github.com/cc-bridge/cc-bridge/internal/containerengine"
	"github.com/cc-bridge/cc-bridge/internal/domain"
	"github.com/cc-bridge/cc-bridge/internal/pipe"
)

// ContainerAdapter drives a Claude Code instance running inside a Docker
// container, in one of two communication modes: named-pipe ("daemon",
// talking to the in-container agentd supervisor) or exec ("legacy",
// attaching a one-shot `docker exec` per command, kept for images that
// predate agentd). Only one command may be in flight at a time per
// instance, enforced by mu.
type ContainerAdapter struct {
	instance *domain.Instance
	engine   containerengine.Engine
	channel  *pipe.Channel

	mu sync.Mutex
}

// NewContainerAdapter builds the Docker-backed adapter for inst.
func NewContainerAdapter(inst *domain.Instance, engine containerengine.Engine, pipeDir string) *ContainerAdapter {
	a := &ContainerAdapter{instance: inst, engine: engine}
	if inst.CommMode == domain.CommFIFO {
		a.channel = pipe.New(inst.Name, pipeDir)
	}
	return a
}

// IsRunning reports whether the backing container is running.
func (a *ContainerAdapter) IsRunning(ctx context.Context) (bool, error) {
	return a.engine.IsRunning(ctx, a.instance.ContainerID)
}

// Start does not create or start containers: it returns nil when the
// backing container is already running and a Conflict error when it is not.
// The adapter only talks to an already-running container.
func (a *ContainerAdapter) Start(ctx context.Context) error {
	running, err := a.IsRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		return bridgeerr.New(bridgeerr.Conflict, "container instance is not running; recreate via the registry")
	}
	return nil
}

// SendCommandAndWait dispatches text through the instance's communication
// mode and waits for a response.
func (a *ContainerAdapter) SendCommandAndWait(ctx context.Context, text string, timeout time.Duration) (bool, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel != nil {
		return a.sendViaFIFO(ctx, text, timeout)
	}
	return a.sendViaExec(ctx, text, timeout)
}

func (a *ContainerAdapter) sendViaFIFO(ctx context.Context, text string, timeout time.Duration) (bool, string, error) {
	var sb strings.Builder
	for line, err := range a.channel.SendAndReceive(ctx, text, timeout) {
		if err != nil {
			if bridgeerr.Is(err, bridgeerr.Timeout) && sb.Len() > 0 {
				// Partial response preserved on timeout: the text read so
				// far is returned together with the timeout error.
				return false, sb.String(), err
			}
			return false, sb.String(), err
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	return true, sb.String(), nil
}

// sendViaExec attaches a one-shot exec session running the Claude Code CLI
// in print mode, per the legacy (pre-agentd) communication path.
func (a *ContainerAdapter) sendViaExec(ctx context.Context, text string, timeout time.Duration) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, conn, err := a.engine.ExecAttached(ctx, a.instance.ContainerID, []string{"claude", "--print", text})
	if err != nil {
		return false, "", err
	}
	defer conn.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(scanner.Text())
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return false, sb.String(), bridgeerr.Wrap(bridgeerr.Transport, "exec output read", err)
	}
	return true, sb.String(), nil
}

// Interrupt sends a 0x03 byte over the FIFO, or is a no-op for exec mode
// (each exec call is already a single bounded command).
func (a *ContainerAdapter) Interrupt(ctx context.Context) error {
	if a.channel != nil {
		return a.channel.Interrupt(ctx, 5*time.Second)
	}
	return nil
}

// ClearConversation issues the Claude Code /clear command through whichever
// transport is active.
func (a *ContainerAdapter) ClearConversation(ctx context.Context) error {
	_, _, err := a.SendCommandAndWait(ctx, "/clear", 10*time.Second)
	return err
}

// Peek returns whatever output is immediately available on the FIFO
// without sending a command, or an empty string for exec mode (there is
// no standing output stream to sample between commands).
func (a *ContainerAdapter) Peek(ctx context.Context) (string, error) {
	if a.channel == nil {
		return "", nil
	}
	var sb strings.Builder
	for line, err := range a.channel.ReadResponse(ctx, 200*time.Millisecond) {
		if err != nil {
			if bridgeerr.Is(err, bridgeerr.Timeout) {
				break
			}
			return sb.String(), err
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(line)
	}
	return sb.String(), nil
}

// GetInfo reports the container's id, image, and communication mode.
func (a *ContainerAdapter) GetInfo(ctx context.Context) (Info, error) {
	info, err := a.engine.Inspect(ctx, a.instance.ContainerID)
	if err != nil {
		return Info{
			Type:   "docker",
			Name:   a.instance.Name,
			Status: "error",
			Fields: map[string]string{"error": err.Error()},
		}, nil
	}
	status := "stopped"
	if info.Running {
		status = "running"
	}
	return Info{
		Type:   "docker",
		Name:   a.instance.Name,
		Status: status,
		Fields: map[string]string{
			"container_id":      info.ID,
			"container_name":    info.Name,
			"image_name":        info.Image,
			"communication_mode": string(a.instance.CommMode),
		},
	}, nil
}

// Cleanup releases the FIFO pair backing a daemon-mode instance, if any.
// It is a no-op for exec-mode instances and safe to call repeatedly.
func (a *ContainerAdapter) Cleanup(ctx context.Context) error {
	if a.channel == nil {
		return nil
	}
	return a.channel.Close()
}
