// Package containerengine wraps the Docker API for the subset of
// operations the bridge needs: inspecting/stopping instance containers,
// running one-shot or attached execs inside them, and discovering
// containers that belong to Claude instances.
package containerengine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/cc-bridge/cc-bridge/internal/bridgeerr"
)

// Default network created for instance containers when none is configured.
const (
	DefaultNetworkName = "cc-bridge"
	DefaultSubnet      = "172.29.0.0/16"

	retryMaxAttempts = 4
	retryBaseDelay   = 200 * time.Millisecond
	retryMaxDelay    = 2 * time.Second
)

// ContainerInfo is the subset of Docker inspect state the bridge cares about.
type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	Running bool
}

// ContainerSummary is a lightweight listing entry used by discovery.
type ContainerSummary struct {
	ID     string
	Name   string
	Image  string
	Labels map[string]string
}

// Engine is the container-runtime facade consumed by the adapter, health
// monitor, and registry discovery.
type Engine interface {
	Inspect(ctx context.Context, containerID string) (ContainerInfo, error)
	IsRunning(ctx context.Context, containerID string) (bool, error)
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	EnsureNetwork(ctx context.Context, name, subnet string) (string, error)

	ListAll(ctx context.Context) ([]ContainerSummary, error)
	ListByLabel(ctx context.Context, label string) ([]ContainerSummary, error)

	// ProcessRunning reports whether a process matching substr appears in
	// the container's process listing (discovery strategy 3 / health check).
	ProcessRunning(ctx context.Context, containerID, substr string) (bool, error)

	// ExecAttached starts cmd inside containerID with stdio piped, used by
	// the legacy (non-FIFO) adapter mode.
	ExecAttached(ctx context.Context, containerID string, cmd []string) (execID string, conn io.ReadWriteCloser, err error)

	Client() *client.Client
}

// DockerEngine implements Engine using the real Docker API.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine builds a Docker-backed engine from the ambient environment
// (DOCKER_HOST, etc.), negotiating the API version like the rest of the pack.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

func (e *DockerEngine) Client() *client.Client { return e.cli }

// withRetry retries op against the backoff policy from spec.md §4 ("retryable
// errors ... retry up to max_retries with backoff base * backoff^n"),
// classifying errors with errdefs so NotFound/permission failures fail fast.
func withRetry(ctx context.Context, op func() error) error {
	wrapped := func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseDelay
	policy.MaxInterval = retryMaxDelay

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(retryMaxAttempts),
	)
	return err
}

func isRetryable(err error) bool {
	switch {
	case errdefs.IsNotFound(err), errdefs.IsPermissionDenied(err), errdefs.IsInvalidArgument(err):
		return false
	case errdefs.IsUnavailable(err), errdefs.IsDeadlineExceeded(err), errdefs.IsCanceled(err):
		return true
	default:
		// Unclassified Docker errors (network hiccups, daemon restarts) are
		// treated as transient per the spec's "Container engine transient
		// error" failure-semantics row.
		return true
	}
}

// Inspect returns liveness/identity info for a container.
func (e *DockerEngine) Inspect(ctx context.Context, containerID string) (ContainerInfo, error) {
	var info ContainerInfo
	err := withRetry(ctx, func() error {
		inspect, err := e.cli.ContainerInspect(ctx, containerID)
		if err != nil {
			return err
		}
		info = ContainerInfo{
			ID:      inspect.ID,
			Name:    strings.TrimPrefix(inspect.Name, "/"),
			Image:   inspect.Config.Image,
			Running: inspect.State != nil && inspect.State.Running,
		}
		return nil
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerInfo{}, bridgeerr.Wrap(bridgeerr.NotFound, "container not found", err)
		}
		return ContainerInfo{}, bridgeerr.Wrap(bridgeerr.Transport, "inspect container", err)
	}
	return info, nil
}

// IsRunning is a thin convenience wrapper over Inspect.
func (e *DockerEngine) IsRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := e.Inspect(ctx, containerID)
	if err != nil {
		if bridgeerr.Is(err, bridgeerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return info.Running, nil
}

// Stop stops and removes a container; idempotent (missing container is not
// an error), matching spec.md §7 "All recovery is idempotent".
func (e *DockerEngine) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	err := withRetry(ctx, func() error {
		return e.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs})
	})
	if err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("container stop returned error, attempting removal anyway", "container_id", containerID, "error", err)
	}

	err = withRetry(ctx, func() error {
		return e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	})
	if err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "already in progress") {
			return nil
		}
		return bridgeerr.Wrap(bridgeerr.Transport, "remove container", err)
	}
	return nil
}

// EnsureNetwork creates the bridge network used by instance containers if
// it doesn't already exist.
func (e *DockerEngine) EnsureNetwork(ctx context.Context, name, subnet string) (string, error) {
	networks, err := e.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", bridgeerr.Wrap(bridgeerr.Transport, "list networks", err)
	}
	for _, nw := range networks {
		if nw.Name == name {
			return nw.ID, nil
		}
	}

	resp, err := e.cli.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: subnet}},
		},
	})
	if err != nil {
		return "", bridgeerr.Wrap(bridgeerr.Transport, "create network", err)
	}
	return resp.ID, nil
}

// ProcessRunning greps the container's process listing for substr, used by
// both health checks (agent_running) and registry discovery strategy 3.
func (e *DockerEngine) ProcessRunning(ctx context.Context, containerID, substr string) (bool, error) {
	execID, conn, err := e.ExecAttached(ctx, containerID, []string{"ps", "-eo", "args"})
	if err != nil {
		return false, err
	}
	defer conn.Close()

	out, readErr := io.ReadAll(conn)
	if readErr != nil {
		return false, bridgeerr.Wrap(bridgeerr.Transport, "read process listing", readErr)
	}
	_ = execID
	return strings.Contains(string(out), substr), nil
}

// ExecAttached starts cmd inside containerID with attached, piped stdio.
func (e *DockerEngine) ExecAttached(ctx context.Context, containerID string, cmd []string) (string, io.ReadWriteCloser, error) {
	execConfig := container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	}

	resp, err := e.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return "", nil, bridgeerr.Wrap(bridgeerr.Transport, "create exec", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", nil, bridgeerr.Wrap(bridgeerr.Transport, "attach exec", err)
	}

	return resp.ID, attachResp.Conn, nil
}

// ListAll lists every container (running and stopped) visible to the engine.
func (e *DockerEngine) ListAll(ctx context.Context) ([]ContainerSummary, error) {
	return e.listFiltered(ctx, nil)
}

// ListByLabel lists containers carrying a specific label key.
func (e *DockerEngine) ListByLabel(ctx context.Context, label string) ([]ContainerSummary, error) {
	return e.listFiltered(ctx, map[string]string{"label": label})
}

func (e *DockerEngine) listFiltered(ctx context.Context, match map[string]string) ([]ContainerSummary, error) {
	containers, err := e.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.Transport, "list containers", err)
	}

	out := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		if key, ok := match["label"]; ok {
			if _, has := c.Labels[key]; !has {
				continue
			}
		}
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, ContainerSummary{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			Labels: c.Labels,
		})
	}
	return out, nil
}
