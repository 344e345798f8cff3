// Command agentd is the in-container supervisor entrypoint: it runs inside
// a Claude Code container image, forwarding host commands from a named pipe
// into a Claude Code CLI subprocess and relaying its output back out.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cc-bridge/cc-bridge/internal/agentd"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	instanceName := getenv("CC_BRIDGE_INSTANCE_NAME", "")
	if instanceName == "" {
		slog.Error("CC_BRIDGE_INSTANCE_NAME is required")
		os.Exit(1)
	}

	cfg := agentd.Config{
		InstanceName: instanceName,
		PipeDir:      getenv("CC_BRIDGE_PIPE_DIR", "/var/run/cc-bridge"),
		Command:      getenv("CC_BRIDGE_CLAUDE_BIN", "claude"),
		Args:         strings.Fields(getenv("CC_BRIDGE_CLAUDE_ARGS", "")),
		HealthAddr:   getenv("CC_BRIDGE_HEALTH_ADDR", ":50051"),
		MaxRestarts:  5,
	}

	sup, err := agentd.New(cfg)
	if err != nil {
		slog.Error("failed to initialize supervisor", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("agentd starting", "instance", instanceName, "command", cfg.Command)
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("supervisor exited", "error", err)
		os.Exit(1)
	}
	slog.Info("agentd stopped")
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
