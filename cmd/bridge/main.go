// cc-bridge - Telegram-to-Claude-Code bridge server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cc-bridge/cc-bridge/internal/adapter"
	"github.com/cc-bridge/cc-bridge/internal/audit"
	"github.com/cc-bridge/cc-bridge/internal/config"
	"github.com/cc-bridge/cc-bridge/internal/containerengine"
	"github.com/cc-bridge/cc-bridge/internal/gate"
	"github.com/cc-bridge/cc-bridge/internal/health"
	"github.com/cc-bridge/cc-bridge/internal/registry"
	"github.com/cc-bridge/cc-bridge/internal/session"
	"github.com/cc-bridge/cc-bridge/internal/telegram"
	"github.com/cc-bridge/cc-bridge/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting cc-bridge", "port", cfg.Port)

	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		slog.Error("failed to open instance registry", "error", err)
		os.Exit(1)
	}

	ledger, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		slog.Error("failed to open audit ledger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			slog.Error("failed to close audit ledger", "error", closeErr)
		}
	}()

	var engine containerengine.Engine
	dockerEngine, err := containerengine.NewDockerEngine()
	if err != nil {
		slog.Warn("docker unavailable, container-variant instances disabled", "error", err)
	} else {
		engine = dockerEngine
		networkID, err := engine.EnsureNetwork(context.Background(), cfg.Container.NetworkName, cfg.Container.NetworkSubnet)
		if err != nil {
			slog.Warn("failed to ensure instance network", "error", err)
		} else {
			slog.Info("instance network ready", "network_id", networkID)
		}

		discoverer := registry.NewDiscoverer(engine, cfg.Container.Label, cfg.Container.ImagePatterns)
		discovered := discoverer.DiscoverAll(context.Background())
		added, mergeErr := reg.Merge(discovered)
		if mergeErr != nil {
			slog.Warn("failed to merge discovered instances", "error", mergeErr)
		} else if added > 0 {
			slog.Info("discovered new instances", "count", added)
		}
	}

	tracker := session.New(session.Config{
		IdleTimeout:    cfg.Session.IdleTimeout,
		RequestTimeout: cfg.Session.RequestTimeout,
		MaxHistory:     cfg.Session.MaxHistory,
		MonitorTick:    cfg.Session.MonitorTick,
		OnTimeout: func(instanceName, requestID string) {
			slog.Warn("request timed out", "instance", instanceName, "request_id", requestID)
		},
	})

	factory := adapter.NewFactory(engine, cfg.PipeDir)

	monitor := health.New(health.Config{
		CheckInterval:          cfg.Health.CheckInterval,
		RecoveryDelay:          cfg.Health.RecoveryDelay,
		MaxConsecutiveFailures: cfg.Health.MaxConsecutiveFailures,
		PipeDir:                cfg.PipeDir,
	}, reg, engine, tracker)
	monitor.AddRecoveryCallback(health.NewAdapterRecovery(factory, tracker, cfg.PipeDir).Recover)

	rateLimiter := gate.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	dedup := gate.NewDedup(cfg.Dedup.Capacity, cfg.Dedup.TTL)
	shutdownGate := gate.NewShutdownGate(cfg.Timeout.ShutdownDrain)

	var telegramClient *telegram.Client
	if cfg.Telegram.BotToken != "" {
		telegramClient = telegram.New(cfg.Telegram.BotToken)
	}

	dispatcher := webhook.New(webhook.Config{
		Registry:        reg,
		Factory:         factory,
		TelegramClient:  telegramClient,
		RateLimiter:     rateLimiter,
		Dedup:           dedup,
		Shutdown:        shutdownGate,
		Ledger:          ledger,
		Tracker:         tracker,
		ExpectedChatID:  cfg.Telegram.ChatID,
		DockerPreferred: cfg.Container.Preferred,
		ResponseTimeout: cfg.Timeout.ClaudeResponse,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go tracker.Start(ctx)
	go func() {
		if err := monitor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("health monitor stopped", "error", err)
		}
	}()
	go dedup.StartSweeper(ctx, cfg.Dedup.TTL)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Post(cfg.Telegram.WebhookPath, dispatcher.ServeTelegramWebhook)
	r.Get("/health", dispatcher.ServeHealth)
	r.Get("/debug/stream/{instance}", func(w http.ResponseWriter, r *http.Request) {
		dispatcher.ServeDebugStream(w, r, chi.URLParam(r, "instance"))
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("webhook server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("webhook server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("shutting down gracefully")

	// Flip the shutdown flag before draining so the webhook handler starts
	// refusing new requests with 503 immediately, even though the listener
	// itself is still open until srv.Shutdown below completes.
	shutdownGate.Signal()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.ShutdownDrain)
	defer cancel()

	shutdownGate.Drain(shutdownCtx)

	for _, inst := range reg.List() {
		ad, adErr := factory.For(inst)
		if adErr != nil {
			continue
		}
		if cleanupErr := ad.Cleanup(shutdownCtx); cleanupErr != nil {
			slog.Warn("instance cleanup failed", "instance", inst.Name, "error", cleanupErr)
		}
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("webhook server forced to shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server forced to shutdown", "error", err)
	}

	slog.Info("cc-bridge stopped")
}
