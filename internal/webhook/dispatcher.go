// Package webhook implements the webhook dispatcher (spec.md C8): the
// Telegram webhook HTTP endpoint, instance selection, and the health
// endpoint. Grounded on the original's core/webhook/handlers.py.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cc-bridge/cc-bridge/internal/adapter"
	"github.com/cc-bridge/cc-bridge/internal/audit"
	"github.com/cc-bridge/cc-bridge/internal/domain"
	"github.com/cc-bridge/cc-bridge/internal/gate"
	"github.com/cc-bridge/cc-bridge/internal/metrics"
	"github.com/cc-bridge/cc-bridge/internal/registry"
	"github.com/cc-bridge/cc-bridge/internal/session"
	"github.com/cc-bridge/cc-bridge/internal/telegram"
)

const (
	maxRequestSize             = 10_000
	maxMessageLength           = 4000
	telegramMaxMessageLength   = 4096
	telegramTruncatedSuffix    = "\n\n... (truncated)"
)

// Dispatcher wires the webhook HTTP endpoint to instance selection and
// command dispatch.
type Dispatcher struct {
	registry       *registry.Registry
	factory        *adapter.Factory
	telegramClient *telegram.Client
	rateLimiter    *gate.RateLimiter
	dedup          *gate.Dedup
	shutdown       *gate.ShutdownGate
	ledger         *audit.Ledger
	tracker        *session.Tracker

	expectedChatID  int64
	dockerPreferred bool
	responseTimeout time.Duration
	startedAt       time.Time

	logger *slog.Logger
}

// Config parameterizes a Dispatcher.
type Config struct {
	Registry        *registry.Registry
	Factory         *adapter.Factory
	TelegramClient  *telegram.Client
	RateLimiter     *gate.RateLimiter
	Dedup           *gate.Dedup
	Shutdown        *gate.ShutdownGate
	Ledger          *audit.Ledger
	Tracker         *session.Tracker
	ExpectedChatID  int64
	DockerPreferred bool
	ResponseTimeout time.Duration
}

// New builds a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry:        cfg.Registry,
		factory:         cfg.Factory,
		telegramClient:  cfg.TelegramClient,
		rateLimiter:     cfg.RateLimiter,
		dedup:           cfg.Dedup,
		shutdown:        cfg.Shutdown,
		ledger:          cfg.Ledger,
		tracker:         cfg.Tracker,
		expectedChatID:  cfg.ExpectedChatID,
		dockerPreferred: cfg.DockerPreferred,
		responseTimeout: cfg.ResponseTimeout,
		startedAt:       time.Now(),
		logger:          slog.Default(),
	}
}

type jsonResponse struct {
	status int
	body   map[string]any
}

func writeJSON(w http.ResponseWriter, r jsonResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.status)
	_ = json.NewEncoder(w).Encode(r.body)
}

func ok(reason string) jsonResponse {
	body := map[string]any{"status": "ok"}
	if reason != "" {
		body["reason"] = reason
	}
	return jsonResponse{status: http.StatusOK, body: body}
}

func ignored(reason string) jsonResponse {
	return jsonResponse{status: http.StatusOK, body: map[string]any{"status": "ignored", "reason": reason}}
}

func errResp(status int, reason string) jsonResponse {
	return jsonResponse{status: status, body: map[string]any{"status": "error", "reason": reason}}
}

// ServeTelegramWebhook handles POST requests from Telegram's webhook
// delivery, matching the validation order of the original's
// telegram_webhook handler: size -> parse -> dedup -> message presence ->
// rate limit -> length -> command-or-forward.
func (d *Dispatcher) ServeTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if d.shutdown.IsShuttingDown() {
		writeJSON(w, jsonResponse{
			status: http.StatusServiceUnavailable,
			body:   map[string]any{"status": "error", "reason": "Server is shutting down"},
		})
		return
	}

	done := d.shutdown.Enter()
	defer done()

	if r.ContentLength > maxRequestSize {
		d.logger.Warn("webhook request too large", "size", r.ContentLength)
		writeJSON(w, errResp(http.StatusRequestEntityTooLarge, "Request too large"))
		return
	}

	var update Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&update); err != nil {
		writeJSON(w, errResp(http.StatusBadRequest, "Empty update"))
		return
	}

	if d.dedup.IsProcessed(update.UpdateID) {
		d.logger.Info("ignoring duplicate update", "update_id", update.UpdateID)
		metrics.DuplicateUpdatesTotal.Inc()
		writeJSON(w, ignored("duplicate"))
		return
	}

	if update.Message == nil {
		writeJSON(w, ignored("no message"))
		return
	}
	if update.Message.Text == "" {
		writeJSON(w, ignored("no text"))
		return
	}

	chatID := update.Message.Chat.ID
	text := update.Message.Text

	if !d.rateLimiter.Allow(chatID) {
		retryAfter := d.rateLimiter.RetryAfter(chatID)
		d.logger.Warn("rate limit exceeded", "chat_id", chatID, "retry_after", retryAfter)
		metrics.RateLimitedTotal.Inc()
		writeJSON(w, jsonResponse{
			status: http.StatusTooManyRequests,
			body: map[string]any{
				"status":      "rate_limited",
				"retry_after": int(retryAfter.Seconds()),
				"message":     "Too many requests. Please try again later.",
			},
		})
		return
	}

	if len(text) > maxMessageLength {
		writeJSON(w, errResp(http.StatusBadRequest, "Message too long"))
		return
	}

	ctx := r.Context()

	if d.expectedChatID != 0 && chatID != d.expectedChatID {
		d.logger.Warn("unauthorized chat id", "chat_id", chatID, "expected", d.expectedChatID)
		d.record(ctx, update.UpdateID, chatID, "", audit.OutcomeRejected, "unauthorized chat id")
		writeJSON(w, ignored("unauthorized"))
		return
	}

	if len(text) > 0 && text[0] == '/' {
		writeJSON(w, d.handleCommand(ctx, text, chatID))
		return
	}

	d.logger.Info("received message", "chat_id", chatID, "text", truncate(text, 50))

	inst := d.selectInstance(ctx)
	if inst == nil {
		d.notify(ctx, chatID, "No Claude instance found. Please check your instances.")
		d.record(ctx, update.UpdateID, chatID, "", audit.OutcomeError, "no instance found")
		writeJSON(w, errResp(http.StatusOK, "no instance"))
		return
	}

	ad, err := d.factory.For(inst)
	if err != nil {
		d.record(ctx, update.UpdateID, chatID, inst.Name, audit.OutcomeError, "adapter unavailable")
		writeJSON(w, errResp(http.StatusInternalServerError, "adapter unavailable"))
		return
	}

	running, _ := ad.IsRunning(ctx)
	if !running {
		if startErr := ad.Start(ctx); startErr != nil {
			d.notify(ctx, chatID, "Claude instance '"+inst.Name+"' could not be started.")
			d.record(ctx, update.UpdateID, chatID, inst.Name, audit.OutcomeError, "instance could not be started")
			writeJSON(w, errResp(http.StatusOK, "instance not running"))
			return
		}
	}

	_, _ = d.registry.Update(inst.Name, func(i *domain.Instance) { i.Touch(time.Now()) })

	requestID := uuid.NewString()
	if d.tracker != nil {
		if _, startErr := d.tracker.StartRequest(inst.Name, requestID, text); startErr != nil {
			d.notify(ctx, chatID, "Instance '"+inst.Name+"' is still processing a previous request.")
			d.record(ctx, update.UpdateID, chatID, inst.Name, audit.OutcomeRejected, "turn already active")
			writeJSON(w, jsonResponse{status: http.StatusConflict, body: map[string]any{
				"status": "busy", "reason": "instance has an active turn",
			}})
			return
		}
	}

	turnStart := time.Now()
	success, output, err := ad.SendCommandAndWait(ctx, text, d.responseTimeout)
	metrics.TurnDuration.Observe(time.Since(turnStart).Seconds())
	if d.tracker != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		} else if !success {
			errMsg = "command did not succeed"
		}
		d.tracker.CompleteRequest(inst.Name, requestID, output, errMsg)
	}
	if err != nil {
		d.logger.Error("command execution error", "error", err)
		d.notify(ctx, chatID, "Failed to execute command.")
		metrics.WebhookRequestsTotal.WithLabelValues("error").Inc()
		d.record(ctx, update.UpdateID, chatID, inst.Name, audit.OutcomeError, err.Error())
		writeJSON(w, errResp(http.StatusInternalServerError, "Execution failed"))
		return
	}

	if success && output != "" {
		clean := cleanClaudeOutput(output)
		if len(clean) > telegramMaxMessageLength {
			clean = clean[:maxMessageLength] + telegramTruncatedSuffix
		}
		d.notify(ctx, chatID, clean)
		d.record(ctx, update.UpdateID, chatID, inst.Name, audit.OutcomeOK, "")
	} else {
		d.notify(ctx, chatID, "Claude command failed. Output: "+truncate(output, 200))
		d.record(ctx, update.UpdateID, chatID, inst.Name, audit.OutcomeError, "command did not succeed")
	}
	metrics.WebhookRequestsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, ok(""))
}

// ServeHealth reports aggregate instance and pending-request stats, matching
// the original's health handler.
func (d *Dispatcher) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	instances := d.registry.List()
	stats := map[string]int{"total": len(instances), "running": 0, "stopped": 0, "tmux": 0, "docker": 0}

	for _, inst := range instances {
		live, _ := d.registry.GetStatus(ctx, inst.Name, d.factory.Engine())
		if live == domain.StatusRunning {
			stats["running"]++
		} else {
			stats["stopped"]++
		}
		switch inst.Variant {
		case domain.VariantTerminal:
			stats["tmux"]++
		case domain.VariantContainer:
			stats["docker"]++
		}
	}

	pending := d.shutdown.Pending()

	writeJSON(w, jsonResponse{
		status: http.StatusOK,
		body: map[string]any{
			"status":           "healthy",
			"uptime_seconds":   time.Since(d.startedAt).Seconds(),
			"instances":        stats,
			"pending_requests": pending,
		},
	})
}

// record appends a delivery outcome to the audit ledger, if one is
// configured. Failures are logged, not surfaced, since the ledger is
// operational forensics and must never block a webhook response.
func (d *Dispatcher) record(ctx context.Context, updateID, chatID int64, instanceName string, outcome audit.Outcome, detail string) {
	if d.ledger == nil {
		return
	}
	entry := audit.Entry{
		UpdateID:     updateID,
		ChatID:       chatID,
		InstanceName: instanceName,
		Outcome:      outcome,
		Detail:       detail,
	}
	if err := d.ledger.Record(ctx, entry); err != nil {
		d.logger.Warn("failed to record audit entry", "error", err)
	}
}

func (d *Dispatcher) notify(ctx context.Context, chatID int64, text string) {
	if d.telegramClient == nil {
		return
	}
	if err := d.telegramClient.SendMessage(ctx, chatID, text); err != nil {
		d.logger.Warn("failed to notify chat", "chat_id", chatID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
