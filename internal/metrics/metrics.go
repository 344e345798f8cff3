// Package metrics exposes the bridge's Prometheus collectors. Grounded on
// Will-Luck/Docker-Sentinel's internal/metrics package (same promauto
// package-level-var style), with instance/turn-centric names in place of
// its container-update-centric ones.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InstancesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_bridge_instances_total",
		Help: "Total number of registered Claude instances.",
	})
	InstancesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cc_bridge_instances_running",
		Help: "Number of Claude instances currently running.",
	})
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_bridge_webhook_requests_total",
		Help: "Total number of webhook requests by outcome.",
	}, []string{"status"})
	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cc_bridge_turn_duration_seconds",
		Help:    "Duration of a conversation turn from request to response.",
		Buckets: prometheus.DefBuckets,
	})
	HealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cc_bridge_health_checks_total",
		Help: "Total number of health checks performed, by result.",
	}, []string{"result"})
	RecoveryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_bridge_recovery_attempts_total",
		Help: "Total number of instance recovery attempts triggered.",
	})
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_bridge_rate_limited_total",
		Help: "Total number of webhook requests rejected by the rate limiter.",
	})
	DuplicateUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cc_bridge_duplicate_updates_total",
		Help: "Total number of duplicate Telegram update ids ignored.",
	})
)
