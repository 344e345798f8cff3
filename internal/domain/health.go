package domain

import "time"

// HealthRecord is the per-instance liveness snapshot maintained by the
// health monitor (spec.md §3 "Health Record").
type HealthRecord struct {
	InstanceName string `json:"instance_name"`

	LastCheck time.Time `json:"last_check"`

	ContainerRunning bool `json:"container_running"`
	PipesExist       bool `json:"pipes_exist"`
	AgentRunning     bool `json:"agent_running"`
	SessionHealthy   bool `json:"session_healthy"`
	Healthy          bool `json:"healthy"`

	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastRecoveryAttempt *time.Time `json:"last_recovery_attempt,omitempty"`
}

// Aggregate sets Healthy from ContainerRunning && PipesExist, per spec.md
// §4.5 ("Aggregate healthy = container_running AND pipes_exist").
func (h *HealthRecord) Aggregate() {
	h.Healthy = h.ContainerRunning && h.PipesExist
}
