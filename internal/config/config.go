// Package config provides application configuration.
//
// Configuration is loaded from environment variables (optionally bootstrapped
// from a .env file via godotenv) with sensible defaults. All timeouts and
// operational parameters are configurable.
//
// Configuration categories:
//   - Telegram: bot token, allow-listed chat id, webhook path/secret
//   - Timeouts: Claude response wait, pipe open/read, container stop/create
//   - Container: image, network, resource limits, create retry
//   - RateLimit: requests per window, window duration
//   - Dedup: processed-update capacity and TTL
//   - Health: monitor interval, recovery delay, failure threshold
//
// The environment variables and their defaults are the ones read in Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// TelegramConfig holds bot credentials and the single allow-listed chat.
type TelegramConfig struct {
	BotToken      string
	ChatID        int64 // 0 means "accept any chat" (development only)
	WebhookPath   string
	WebhookSecret string
}

// TimeoutConfig holds timeout-related configuration.
type TimeoutConfig struct {
	ClaudeResponse    time.Duration // Max wait for a Claude turn to complete
	PipeOpen          time.Duration // Max wait for a FIFO reader/writer to attach
	PipeRead          time.Duration // Max wait between output chunks before EOF is assumed
	ContainerStop     time.Duration
	ContainerCreate   time.Duration
	HealthCheck       time.Duration
	ShutdownDrain     time.Duration // Max wait for in-flight webhook requests on SIGTERM
}

// ContainerConfig holds container resource, discovery, and retry configuration.
type ContainerConfig struct {
	DefaultImage        string
	NetworkName         string
	NetworkSubnet       string
	Label               string   // cc-bridge.instance label key
	ImagePatterns       []string // fallback image-name discovery patterns
	MemoryLimitBytes    int64
	CPUQuota            int64
	PidsLimit           int64
	CreateRetryAttempts int
	CreateRetryDelay    time.Duration
	Preferred           bool // prefer docker-variant instances when selecting among several running
}

// RateLimitConfig holds per-sender rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DedupConfig holds processed-update tracking configuration.
type DedupConfig struct {
	Capacity int
	TTL      time.Duration
}

// HealthMonitorConfig holds health-check cadence and recovery thresholds.
type HealthMonitorConfig struct {
	CheckInterval        time.Duration
	RecoveryDelay        time.Duration
	MaxConsecutiveFailures int
}

// SessionConfig holds session-tracker timeouts.
type SessionConfig struct {
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxHistory     int
	MonitorTick    time.Duration
}

// Config holds all application configuration.
type Config struct {
	Port          string
	RegistryPath  string // JSON instance registry file
	PipeDir       string // base directory for FIFO pairs
	AuditDBPath   string
	MetricsPort   string

	Telegram  TelegramConfig
	Timeout   TimeoutConfig
	Container ContainerConfig
	RateLimit RateLimitConfig
	Dedup     DedupConfig
	Health    HealthMonitorConfig
	Session   SessionConfig
}

// Load reads configuration from environment variables, optionally seeded
// from a .env file in the working directory (missing file is not an error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		RegistryPath: getEnv("CC_BRIDGE_REGISTRY_PATH", "~/.claude/bridge/instances.json"),
		PipeDir:      getEnv("CC_BRIDGE_PIPE_DIR", "~/.claude/bridge/pipes"),
		AuditDBPath:  getEnv("CC_BRIDGE_AUDIT_DB", "./data/audit.db"),
		MetricsPort:  getEnv("METRICS_PORT", "9090"),

		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:        chatID,
			WebhookPath:   getEnv("TELEGRAM_WEBHOOK_PATH", "/webhook/telegram"),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
		Timeout: TimeoutConfig{
			ClaudeResponse:  getEnvDuration("CC_BRIDGE_CLAUDE_RESPONSE_TIMEOUT", 120*time.Second),
			PipeOpen:        getEnvDuration("CC_BRIDGE_PIPE_OPEN_TIMEOUT", 10*time.Second),
			PipeRead:        getEnvDuration("CC_BRIDGE_PIPE_READ_TIMEOUT", 120*time.Second),
			ContainerStop:   getEnvDuration("CC_BRIDGE_CONTAINER_STOP_TIMEOUT", 10*time.Second),
			ContainerCreate: getEnvDuration("CC_BRIDGE_CONTAINER_CREATE_TIMEOUT", 2*time.Minute),
			HealthCheck:     getEnvDuration("CC_BRIDGE_HEALTH_CHECK_TIMEOUT", 5*time.Second),
			ShutdownDrain:   getEnvDuration("CC_BRIDGE_SHUTDOWN_DRAIN_TIMEOUT", 30*time.Second),
		},
		Container: ContainerConfig{
			DefaultImage:        getEnv("CC_BRIDGE_CONTAINER_IMAGE", "cc-bridge-agent:latest"),
			NetworkName:         getEnv("CC_BRIDGE_NETWORK_NAME", "cc-bridge"),
			NetworkSubnet:       getEnv("CC_BRIDGE_NETWORK_SUBNET", "172.29.0.0/16"),
			Label:               getEnv("CC_BRIDGE_CONTAINER_LABEL", "cc-bridge.instance"),
			ImagePatterns:       getEnvList("CC_BRIDGE_IMAGE_PATTERNS", []string{"cc-bridge", "claude-code"}),
			MemoryLimitBytes:    getEnvInt64("CC_BRIDGE_CONTAINER_MEMORY_LIMIT", 512*1024*1024),
			CPUQuota:            getEnvInt64("CC_BRIDGE_CONTAINER_CPU_QUOTA", 50000),
			PidsLimit:           getEnvInt64("CC_BRIDGE_CONTAINER_PIDS_LIMIT", 256),
			CreateRetryAttempts: getEnvInt("CC_BRIDGE_CONTAINER_CREATE_RETRY_ATTEMPTS", 4),
			CreateRetryDelay:    getEnvDuration("CC_BRIDGE_CONTAINER_CREATE_RETRY_DELAY", 200*time.Millisecond),
			Preferred:           getEnvBool("CC_BRIDGE_DOCKER_PREFERRED", false),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("CC_BRIDGE_RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("CC_BRIDGE_RATE_LIMIT_WINDOW", time.Minute),
		},
		Dedup: DedupConfig{
			Capacity: getEnvInt("CC_BRIDGE_DEDUP_CAPACITY", 100),
			TTL:      getEnvDuration("CC_BRIDGE_DEDUP_TTL", 10*time.Minute),
		},
		Health: HealthMonitorConfig{
			CheckInterval:          getEnvDuration("CC_BRIDGE_HEALTH_CHECK_INTERVAL", 30*time.Second),
			RecoveryDelay:          getEnvDuration("CC_BRIDGE_HEALTH_RECOVERY_DELAY", 5*time.Second),
			MaxConsecutiveFailures: getEnvInt("CC_BRIDGE_HEALTH_MAX_FAILURES", 3),
		},
		Session: SessionConfig{
			IdleTimeout:    getEnvDuration("CC_BRIDGE_SESSION_IDLE_TIMEOUT", 300*time.Second),
			RequestTimeout: getEnvDuration("CC_BRIDGE_SESSION_REQUEST_TIMEOUT", 120*time.Second),
			MaxHistory:     getEnvInt("CC_BRIDGE_SESSION_MAX_HISTORY", 100),
			MonitorTick:    getEnvDuration("CC_BRIDGE_SESSION_MONITOR_TICK", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Telegram.BotToken == "" && !IsTest() {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN cannot be empty")
	}
	if c.RegistryPath == "" {
		return fmt.Errorf("CC_BRIDGE_REGISTRY_PATH cannot be empty")
	}
	if c.PipeDir == "" {
		return fmt.Errorf("CC_BRIDGE_PIPE_DIR cannot be empty")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("CC_BRIDGE_RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.Dedup.Capacity <= 0 {
		return fmt.Errorf("CC_BRIDGE_DEDUP_CAPACITY must be > 0")
	}
	return nil
}

// IsTest reports whether the process is running under `go test`.
func IsTest() bool {
	return strings.HasSuffix(os.Args[0], ".test") || getEnvBool("CC_BRIDGE_TEST_MODE", false)
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
