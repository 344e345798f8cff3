package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 {
		t.Errorf("RateLimit.RequestsPerWindow = %d, want 10", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.Dedup.TTL != 10*time.Minute {
		t.Errorf("Dedup.TTL = %v, want 10m", cfg.Dedup.TTL)
	}
	if len(cfg.Container.ImagePatterns) != 2 {
		t.Errorf("Container.ImagePatterns = %v, want 2 default patterns", cfg.Container.ImagePatterns)
	}
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CC_BRIDGE_RATE_LIMIT_REQUESTS", "25")
	t.Setenv("CC_BRIDGE_HEALTH_CHECK_INTERVAL", "45s")
	t.Setenv("CC_BRIDGE_DOCKER_PREFERRED", "true")
	t.Setenv("CC_BRIDGE_IMAGE_PATTERNS", "foo, bar ,baz")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.RateLimit.RequestsPerWindow != 25 {
		t.Errorf("RateLimit.RequestsPerWindow = %d, want 25", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.Health.CheckInterval != 45*time.Second {
		t.Errorf("Health.CheckInterval = %v, want 45s", cfg.Health.CheckInterval)
	}
	if !cfg.Container.Preferred {
		t.Error("Container.Preferred = false, want true")
	}
	want := []string{"foo", "bar", "baz"}
	if len(cfg.Container.ImagePatterns) != len(want) {
		t.Fatalf("Container.ImagePatterns = %v, want %v", cfg.Container.ImagePatterns, want)
	}
	for i, p := range want {
		if cfg.Container.ImagePatterns[i] != p {
			t.Errorf("ImagePatterns[%d] = %q, want %q", i, cfg.Container.ImagePatterns[i], p)
		}
	}
}

func TestLoadRejectsInvalidChatID(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject a non-numeric TELEGRAM_CHAT_ID")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty registry path", func(c *Config) { c.RegistryPath = "" }, true},
		{"empty pipe dir", func(c *Config) { c.PipeDir = "" }, true},
		{"zero rate limit", func(c *Config) { c.RateLimit.RequestsPerWindow = 0 }, true},
		{"zero dedup capacity", func(c *Config) { c.Dedup.Capacity = 0 }, true},
		{"valid", func(c *Config) {}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsTestReturnsTrueUnderGoTest(t *testing.T) {
	if !IsTest() {
		t.Error("IsTest() should be true when running under `go test`")
	}
}
