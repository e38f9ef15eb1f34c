package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			OutputDir:  "/data/downloads",
			SessionDir: "/data/session",
		},
		Scheduler: SchedulerConfig{
			Concurrency: 2,
			MaxAttempts: 3,
		},
		Engine: EngineConfig{
			Lister: "ytdlp",
		},
		Expander: ExpanderConfig{
			DedupeScope: "session",
		},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() should pass, got %v", err)
	}
}

func TestConfig_Validate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing output dir", func(c *Config) { c.Storage.OutputDir = "" }},
		{"missing session dir", func(c *Config) { c.Storage.SessionDir = "" }},
		{"zero max attempts", func(c *Config) { c.Scheduler.MaxAttempts = 0 }},
		{"unknown lister", func(c *Config) { c.Engine.Lister = "scraper" }},
		{"unknown dedupe scope", func(c *Config) { c.Expander.DedupeScope = "forever" }},
		{"history scope without path", func(c *Config) { c.Expander.DedupeScope = "history" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestConfig_Validate_HistoryScopeWithPath(t *testing.T) {
	cfg := validConfig()
	cfg.Expander.DedupeScope = "history"
	cfg.Expander.HistoryPath = "/data/history.db"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() should pass, got %v", err)
	}
}

func TestConfig_Validate_ClampsConcurrency(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 1},
		{-3, 1},
		{4, 4},
		{64, 16},
	}

	for _, tt := range tests {
		cfg := validConfig()
		cfg.Scheduler.Concurrency = tt.in
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if cfg.Scheduler.Concurrency != tt.want {
			t.Errorf("Concurrency(%d) = %d, want %d", tt.in, cfg.Scheduler.Concurrency, tt.want)
		}
	}
}

func TestServerConfig_Address(t *testing.T) {
	cfg := &ServerConfig{Host: "0.0.0.0", Port: 9848}
	if got := cfg.Address(); got != "0.0.0.0:9848" {
		t.Errorf("Address() = %q, want %q", got, "0.0.0.0:9848")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9848 {
		t.Errorf("Server.Port = %d, want 9848", cfg.Server.Port)
	}
	if cfg.Scheduler.Concurrency != 2 {
		t.Errorf("Scheduler.Concurrency = %d, want 2", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.RetryDelay != 2*time.Second {
		t.Errorf("Scheduler.RetryDelay = %v, want 2s", cfg.Scheduler.RetryDelay)
	}
	if cfg.Auth.LoginTimeout != 5*time.Minute {
		t.Errorf("Auth.LoginTimeout = %v, want 5m", cfg.Auth.LoginTimeout)
	}
	if len(cfg.Auth.CookieDomains) != 2 || cfg.Auth.CookieDomains[0] != ".youtube.com" {
		t.Errorf("Auth.CookieDomains = %v, want [.youtube.com .google.com]", cfg.Auth.CookieDomains)
	}
	if cfg.Expander.DedupeScope != "session" {
		t.Errorf("Expander.DedupeScope = %q, want session", cfg.Expander.DedupeScope)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCHEDULER_CONCURRENCY", "5")
	t.Setenv("SESSION_PASSPHRASE", "hunter2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.Concurrency != 5 {
		t.Errorf("Scheduler.Concurrency = %d, want 5", cfg.Scheduler.Concurrency)
	}
	if cfg.Auth.Passphrase != "hunter2" {
		t.Errorf("Auth.Passphrase = %q, want hunter2", cfg.Auth.Passphrase)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamfetch.yaml")
	content := `
server:
  port: 9000
scheduler:
  concurrency: 3
  max_attempts: 5
engine:
  lister: native
auth:
  cookie_domains: [".example.com"]
  passphrase: ignored
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Scheduler.MaxAttempts != 5 {
		t.Errorf("Scheduler.MaxAttempts = %d, want 5", cfg.Scheduler.MaxAttempts)
	}
	if cfg.Engine.Lister != "native" {
		t.Errorf("Engine.Lister = %q, want native", cfg.Engine.Lister)
	}
	if len(cfg.Auth.CookieDomains) != 1 || cfg.Auth.CookieDomains[0] != ".example.com" {
		t.Errorf("Auth.CookieDomains = %v, want [.example.com]", cfg.Auth.CookieDomains)
	}
	// The passphrase is never read from disk.
	if cfg.Auth.Passphrase != "" {
		t.Errorf("Auth.Passphrase = %q, want empty", cfg.Auth.Passphrase)
	}
	// Unset keys keep their defaults.
	if cfg.Storage.OutputDir != "downloads" {
		t.Errorf("Storage.OutputDir = %q, want downloads", cfg.Storage.OutputDir)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamfetch.yaml")
	content := `
server:
  port: 9000
  log_level: debug
scheduler:
  concurrency: 3
progress:
  log_samples: 50
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("PROGRESS_LOG_SAMPLES", "10")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100 from the environment", cfg.Server.Port)
	}
	if cfg.Progress.LogSamples != 10 {
		t.Errorf("Progress.LogSamples = %d, want 10 from the environment", cfg.Progress.LogSamples)
	}
	// File values with no environment counterpart survive the override.
	if cfg.Scheduler.Concurrency != 3 {
		t.Errorf("Scheduler.Concurrency = %d, want 3 from the file", cfg.Scheduler.Concurrency)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want debug from the file", cfg.Server.LogLevel)
	}
	if cfg.Scheduler.Retention != 24*time.Hour {
		t.Errorf("Scheduler.Retention = %v, want 24h default", cfg.Scheduler.Retention)
	}
}
