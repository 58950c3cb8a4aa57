package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `llm_provider: gateway
concurrent_requests: 3
request_delay: 250ms
save_interval: 10
target_person: "Maria Souza"
labels:
  - key: ofensa
    prefix: "Ofensa:"
    column: Ofensa_IA
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("AI_CONCURRENT_REQUESTS", "7")
	t.Setenv("AI_BASE_RETRY_DELAY", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "gateway" {
		t.Fatalf("provider = %q", cfg.Provider)
	}
	if cfg.Concurrency != 7 {
		t.Fatalf("env should override yaml concurrency, got %d", cfg.Concurrency)
	}
	if cfg.RequestDelay != 250*time.Millisecond {
		t.Fatalf("request delay = %v", cfg.RequestDelay)
	}
	if cfg.BaseRetryDelay != 2500*time.Millisecond {
		t.Fatalf("base retry delay = %v", cfg.BaseRetryDelay)
	}
	if len(cfg.Labels) != 1 || cfg.Labels[0].Column != "Ofensa_IA" {
		t.Fatalf("labels = %+v", cfg.Labels)
	}
	if cfg.Target().Person != "Maria Souza" {
		t.Fatalf("target person = %q", cfg.Target().Person)
	}
	// untouched defaults survive
	if cfg.MaxRetries != 5 || cfg.EntityColumn != "video_id" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
		{"zero save interval", func(c *Config) { c.SaveInterval = 0 }},
		{"negative delay", func(c *Config) { c.RequestDelay = -time.Second }},
		{"no labels", func(c *Config) { c.Labels = nil }},
		{"duplicate column", func(c *Config) { c.Labels = append(c.Labels, c.Labels[0]) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
