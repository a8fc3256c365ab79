package server

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SITEFEED_DATABASE_URL", "postgres://localhost/sitefeed")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.HubBuffer != 16 {
		t.Errorf("HubBuffer = %d, want 16", cfg.HubBuffer)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", cfg.PollInterval)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SITEFEED_DATABASE_URL", "postgres://db/sitefeed")
	t.Setenv("SITEFEED_ADDR", ":9090")
	t.Setenv("SITEFEED_POLL_INTERVAL", "250ms")
	t.Setenv("SITEFEED_BATCH_SIZE", "25")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s, want 250ms", cfg.PollInterval)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	// t.Setenv registers the restore; required only trips on an unset var.
	t.Setenv("SITEFEED_DATABASE_URL", "")
	os.Unsetenv("SITEFEED_DATABASE_URL")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when SITEFEED_DATABASE_URL is unset")
	}
}
