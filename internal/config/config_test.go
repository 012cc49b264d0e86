package config

import "testing"

func TestLoadRequiresDSNAndSecret(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "secret")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing DB_DSN")
	}

	t.Setenv("DB_DSN", "postgres://localhost/chat")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing JWT_SECRET")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/chat")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("NODE_ID", "")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("STORAGE_URL", "https://files.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.RelayEnabled() {
		t.Fatalf("relay must be disabled without REDIS_ADDR")
	}
	if cfg.NodeID == "" {
		t.Fatalf("expected generated node id")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lower-cased log level, got %q", cfg.LogLevel)
	}
	if cfg.StorageURL != "https://files.example.com" {
		t.Fatalf("expected trimmed storage url, got %q", cfg.StorageURL)
	}
	if cfg.StorageEnabled() {
		t.Fatalf("storage must be disabled without bucket and key")
	}
}
