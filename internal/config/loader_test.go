package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vovakirdan/wirecall/internal/log"
)

func TestLoadWritesAndReadsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wirecall.yaml")

	cfg, resolved, err := Load(log.Nop(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path %s, want %s", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	def := Default()
	if cfg.Relay.Addr != def.Relay.Addr || cfg.Client.RelayURL != def.Client.RelayURL {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wirecall.yaml")
	content := []byte("log_level: debug\nrelay:\n  addr: \":9999\"\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(log.Nop(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level not read: %s", cfg.LogLevel)
	}
	if cfg.Relay.Addr != ":9999" {
		t.Fatalf("relay.addr not read: %s", cfg.Relay.Addr)
	}
	// Untouched keys keep their defaults.
	if cfg.Client.RelayURL != Default().Client.RelayURL {
		t.Fatalf("default lost: %s", cfg.Client.RelayURL)
	}
}
