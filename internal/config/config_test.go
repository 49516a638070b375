package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" && os.Getenv("PORT") == "" {
		t.Errorf("default port = %q", cfg.Port)
	}
	if cfg.LeaseMinutes != 30 && os.Getenv("SCRAPER_LEASE_MINUTES") == "" {
		t.Errorf("default lease = %d", cfg.LeaseMinutes)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_SCOUT_SECRET", "s3cret")
	t.Setenv("ADMIN_SECRET", "")
	t.Setenv("PORT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: \"9090\"\nadmin_secret: ${TEST_SCOUT_SECRET}\nfetch:\n  rate_limit_rps: 0.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.AdminSecret != "s3cret" {
		t.Errorf("admin_secret = %q", cfg.AdminSecret)
	}
	if cfg.Fetch.RateLimitRPS != 0.5 {
		t.Errorf("rate_limit_rps = %v", cfg.Fetch.RateLimitRPS)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7777")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: \"9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "7777" {
		t.Errorf("env should win, got %q", cfg.Port)
	}
}
