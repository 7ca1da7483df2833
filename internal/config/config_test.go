package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-5-codex" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverlaysConfigYaml(t *testing.T) {
	dir := t.TempDir()
	yaml := "provider: azure\nmodel: gpt-5-codex-mini\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider != "azure" || cfg.Model != "gpt-5-codex-mini" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if _, ok := cfg.Providers["openai"]; !ok {
		t.Fatal("expected built-in openai provider to survive overlay")
	}
}

func TestResolveAPIKeyTrimsAndTreatsEmptyAsAbsent(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("OPENAI_API_KEY", "  sk-test-key  ")
	if got := cfg.ResolveAPIKey("openai"); got != "sk-test-key" {
		t.Fatalf("got %q", got)
	}

	t.Setenv("OPENAI_API_KEY", "")
	if got := cfg.ResolveAPIKey("openai"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestCodexHomeDefaultsUnderUserHome(t *testing.T) {
	os.Unsetenv("CODEX_HOME")
	home := CodexHome()
	if filepath.Base(home) != ".codex" {
		t.Fatalf("got %q", home)
	}
}

func TestCodexHomeHonorsEnvOverride(t *testing.T) {
	t.Setenv("CODEX_HOME", "/tmp/custom-codex-home")
	if got := CodexHome(); got != "/tmp/custom-codex-home" {
		t.Fatalf("got %q", got)
	}
}
