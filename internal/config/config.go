// Package config resolves Codex's on-disk configuration: the CODEX_HOME
// directory (auth.json, history.jsonl, mcp_settings.json all live under it)
// and an optional config.yaml overlay carrying provider/model defaults,
// layering a human-authored yaml.v3 file over built-in defaults. Values in
// the file are taken literally (no environment-variable substitution); API
// keys are read from the environment variable each provider names.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one upstream model provider.
type ProviderConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	WireAPI   string `yaml:"wire_api"` // "responses" or "chat_completions"
}

// Config is the full resolved configuration: built-in defaults overlaid
// with config.yaml, if present.
type Config struct {
	Provider       string                    `yaml:"provider"`
	Model          string                    `yaml:"model"`
	ApprovalPolicy string                    `yaml:"approval_policy"`
	SandboxMode    string                    `yaml:"sandbox_mode"`
	Providers      map[string]ProviderConfig `yaml:"providers"`
}

// CodexHome resolves the Codex home directory: $CODEX_HOME if set, else
// ~/.codex.
func CodexHome() string {
	if home := os.Getenv("CODEX_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".codex"
	}
	return filepath.Join(dir, ".codex")
}

func defaultConfig() *Config {
	return &Config{
		Provider:       "openai",
		Model:          "gpt-5-codex",
		ApprovalPolicy: "untrusted",
		SandboxMode:    "workspace-write",
		Providers: map[string]ProviderConfig{
			"openai": {
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
				WireAPI:   "responses",
			},
			"azure": {
				BaseURL:   "",
				APIKeyEnv: "AZURE_OPENAI_API_KEY",
				WireAPI:   "chat_completions",
			},
		},
	}
}

// Load reads config.yaml from codexHome, overlaying it onto the built-in
// defaults. A missing file is not an error; defaults are returned as-is.
func Load(codexHome string) (*Config, error) {
	cfg := defaultConfig()

	path := filepath.Join(codexHome, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, err
	}

	if overlay.Provider != "" {
		cfg.Provider = overlay.Provider
	}
	if overlay.Model != "" {
		cfg.Model = overlay.Model
	}
	if overlay.ApprovalPolicy != "" {
		cfg.ApprovalPolicy = overlay.ApprovalPolicy
	}
	if overlay.SandboxMode != "" {
		cfg.SandboxMode = overlay.SandboxMode
	}
	for id, p := range overlay.Providers {
		cfg.Providers[id] = p
	}

	return cfg, nil
}

// ShadowGitDir returns the directory under codexHome that holds shadow-git
// checkpoint repos, one subdirectory per workspace (see internal/checkpoint).
func ShadowGitDir(codexHome string) string {
	return filepath.Join(codexHome, "shadow-git")
}

// ResolveAPIKey reads the provider's configured environment variable,
// trimming whitespace and treating an empty value as absent, matching the
// original implementation's env-var precedence rules rather than the
// teacher's untrimmed os.Getenv calls.
func (c *Config) ResolveAPIKey(providerID string) string {
	p, ok := c.Providers[providerID]
	if !ok || p.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}
