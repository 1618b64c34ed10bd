// Copyright (c) 2025 polychat contributors
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Sampling.Temperature != 0.7 {
		t.Errorf("temperature = %v", cfg.Sampling.Temperature)
	}
	if cfg.Sampling.MaxTokens != 2048 {
		t.Errorf("max tokens = %d", cfg.Sampling.MaxTokens)
	}
	if !cfg.UI.Markdown {
		t.Error("markdown should default on")
	}
	if _, ok := cfg.Providers["ollama"]; !ok {
		t.Error("default providers missing ollama")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	content := `
default_model = "llama-local"

[sampling]
temperature = 0.2
max_tokens = 512

[providers.vllm]
base_url = "http://localhost:8000/v1"
requests_per_minute = 30

[pricing."openai/gpt-4o-mini"]
prompt_per_mtok = 0.15
completion_per_mtok = 0.6
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultModel != "llama-local" {
		t.Errorf("default model = %q", cfg.DefaultModel)
	}
	if cfg.Sampling.Temperature != 0.2 || cfg.Sampling.MaxTokens != 512 {
		t.Errorf("sampling = %+v", cfg.Sampling)
	}
	if p, ok := cfg.Providers["vllm"]; !ok || p.RequestsPerMinute != 30 {
		t.Errorf("vllm provider = %+v, %v", p, ok)
	}
	if pr := cfg.Pricing["openai/gpt-4o-mini"]; pr.PromptPerMTok != 0.15 {
		t.Errorf("pricing = %+v", pr)
	}
}

func TestLoadJSONFallback(t *testing.T) {
	dir := t.TempDir()
	content := `{"default_model": "gpt-mini", "sampling": {"temperature": 1.0, "max_tokens": 256}}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultModel != "gpt-mini" || cfg.Sampling.MaxTokens != 256 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", `default_model = [broken`},
		{"bad temperature", "[sampling]\ntemperature = 9.0\n"},
		{"bad log level", "[logging]\nlevel = \"loud\"\n"},
		{"provider without url", "[providers.ghost]\napi_key = \"x\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(dir); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLYCHAT_DEFAULT_MODEL", "env-model")
	t.Setenv("POLYCHAT_TEMPERATURE", "0.5")
	t.Setenv("POLYCHAT_MAX_TOKENS", "128")
	t.Setenv("POLYCHAT_MARKDOWN", "false")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultModel != "env-model" {
		t.Errorf("default model = %q", cfg.DefaultModel)
	}
	if cfg.Sampling.Temperature != 0.5 || cfg.Sampling.MaxTokens != 128 {
		t.Errorf("sampling = %+v", cfg.Sampling)
	}
	if cfg.UI.Markdown {
		t.Error("markdown should be off")
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-from-env")

	literal := ProviderConfig{APIKey: "sk-literal", APIKeyEnv: "TEST_PROVIDER_KEY"}
	if got := literal.ResolveAPIKey(); got != "sk-literal" {
		t.Errorf("literal key = %q", got)
	}

	env := ProviderConfig{APIKeyEnv: "TEST_PROVIDER_KEY"}
	if got := env.ResolveAPIKey(); got != "sk-from-env" {
		t.Errorf("env key = %q", got)
	}

	none := ProviderConfig{}
	if got := none.ResolveAPIKey(); got != "" {
		t.Errorf("empty key = %q", got)
	}
}

func TestDotEnvLoading(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("POLYCHAT_DEFAULT_MODEL=dotenv-model\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Make sure the variable is not already set in the test process.
	t.Setenv("POLYCHAT_DEFAULT_MODEL", "")
	os.Unsetenv("POLYCHAT_DEFAULT_MODEL")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultModel != "dotenv-model" {
		t.Errorf("default model = %q, want dotenv-model", cfg.DefaultModel)
	}
}

func TestPathHelpers(t *testing.T) {
	cfg := Default()
	dir := "/tmp/polychat-test"

	if got := cfg.RegistryFile(dir); got != filepath.Join(dir, "models.json") {
		t.Errorf("registry = %q", got)
	}
	if got := cfg.ConversationsPath(dir); got != filepath.Join(dir, "conversations") {
		t.Errorf("conversations = %q", got)
	}

	cfg.RegistryPath = "/elsewhere/models.json"
	if got := cfg.RegistryFile(dir); got != "/elsewhere/models.json" {
		t.Errorf("registry override = %q", got)
	}
}
