package llm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	content := `providers:
  anthropic:
    base_url: https://proxy.example.com/anthropic
    api_version: "2023-06-01"
  zhipu:
    base_url: https://proxy.example.com/zhipu
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	presets, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if presets["anthropic"].BaseURL != "https://proxy.example.com/anthropic" {
		t.Errorf("anthropic preset = %+v", presets["anthropic"])
	}
	if presets["anthropic"].APIVersion != "2023-06-01" {
		t.Errorf("api_version = %q", presets["anthropic"].APIVersion)
	}
}

func TestLoadPresetsMissingFile(t *testing.T) {
	presets, err := LoadPresets("/nonexistent/providers.yaml")
	if err != nil {
		t.Fatalf("missing presets file must not error: %v", err)
	}
	if len(presets) != 0 {
		t.Errorf("presets = %v", presets)
	}
}

func TestPresetsApply(t *testing.T) {
	presets := Presets{
		"anthropic": {BaseURL: "https://proxy.example.com", APIVersion: "2023-06-01"},
	}

	// 空字段取预设
	cfg := presets.Apply(ProviderConfig{Tag: "anthropic"})
	if cfg.BaseURL != "https://proxy.example.com" || cfg.APIVersion != "2023-06-01" {
		t.Errorf("cfg = %+v", cfg)
	}

	// 显式配置优先
	cfg = presets.Apply(ProviderConfig{Tag: "anthropic", BaseURL: "https://direct.example.com"})
	if cfg.BaseURL != "https://direct.example.com" {
		t.Errorf("explicit base_url overridden: %+v", cfg)
	}

	// 无预设原样返回
	cfg = presets.Apply(ProviderConfig{Tag: "openai", BaseURL: ""})
	if cfg.BaseURL != "" {
		t.Errorf("cfg = %+v", cfg)
	}
}
