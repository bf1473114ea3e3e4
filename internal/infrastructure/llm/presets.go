package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset 单个提供商的默认端点配置
type Preset struct {
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
}

// Presets 按提供商标签索引的默认配置集
// 来自可选的 providers.yaml, 只在 LLM 行未显式配置时生效
type Presets map[string]Preset

// LoadPresets 读取 providers.yaml
// 文件不存在返回空集而非错误, 预设是可选的
func LoadPresets(path string) (Presets, error) {
	if path == "" {
		return Presets{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Presets{}, nil
		}
		return nil, fmt.Errorf("read presets file: %w", err)
	}

	var raw struct {
		Providers map[string]Preset `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse presets file %s: %w", path, err)
	}
	if raw.Providers == nil {
		return Presets{}, nil
	}
	return raw.Providers, nil
}

// Apply 把预设合并进提供商配置, 显式值优先
func (p Presets) Apply(cfg ProviderConfig) ProviderConfig {
	preset, ok := p[cfg.Tag]
	if !ok {
		return cfg
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = preset.BaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = preset.APIVersion
	}
	return cfg
}
