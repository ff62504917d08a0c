package providers

import "time"

// OpenAIConfig OpenAI 文本审核适配器配置
type OpenAIConfig struct {
	APIKey         string        `json:"api_key" yaml:"api_key"`
	BaseURL        string        `json:"base_url" yaml:"base_url"`
	Model          string        `json:"model,omitempty" yaml:"model,omitempty"`
	FactCheckModel string        `json:"fact_check_model,omitempty" yaml:"fact_check_model,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DeepSeekConfig DeepSeek 文本审核适配器配置
type DeepSeekConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// VisionConfig Google Cloud Vision 图像审核适配器配置
type VisionConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
