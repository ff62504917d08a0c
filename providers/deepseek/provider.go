package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BaSui01/contentguard/internal/tlsutil"
	"github.com/BaSui01/contentguard/moderation"
	"github.com/BaSui01/contentguard/providers"
	"go.uber.org/zap"
)

// Provider 基于 DeepSeek 的文本审核适配器。
// 单次 chat completion 调用，要求模型以 JSON 对象返回所有启用类目的分值，
// 与 OpenAI 适配器的多端点策略互为替代。
type Provider struct {
	cfg    providers.DeepSeekConfig
	client *http.Client
	logger *zap.Logger
}

// New 创建 DeepSeek 文本审核适配器。
func New(cfg providers.DeepSeekConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
	}
}

func (p *Provider) Name() string { return "deepseek" }

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type categoryAnalysis struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// categoryPrompts 每个文本类目在提示词里的判定指引。
var categoryPrompts = map[string]string{
	moderation.CategoryToxicity:       "toxicity: harassment, hate speech, threats, insults, or otherwise harmful language",
	moderation.CategoryBias:           "bias: prejudiced, discriminatory, or one-sided language targeting groups or individuals",
	moderation.CategoryMisinformation: "misinformation: factual inaccuracies, misleading claims, or debunked statements",
}

// ModerateText 用一次 JSON 模式的 chat completion 对所有启用的文本类目打分。
func (p *Provider) ModerateText(ctx context.Context, text string, set moderation.Settings) (map[string]moderation.CategoryResult, error) {
	var enabled []string
	for _, c := range moderation.TextCategories {
		if set.Enabled(c) {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 {
		return map[string]moderation.CategoryResult{}, nil
	}

	analyses, err := p.analyze(ctx, text, enabled)
	if err != nil {
		return nil, err
	}

	results := make(map[string]moderation.CategoryResult, len(enabled))
	for _, category := range enabled {
		analysis := analyses[category]
		var threshold float64
		switch category {
		case moderation.CategoryToxicity:
			threshold = set.ToxicityThreshold
		case moderation.CategoryBias:
			threshold = set.BiasThreshold
		case moderation.CategoryMisinformation:
			threshold = set.MisinformationThreshold
		}
		var explanation *string
		if analysis.Explanation != "" {
			e := analysis.Explanation
			explanation = &e
		}
		results[category] = moderation.ScoreResult(analysis.Score, threshold, explanation)
	}
	return results, nil
}

func (p *Provider) analyze(ctx context.Context, text string, categories []string) (map[string]categoryAnalysis, error) {
	payload, _ := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: buildSystemPrompt(categories)},
			{Role: "user", Content: text},
		},
		Temperature:    0.1,
		ResponseFormat: responseFormat{Type: "json_object"},
	})

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.WrapTransportError(p.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providers.WrapTransportError(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, providers.MapHTTPError(p.Name(), resp.StatusCode, string(body))
	}

	var cResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, providers.WrapTransportError(p.Name(), fmt.Errorf("decode chat response: %w", err))
	}
	if len(cResp.Choices) == 0 {
		return nil, providers.MapHTTPError(p.Name(), resp.StatusCode, "empty chat choices")
	}

	content := cResp.Choices[0].Message.Content
	analyses := make(map[string]categoryAnalysis)
	if err := json.Unmarshal([]byte(content), &analyses); err != nil {
		// JSON 模式偶尔仍会带前后缀文本，正则兜底提取对象体
		m := jsonObjectPattern.FindString(content)
		if m == "" {
			return nil, providers.WrapTransportError(p.Name(), fmt.Errorf("no JSON object in model output"))
		}
		if err := json.Unmarshal([]byte(m), &analyses); err != nil {
			return nil, providers.WrapTransportError(p.Name(), fmt.Errorf("parse model output: %w", err))
		}
	}
	return analyses, nil
}

func buildSystemPrompt(categories []string) string {
	var b strings.Builder
	b.WriteString("You are a content moderation assistant. Analyze the user's text for the following categories:\n")
	for _, c := range categories {
		b.WriteString("- ")
		b.WriteString(categoryPrompts[c])
		b.WriteString("\n")
	}
	b.WriteString("\nFor each category provide a score from 0 to 1 and a brief explanation. ")
	b.WriteString("Respond with only a JSON object keyed by category name, e.g. ")
	b.WriteString(`{"toxicity": {"score": 0.1, "explanation": "..."}}`)
	return b.String()
}
