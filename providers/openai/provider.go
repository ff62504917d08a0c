package openai

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

// Provider 基于 OpenAI 的文本审核适配器。
// 两段式：/moderations 端点给出毒性/偏见信号，misinformation 类目走一次
// 低温度的 chat completion 事实核查。
type Provider struct {
	cfg    providers.OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// New 创建 OpenAI 文本审核适配器。
func New(cfg providers.OpenAIConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "omni-moderation-latest"
	}
	if cfg.FactCheckModel == "" {
		cfg.FactCheckModel = "gpt-3.5-turbo"
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

func (p *Provider) Name() string { return "openai" }

type moderationRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

// toxicitySubcategories 组成规范毒性分值的上游子类目。
var toxicitySubcategories = []string{"harassment", "hate", "self-harm", "sexual", "violence"}

var toxicityExplanations = map[string]string{
	"harassment": "Content may contain harassment.",
	"hate":       "Content may contain hate speech.",
	"self-harm":  "Content may reference self-harm.",
	"sexual":     "Content may contain sexual content.",
	"violence":   "Content may contain violent content.",
}

// ModerateText 调用 /moderations 并把上游子类目映射到规范类目：
// toxicity 取子类目分值的最大值，bias 以 hate 分值为代理，misinformation
// 由独立的事实核查调用给出。只计算启用集中的类目。
func (p *Provider) ModerateText(ctx context.Context, text string, set moderation.Settings) (map[string]moderation.CategoryResult, error) {
	results := make(map[string]moderation.CategoryResult)

	needsModeration := set.Enabled(moderation.CategoryToxicity) || set.Enabled(moderation.CategoryBias)
	var modResult *moderationResponse
	if needsModeration {
		var err error
		modResult, err = p.callModerations(ctx, text)
		if err != nil {
			return nil, err
		}
	}

	if set.Enabled(moderation.CategoryToxicity) {
		scores := modResult.Results[0].CategoryScores
		flags := modResult.Results[0].Categories
		var max float64
		for _, sub := range toxicitySubcategories {
			if s := scores[sub]; s > max {
				max = s
			}
		}
		results[moderation.CategoryToxicity] = moderation.ScoreResult(
			max, set.ToxicityThreshold, toxicityExplanation(flags))
	}

	if set.Enabled(moderation.CategoryBias) {
		// 上游没有独立的偏见类目，用 hate 分值做代理。
		msg := "Content may contain biased language or perspectives."
		results[moderation.CategoryBias] = moderation.ScoreResult(
			modResult.Results[0].CategoryScores["hate"], set.BiasThreshold, &msg)
	}

	if set.Enabled(moderation.CategoryMisinformation) {
		score, explanation := p.checkMisinformation(ctx, text)
		results[moderation.CategoryMisinformation] = moderation.ScoreResult(
			score, set.MisinformationThreshold, explanation)
	}

	return results, nil
}

func (p *Provider) callModerations(ctx context.Context, text string) (*moderationResponse, error) {
	payload, _ := json.Marshal(moderationRequest{Model: p.cfg.Model, Input: text})
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/moderations"
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

	var mResp moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&mResp); err != nil {
		return nil, providers.WrapTransportError(p.Name(), fmt.Errorf("decode moderation response: %w", err))
	}
	if len(mResp.Results) == 0 {
		return nil, providers.MapHTTPError(p.Name(), resp.StatusCode, "empty moderation results")
	}
	return &mResp, nil
}

func toxicityExplanation(flags map[string]bool) *string {
	var parts []string
	for _, sub := range toxicitySubcategories {
		if flags[sub] {
			parts = append(parts, toxicityExplanations[sub])
		}
	}
	if len(parts) == 0 {
		return nil
	}
	msg := strings.Join(parts, " ")
	return &msg
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
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

type factCheckResult struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

const factCheckSystemPrompt = `You are a fact-checking assistant. Analyze the following text for potential misinformation, factual inaccuracies, or misleading claims. Provide a score from 0 to 1 where 0 means no misinformation and 1 means definite misinformation. Also provide a brief explanation of your reasoning.

Format your response as a JSON object: {"score": 0.7, "explanation": "..."}`

// 事实核查失败时的兜底分值：低置信的"无法判断"，不会误标内容。
const fallbackMisinformationScore = 0.3

var jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// checkMisinformation 通过一次低温度 chat completion 评估虚假信息分值。
// 该调用是尽力而为的：任何失败都回退到默认分值而不是让整次审核失败。
func (p *Provider) checkMisinformation(ctx context.Context, text string) (float64, *string) {
	payload, _ := json.Marshal(chatRequest{
		Model: p.cfg.FactCheckModel,
		Messages: []chatMessage{
			{Role: "system", Content: factCheckSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.1,
	})

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fallbackMisinformationScore, fallbackExplanation()
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("misinformation check failed", zap.Error(err))
		return fallbackMisinformationScore, fallbackExplanation()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		p.logger.Warn("misinformation check rejected", zap.Int("status", resp.StatusCode))
		return fallbackMisinformationScore, fallbackExplanation()
	}

	var cResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil || len(cResp.Choices) == 0 {
		return fallbackMisinformationScore, fallbackExplanation()
	}

	content := cResp.Choices[0].Message.Content
	var result factCheckResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		// 模型偶尔在 JSON 外包一段说明文字，再试一次正则提取
		if m := jsonObjectPattern.FindString(content); m != "" {
			if err := json.Unmarshal([]byte(m), &result); err != nil {
				return fallbackMisinformationScore, fallbackExplanation()
			}
		} else {
			return fallbackMisinformationScore, fallbackExplanation()
		}
	}

	var explanation *string
	if result.Explanation != "" {
		explanation = &result.Explanation
	}
	return result.Score, explanation
}

func fallbackExplanation() *string {
	msg := "Unable to analyze for misinformation."
	return &msg
}
