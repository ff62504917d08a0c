package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/contentguard/internal/tlsutil"
	"github.com/BaSui01/contentguard/moderation"
	"github.com/BaSui01/contentguard/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Provider 基于 Google Cloud Vision 的图像审核适配器。
// Safe Search 检测是主判定，徽标检测仅在启用版权检查时附带执行，
// 且徽标检测失败不影响整体结果。
type Provider struct {
	cfg    providers.VisionConfig
	client *http.Client
	logger *zap.Logger
}

// New 创建 Vision 图像审核适配器。
func New(cfg providers.VisionConfig, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://vision.googleapis.com/v1"
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

func (p *Provider) Name() string { return "vision" }

type annotateRequest struct {
	Requests []annotateItem `json:"requests"`
}

type annotateItem struct {
	Image    annotateImage     `json:"image"`
	Features []annotateFeature `json:"features"`
}

type annotateImage struct {
	Content string `json:"content"`
}

type annotateFeature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type annotateResponse struct {
	Responses []annotateResult `json:"responses"`
}

type annotateResult struct {
	SafeSearchAnnotation *safeSearchAnnotation `json:"safeSearchAnnotation"`
	LogoAnnotations      []logoAnnotation      `json:"logoAnnotations"`
	Error                *annotateError        `json:"error"`
}

type safeSearchAnnotation struct {
	Adult    string `json:"adult"`
	Violence string `json:"violence"`
	Medical  string `json:"medical"`
	Spoof    string `json:"spoof"`
	Racy     string `json:"racy"`
}

type logoAnnotation struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

type annotateError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ModerateImage 对图像并发执行 Safe Search 与（可选的）徽标检测。
// Safe Search 失败导致整次调用失败；徽标检测失败只记日志并把结果置空。
func (p *Provider) ModerateImage(ctx context.Context, image []byte, set moderation.Settings) (*providers.ImageResult, error) {
	encoded := base64.StdEncoding.EncodeToString(image)

	var (
		safeSearch *safeSearchAnnotation
		logos      []moderation.LogoDetection
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		safeSearch, err = p.detectSafeSearch(gctx, encoded)
		return err
	})
	if set.CheckCopyright {
		g.Go(func() error {
			detected, err := p.detectLogos(gctx, encoded)
			if err != nil {
				p.logger.Warn("logo detection failed", zap.Error(err))
				return nil
			}
			logos = detected
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &providers.ImageResult{
		Categories: make(map[string]moderation.CategoryResult),
		Logos:      logos,
	}

	observed := map[string]string{
		moderation.CategoryAdult:    safeSearch.Adult,
		moderation.CategoryViolence: safeSearch.Violence,
		moderation.CategoryMedical:  safeSearch.Medical,
		moderation.CategorySpoof:    safeSearch.Spoof,
	}
	thresholds := map[string]moderation.Likelihood{
		moderation.CategoryAdult:    set.AdultThreshold,
		moderation.CategoryViolence: set.ViolenceThreshold,
		moderation.CategoryMedical:  set.MedicalThreshold,
		moderation.CategorySpoof:    set.SpoofThreshold,
	}
	for _, category := range moderation.ImageCategories {
		if !set.Enabled(category) {
			continue
		}
		result.Categories[category] = moderation.LikelihoodResult(
			moderation.LikelihoodFrom(observed[category]), thresholds[category])
	}
	return result, nil
}

func (p *Provider) detectSafeSearch(ctx context.Context, encoded string) (*safeSearchAnnotation, error) {
	resp, err := p.annotate(ctx, encoded, annotateFeature{Type: "SAFE_SEARCH_DETECTION"})
	if err != nil {
		return nil, err
	}
	if resp.SafeSearchAnnotation == nil {
		return nil, providers.MapHTTPError(p.Name(), http.StatusOK, "missing safeSearchAnnotation")
	}
	return resp.SafeSearchAnnotation, nil
}

func (p *Provider) detectLogos(ctx context.Context, encoded string) ([]moderation.LogoDetection, error) {
	resp, err := p.annotate(ctx, encoded, annotateFeature{Type: "LOGO_DETECTION", MaxResults: 10})
	if err != nil {
		return nil, err
	}
	logos := make([]moderation.LogoDetection, 0, len(resp.LogoAnnotations))
	for _, l := range resp.LogoAnnotations {
		logos = append(logos, moderation.LogoDetection{
			Description: l.Description,
			Confidence:  l.Score,
		})
	}
	return logos, nil
}

func (p *Provider) annotate(ctx context.Context, encoded string, feature annotateFeature) (*annotateResult, error) {
	payload, _ := json.Marshal(annotateRequest{
		Requests: []annotateItem{
			{
				Image:    annotateImage{Content: encoded},
				Features: []annotateFeature{feature},
			},
		},
	})

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/images:annotate?key=" + p.cfg.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, providers.WrapTransportError(p.Name(), err)
	}
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

	var aResp annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&aResp); err != nil {
		return nil, providers.WrapTransportError(p.Name(), fmt.Errorf("decode annotate response: %w", err))
	}
	if len(aResp.Responses) == 0 {
		return nil, providers.MapHTTPError(p.Name(), resp.StatusCode, "empty annotate responses")
	}
	// 顶层 200 时单个 response 仍可能携带错误
	if e := aResp.Responses[0].Error; e != nil {
		return nil, providers.MapHTTPError(p.Name(), resp.StatusCode,
			fmt.Sprintf("annotate error %d: %s", e.Code, e.Message))
	}
	return &aResp.Responses[0], nil
}
