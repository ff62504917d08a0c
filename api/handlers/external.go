package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/BaSui01/contentguard/moderation"
	"github.com/BaSui01/contentguard/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 外部 API Handler
// =============================================================================

// ExternalHandler 面向程序化集成的外部 API。身份来自 x-api-key 网关中间件，
// 复用内部审核管线，额外支持每次调用的设置覆盖。
type ExternalHandler struct {
	moderation *ModerationHandler
	logger     *zap.Logger
}

// NewExternalHandler 创建外部 API 处理器。
func NewExternalHandler(m *ModerationHandler, logger *zap.Logger) *ExternalHandler {
	return &ExternalHandler{moderation: m, logger: logger.Named("external")}
}

type externalTextRequest struct {
	Text     string               `json:"text"`
	Settings *moderation.Override `json:"settings,omitempty"`
}

type externalImageRequest struct {
	Image    string               `json:"image"` // base64
	Settings *moderation.Override `json:"settings,omitempty"`
}

type externalImageURLRequest struct {
	ImageURL string               `json:"imageUrl"`
	Settings *moderation.Override `json:"settings,omitempty"`
}

// HandleModerateText POST /api/external/moderate-text
func (h *ExternalHandler) HandleModerateText(w http.ResponseWriter, r *http.Request) {
	info, ok := types.APIKey(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "API key required", h.logger)
		return
	}

	var req externalTextRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}

	set, err := h.effectiveSettings(r, info.UserID, req.Settings)
	if err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}

	result, err := h.moderation.ModerateText(r.Context(), info.UserID, req.Text, set)
	if err != nil {
		WriteAPIError(w, h.moderation.sanitizeProviderError(err), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleModerateImage POST /api/external/moderate-image（base64 图像）
func (h *ExternalHandler) HandleModerateImage(w http.ResponseWriter, r *http.Request) {
	info, ok := types.APIKey(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "API key required", h.logger)
		return
	}

	var req externalImageRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if req.Image == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "image is required", h.logger)
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "image must be valid base64", h.logger)
		return
	}
	if len(data) > MaxImageBytes {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "image exceeds 5MB limit", h.logger)
		return
	}

	set, setErr := h.effectiveSettings(r, info.UserID, req.Settings)
	if setErr != nil {
		WriteAPIError(w, setErr, h.logger)
		return
	}

	result, err := h.moderation.ModerateImage(r.Context(), info.UserID, data, "", "external-upload", "image", set)
	if err != nil {
		WriteAPIError(w, h.moderation.sanitizeProviderError(err), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleModerateImageURL POST /api/external/moderate-image/url
func (h *ExternalHandler) HandleModerateImageURL(w http.ResponseWriter, r *http.Request) {
	info, ok := types.APIKey(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "API key required", h.logger)
		return
	}

	var req externalImageURLRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}

	set, err := h.effectiveSettings(r, info.UserID, req.Settings)
	if err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}

	result, err := h.moderation.ModerateImageByURL(r.Context(), info.UserID, req.ImageURL, set)
	if err != nil {
		WriteAPIError(w, h.moderation.sanitizeProviderError(err), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// effectiveSettings 存储的设置与每次调用覆盖的逐字段合并结果。
func (h *ExternalHandler) effectiveSettings(r *http.Request, userID string, override *moderation.Override) (moderation.Settings, error) {
	if err := validateOverride(override); err != nil {
		return moderation.Settings{}, err
	}
	set, _ := h.moderation.store.GetSettings(r.Context(), userID)
	return moderation.Merge(set, override), nil
}

func validateOverride(o *moderation.Override) error {
	if o == nil {
		return nil
	}
	for name, v := range map[string]*float64{
		"toxicity_threshold":       o.ToxicityThreshold,
		"bias_threshold":           o.BiasThreshold,
		"misinformation_threshold": o.MisinformationThreshold,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return types.NewError(types.ErrInvalidRequest, name+" must be between 0 and 1").
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	for name, v := range map[string]*moderation.Likelihood{
		"adult_threshold":    o.AdultThreshold,
		"violence_threshold": o.ViolenceThreshold,
		"medical_threshold":  o.MedicalThreshold,
		"spoof_threshold":    o.SpoofThreshold,
	} {
		if v != nil && !v.Valid() {
			return types.NewError(types.ErrInvalidRequest, name+" must be a valid likelihood value").
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	for _, c := range o.Categories {
		if !knownCategory(c) {
			return types.NewError(types.ErrInvalidRequest, "unknown category: "+c).
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	return nil
}
