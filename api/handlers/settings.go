package handlers

import (
	"net/http"

	"github.com/BaSui01/contentguard/moderation"
	"github.com/BaSui01/contentguard/store"
	"github.com/BaSui01/contentguard/types"
	"go.uber.org/zap"
)

// =============================================================================
// ⚙️ 设置 Handler
// =============================================================================

// SettingsHandler 用户审核设置的读写。
type SettingsHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewSettingsHandler 创建设置处理器。
func NewSettingsHandler(st *store.Store, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{store: st, logger: logger.Named("settings")}
}

type settingsResponse struct {
	Settings  store.UserSettings `json:"settings"`
	Persisted bool               `json:"persisted"`
}

// HandleGetSettings GET /api/settings
func (h *SettingsHandler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	row, persisted := h.store.GetSettingsRow(r.Context(), userID)
	WriteSuccess(w, settingsResponse{Settings: row, Persisted: persisted})
}

// HandleUpdateSettings PUT /api/settings（部分更新，缺失字段保留原值）
func (h *SettingsHandler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	var patch store.SettingsPatch
	if DecodeJSONBody(w, r, &patch, h.logger) != nil {
		return
	}
	if err := validateSettingsPatch(patch); err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}

	row, persisted := h.store.UpdateSettings(r.Context(), userID, patch)
	WriteSuccess(w, settingsResponse{Settings: row, Persisted: persisted})
}

func validateSettingsPatch(patch store.SettingsPatch) error {
	for name, v := range map[string]*float64{
		"toxicity_threshold":       patch.ToxicityThreshold,
		"bias_threshold":           patch.BiasThreshold,
		"misinformation_threshold": patch.MisinformationThreshold,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return types.NewError(types.ErrInvalidRequest, name+" must be between 0 and 1").
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	for name, v := range map[string]*string{
		"adult_threshold":    patch.AdultThreshold,
		"violence_threshold": patch.ViolenceThreshold,
		"medical_threshold":  patch.MedicalThreshold,
		"spoof_threshold":    patch.SpoofThreshold,
	} {
		if v != nil && !moderation.Likelihood(*v).Valid() {
			return types.NewError(types.ErrInvalidRequest, name+" must be a valid likelihood value").
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	for _, c := range patch.EnabledCategories {
		if !knownCategory(c) {
			return types.NewError(types.ErrInvalidRequest, "unknown category: "+c).
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	return nil
}

func knownCategory(c string) bool {
	for _, known := range append(moderation.TextCategories, moderation.ImageCategories...) {
		if c == known {
			return true
		}
	}
	return false
}

// =============================================================================
// 📚 类目目录
// =============================================================================

// CategoryInfo 类目目录条目。
type CategoryInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContentType   string `json:"content_type"`   // text | image
	ThresholdType string `json:"threshold_type"` // score | likelihood
}

var categoryCatalog = []CategoryInfo{
	{moderation.CategoryToxicity, "Toxicity", "Harassment, hate speech, threats, and other harmful language", "text", "score"},
	{moderation.CategoryBias, "Bias", "Prejudiced or discriminatory language", "text", "score"},
	{moderation.CategoryMisinformation, "Misinformation", "Factual inaccuracies and misleading claims", "text", "score"},
	{moderation.CategoryAdult, "Adult content", "Sexually explicit or suggestive imagery", "image", "likelihood"},
	{moderation.CategoryViolence, "Violence", "Violent or graphic imagery", "image", "likelihood"},
	{moderation.CategoryMedical, "Medical", "Medical or surgical imagery", "image", "likelihood"},
	{moderation.CategorySpoof, "Spoof", "Memes and altered imagery", "image", "likelihood"},
}

// HandleCategories GET /api/settings/categories（静态目录）
func (h *SettingsHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"categories": categoryCatalog,
		"likelihood_values": []moderation.Likelihood{
			moderation.VeryUnlikely, moderation.Unlikely, moderation.Possible,
			moderation.Likely, moderation.VeryLikely,
		},
	})
}
