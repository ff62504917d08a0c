package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/contentguard/store"
	"github.com/BaSui01/contentguard/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// APIKeyHandler 处理外部 API 密钥的 CRUD 操作
type APIKeyHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewAPIKeyHandler 创建 APIKeyHandler
func NewAPIKeyHandler(st *store.Store, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{store: st, logger: logger.Named("apikey")}
}

// apiKeyResponse 脱敏后的密钥响应，完整密钥只在创建时返回一次
type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key,omitempty"` // 仅创建响应携带完整密钥
	KeyMasked  string     `json:"key_masked"`
	Active     bool       `json:"active"`
	RateLimit  int        `json:"rate_limit"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func toAPIKeyResponse(k store.APIKey, includeRaw bool) apiKeyResponse {
	resp := apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyMasked:  k.Masked(),
		Active:     k.Active,
		RateLimit:  k.RateLimit,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
	if includeRaw {
		resp.Key = k.Key
	}
	return resp
}

type createKeyRequest struct {
	Name      string `json:"name"`
	RateLimit int    `json:"rate_limit,omitempty"`
}

// HandleCreateKey POST /api/settings/api-key
func (h *APIKeyHandler) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	var req createKeyRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "name is required", h.logger)
		return
	}
	if req.RateLimit < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "rate_limit must be positive", h.logger)
		return
	}

	key, err := h.store.CreateKey(r.Context(), userID, req.Name, req.RateLimit)
	if err != nil {
		h.logger.Error("failed to create API key", zap.Error(err))
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to create API key", h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      toAPIKeyResponse(*key, true),
		Timestamp: time.Now(),
	})
}

// HandleListKeys GET /api/settings/api-keys
func (h *APIKeyHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	keys, err := h.store.ListKeys(r.Context(), userID)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to list API keys", h.logger)
		return
	}

	responses := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		responses = append(responses, toAPIKeyResponse(k, false))
	}
	WriteSuccess(w, responses)
}

// HandleUpdateKey PUT /api/settings/api-key/{id}
func (h *APIKeyHandler) HandleUpdateKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}
	keyID := r.PathValue("id")
	if keyID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "key id is required", h.logger)
		return
	}

	var patch store.KeyPatch
	if DecodeJSONBody(w, r, &patch, h.logger) != nil {
		return
	}

	key, err := h.store.UpdateKey(r.Context(), userID, keyID, patch)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "API key not found", h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to update API key", h.logger)
		return
	}
	WriteSuccess(w, toAPIKeyResponse(*key, false))
}

// HandleDeleteKey DELETE /api/settings/api-key/{id}
func (h *APIKeyHandler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}
	keyID := r.PathValue("id")
	if keyID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "key id is required", h.logger)
		return
	}

	if err := h.store.DeleteKey(r.Context(), userID, keyID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "API key not found", h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "failed to delete API key", h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": keyID, "status": "deleted"})
}
