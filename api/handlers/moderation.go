package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/contentguard/internal/metrics"
	"github.com/BaSui01/contentguard/internal/tlsutil"
	"github.com/BaSui01/contentguard/moderation"
	"github.com/BaSui01/contentguard/providers"
	"github.com/BaSui01/contentguard/storage"
	"github.com/BaSui01/contentguard/store"
	"github.com/BaSui01/contentguard/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🛡️ 审核 Handler
// =============================================================================

// MaxImageBytes 图像上传与 URL 抓取的体积上限。
const MaxImageBytes = 5 << 20 // 5MB

// fetchTimeout URL 抓取的超时上限，挂起的远端不能拖住请求。
const fetchTimeout = 15 * time.Second

// ModerationHandler 文本与图像审核的编排入口：读取设置、调用上游适配器、
// 执行判定并写入审核日志。
type ModerationHandler struct {
	store    *store.Store
	text     providers.TextProvider
	image    providers.ImageProvider
	uploader storage.Uploader
	metrics  *metrics.Collector
	fetch    *http.Client
	logger   *zap.Logger

	// 非生产环境把上游错误细节透传给客户端，便于排查
	exposeProviderErrors bool
}

// NewModerationHandler 创建审核处理器。uploader 与 metrics 可为 nil。
func NewModerationHandler(
	st *store.Store,
	text providers.TextProvider,
	image providers.ImageProvider,
	uploader storage.Uploader,
	collector *metrics.Collector,
	logger *zap.Logger,
	exposeProviderErrors bool,
) *ModerationHandler {
	return &ModerationHandler{
		store:                st,
		text:                 text,
		image:                image,
		uploader:             uploader,
		metrics:              collector,
		fetch:                tlsutil.SecureHTTPClient(fetchTimeout),
		logger:               logger.Named("moderation"),
		exposeProviderErrors: exposeProviderErrors,
	}
}

type moderateTextRequest struct {
	Text string `json:"text"`
}

type moderateImageURLRequest struct {
	ImageURL string `json:"imageUrl"`
}

// TextModerationResult 文本审核响应体。
type TextModerationResult struct {
	OriginalText      string                               `json:"original_text"`
	ModerationResults map[string]moderation.CategoryResult `json:"moderation_results"`
	Flagged           bool                                 `json:"flagged"`
	LogID             string                               `json:"log_id"`
	Persisted         bool                                 `json:"persisted"`
	Timestamp         time.Time                            `json:"timestamp"`
}

// ImageModerationResult 图像审核响应体。LogoDetection 仅在启用版权检查时
// 出现；ImageURL 仅在被标记图像成功归档后出现。
type ImageModerationResult struct {
	ModerationResults map[string]moderation.CategoryResult `json:"moderation_results"`
	LogoDetection     []moderation.LogoDetection           `json:"logo_detection,omitempty"`
	Flagged           bool                                 `json:"flagged"`
	ImageURL          *string                              `json:"image_url"`
	LogID             string                               `json:"log_id"`
	Persisted         bool                                 `json:"persisted"`
	Timestamp         time.Time                            `json:"timestamp"`
}

// HandleModerateText POST /api/moderate-text
func (h *ModerationHandler) HandleModerateText(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	var req moderateTextRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}

	set, _ := h.store.GetSettings(r.Context(), userID)
	result, err := h.ModerateText(r.Context(), userID, req.Text, set)
	if err != nil {
		WriteAPIError(w, h.sanitizeProviderError(err), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// ModerateText 文本审核管线：调用文本适配器、计算整体判定并写日志。
// 外部 API 处理器复用同一条管线。
func (h *ModerationHandler) ModerateText(ctx context.Context, userID, text string, set moderation.Settings) (*TextModerationResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "text is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	start := time.Now()
	results, err := h.text.ModerateText(ctx, text, set)
	if h.metrics != nil {
		h.metrics.RecordProviderCall(h.text.Name(), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	flagged := moderation.Overall(results)
	if h.metrics != nil {
		h.metrics.RecordModeration("text", flagged)
	}

	// 客户端断连不应中止日志写入
	log, persisted := h.store.SaveLog(context.WithoutCancel(ctx), store.LogEntry{
		UserID:      userID,
		ContentType: "text",
		Content:     text,
		Results:     store.ResultMap(results),
		Flagged:     flagged,
	})

	return &TextModerationResult{
		OriginalText:      text,
		ModerationResults: results,
		Flagged:           flagged,
		LogID:             log.ID,
		Persisted:         persisted,
		Timestamp:         log.CreatedAt,
	}, nil
}

// HandleModerateImage POST /api/moderate-image （multipart，字段名 image）
func (h *ModerationHandler) HandleModerateImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	// 表单本身的开销给 1MB 余量
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes+1<<20)
	file, header, err := r.FormFile("image")
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"image file is required (multipart field 'image')", h.logger)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImageBytes+1))
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "failed to read image", h.logger)
		return
	}
	if len(data) > MaxImageBytes {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"image exceeds 5MB limit", h.logger)
		return
	}
	if len(data) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "image is empty", h.logger)
		return
	}

	set, _ := h.store.GetSettings(r.Context(), userID)
	result, err := h.ModerateImage(r.Context(), userID, data,
		header.Header.Get("Content-Type"), header.Filename, "image", set)
	if err != nil {
		WriteAPIError(w, h.sanitizeProviderError(err), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// HandleModerateImageURL POST /api/moderate-image/url
func (h *ModerationHandler) HandleModerateImageURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	var req moderateImageURLRequest
	if DecodeJSONBody(w, r, &req, h.logger) != nil {
		return
	}

	set, _ := h.store.GetSettings(r.Context(), userID)
	result, err := h.ModerateImageByURL(r.Context(), userID, req.ImageURL, set)
	if err != nil {
		WriteAPIError(w, h.sanitizeProviderError(err), h.logger)
		return
	}
	WriteSuccess(w, result)
}

// ModerateImageByURL 先抓取远程图像（5MB 上限），再走图像审核管线。
// 抓取失败与上游审核失败通过错误码区分。
func (h *ModerationHandler) ModerateImageByURL(ctx context.Context, userID, imageURL string, set moderation.Settings) (*ImageModerationResult, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "imageUrl is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if !strings.HasPrefix(imageURL, "http://") && !strings.HasPrefix(imageURL, "https://") {
		return nil, types.NewError(types.ErrInvalidRequest, "imageUrl must be an http(s) URL").
			WithHTTPStatus(http.StatusBadRequest)
	}

	data, err := providers.FetchImage(ctx, h.fetch, imageURL, MaxImageBytes)
	if err != nil {
		return nil, err
	}
	return h.ModerateImage(ctx, userID, data, "", imageURL, "url", set)
}

// ModerateImage 图像审核管线：调用图像适配器、计算整体判定、归档被标记
// 图像并写日志。contentLabel 记录来源（文件名或 URL）。
func (h *ModerationHandler) ModerateImage(ctx context.Context, userID string, data []byte, contentType, contentLabel, logType string, set moderation.Settings) (*ImageModerationResult, error) {
	start := time.Now()
	result, err := h.image.ModerateImage(ctx, data, set)
	if h.metrics != nil {
		h.metrics.RecordProviderCall(h.image.Name(), time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	flagged := moderation.Overall(result.Categories)
	if h.metrics != nil {
		h.metrics.RecordModeration(logType, flagged)
	}

	pipelineCtx := context.WithoutCancel(ctx)

	// 被标记的图像归档到对象存储；失败只记日志，URL 置空
	var imageURL *string
	if flagged && h.uploader != nil {
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		if url, upErr := h.uploader.Upload(pipelineCtx, data, contentType); upErr != nil {
			h.logger.Warn("flagged image archive failed", zap.Error(upErr))
		} else {
			imageURL = &url
		}
	}

	log, persisted := h.store.SaveLog(pipelineCtx, store.LogEntry{
		UserID:      userID,
		ContentType: logType,
		Content:     contentLabel,
		Results:     store.ResultMap(result.Categories),
		Logos:       store.LogoList(result.Logos),
		Flagged:     flagged,
		ImageURL:    imageURL,
	})

	return &ImageModerationResult{
		ModerationResults: result.Categories,
		LogoDetection:     result.Logos,
		Flagged:           flagged,
		ImageURL:          imageURL,
		LogID:             log.ID,
		Persisted:         persisted,
		Timestamp:         log.CreatedAt,
	}, nil
}

// sanitizeProviderError 生产环境隐去上游错误细节，只保留错误码与通用消息。
func (h *ModerationHandler) sanitizeProviderError(err error) error {
	if h.exposeProviderErrors {
		return err
	}
	apiErr, ok := err.(*types.Error)
	if !ok || apiErr.Provider == "" {
		return err
	}
	return types.NewError(apiErr.Code, "content moderation provider failed").
		WithHTTPStatus(apiErr.HTTPStatus).
		WithRetryable(apiErr.Retryable)
}

// =============================================================================
// 📜 审核历史
// =============================================================================

type historyResponse struct {
	Logs       []store.ModerationLog `json:"logs"`
	Pagination store.Pagination      `json:"pagination"`
}

// HandleTextHistory GET /api/moderate-text/history
func (h *ModerationHandler) HandleTextHistory(w http.ResponseWriter, r *http.Request) {
	h.handleHistory(w, r, []string{"text"})
}

// HandleImageHistory GET /api/moderate-image/history
func (h *ModerationHandler) HandleImageHistory(w http.ResponseWriter, r *http.Request) {
	h.handleHistory(w, r, []string{"image", "url"})
}

func (h *ModerationHandler) handleHistory(w http.ResponseWriter, r *http.Request, contentTypes []string) {
	userID, ok := types.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, http.StatusUnauthorized, types.ErrUnauthorized, "authentication required", h.logger)
		return
	}

	filter, err := parseLogFilter(r)
	if err != nil {
		WriteAPIError(w, err, h.logger)
		return
	}
	filter.ContentTypes = contentTypes

	logs, page, listErr := h.store.ListLogs(r.Context(), userID, filter)
	if listErr != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError,
			"failed to query moderation history", h.logger)
		return
	}

	WriteSuccess(w, historyResponse{Logs: logs, Pagination: page})
}

func parseLogFilter(r *http.Request) (store.LogFilter, error) {
	q := r.URL.Query()
	filter := store.LogFilter{}

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return filter, types.NewError(types.ErrInvalidRequest, "page must be a positive integer").
				WithHTTPStatus(http.StatusBadRequest)
		}
		filter.Page = page
	}
	if v := q.Get("pageSize"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return filter, types.NewError(types.ErrInvalidRequest, "pageSize must be a positive integer").
				WithHTTPStatus(http.StatusBadRequest)
		}
		filter.PageSize = size
	}
	if v := q.Get("flagged"); v != "" {
		flagged, err := strconv.ParseBool(v)
		if err != nil {
			return filter, types.NewError(types.ErrInvalidRequest, "flagged must be true or false").
				WithHTTPStatus(http.StatusBadRequest)
		}
		filter.Flagged = &flagged
	}
	if v := q.Get("from_date"); v != "" {
		from, err := parseDate(v)
		if err != nil {
			return filter, types.NewError(types.ErrInvalidRequest, "from_date must be RFC3339 or YYYY-MM-DD").
				WithHTTPStatus(http.StatusBadRequest)
		}
		filter.From = &from
	}
	if v := q.Get("to_date"); v != "" {
		to, err := parseDate(v)
		if err != nil {
			return filter, types.NewError(types.ErrInvalidRequest, "to_date must be RFC3339 or YYYY-MM-DD").
				WithHTTPStatus(http.StatusBadRequest)
		}
		// 纯日期按当天结束解释
		if len(v) == len("2006-01-02") {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		filter.To = &to
	}
	return filter, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
