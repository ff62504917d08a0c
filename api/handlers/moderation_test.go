package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/contentguard/moderation"
	"github.com/BaSui01/contentguard/providers"
	"github.com/BaSui01/contentguard/store"
	"github.com/BaSui01/contentguard/types"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ============= 测试桩 =============

type fakeTextProvider struct {
	results map[string]moderation.CategoryResult
	err     error
	gotText string
	gotSet  moderation.Settings
}

func (f *fakeTextProvider) Name() string { return "fake-text" }

func (f *fakeTextProvider) ModerateText(ctx context.Context, text string, set moderation.Settings) (map[string]moderation.CategoryResult, error) {
	f.gotText = text
	f.gotSet = set
	return f.results, f.err
}

type fakeImageProvider struct {
	result  *providers.ImageResult
	err     error
	gotSet  moderation.Settings
	gotSize int
}

func (f *fakeImageProvider) Name() string { return "fake-image" }

func (f *fakeImageProvider) ModerateImage(ctx context.Context, image []byte, set moderation.Settings) (*providers.ImageResult, error) {
	f.gotSize = len(image)
	f.gotSet = set
	return f.result, f.err
}

type fakeUploader struct {
	url string
	err error
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	return f.url, f.err
}

func newHandlerStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s := store.New(db, nil, zap.NewNop())
	require.NoError(t, s.AutoMigrate())
	s.Probe(context.Background())
	return s
}

func authedRequest(method, target string, body *bytes.Buffer) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(types.WithUserID(req.Context(), "user-1"))
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// ============= 文本审核 =============

func TestHandleModerateText(t *testing.T) {
	text := &fakeTextProvider{results: map[string]moderation.CategoryResult{
		moderation.CategoryToxicity: {Flagged: true, Score: 0.95},
		moderation.CategoryBias:     {Flagged: false, Score: 0.1},
	}}
	st := newHandlerStore(t)
	h := NewModerationHandler(st, text, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	body := bytes.NewBufferString(`{"text": "nasty content"}`)
	rec := httptest.NewRecorder()
	h.HandleModerateText(rec, authedRequest(http.MethodPost, "/api/moderate-text", body))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data, _ := json.Marshal(resp.Data)
	var result TextModerationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "nasty content", result.OriginalText)
	assert.True(t, result.Flagged)
	assert.True(t, result.Persisted)
	assert.NotEmpty(t, result.LogID)
	assert.Equal(t, "nasty content", text.gotText)
	// 默认设置传给了适配器
	assert.InDelta(t, 0.7, text.gotSet.ToxicityThreshold, 1e-9)

	// 日志已落库
	log, err := st.GetLog(context.Background(), "user-1", result.LogID)
	require.NoError(t, err)
	assert.Equal(t, "text", log.ContentType)
	assert.True(t, log.Flagged)
}

func TestHandleModerateTextEmpty(t *testing.T) {
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	rec := httptest.NewRecorder()
	h.HandleModerateText(rec, authedRequest(http.MethodPost, "/api/moderate-text",
		bytes.NewBufferString(`{"text": "   "}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
}

func TestHandleModerateTextUnauthenticated(t *testing.T) {
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	req := httptest.NewRequest(http.MethodPost, "/api/moderate-text",
		bytes.NewBufferString(`{"text": "hi"}`))
	rec := httptest.NewRecorder()
	h.HandleModerateText(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleModerateTextProviderError(t *testing.T) {
	provErr := types.NewError(types.ErrProviderError, "openai returned status 500: boom").
		WithProvider("openai").
		WithHTTPStatus(http.StatusBadGateway)
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{err: provErr},
		&fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	rec := httptest.NewRecorder()
	h.HandleModerateText(rec, authedRequest(http.MethodPost, "/api/moderate-text",
		bytes.NewBufferString(`{"text": "hi"}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(types.ErrProviderError), resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "boom")
}

func TestHandleModerateTextProviderErrorSanitizedInProduction(t *testing.T) {
	provErr := types.NewError(types.ErrProviderError, "openai returned status 500: secret detail").
		WithProvider("openai").
		WithHTTPStatus(http.StatusBadGateway)
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{err: provErr},
		&fakeImageProvider{}, nil, nil, zap.NewNop(), false)

	rec := httptest.NewRecorder()
	h.HandleModerateText(rec, authedRequest(http.MethodPost, "/api/moderate-text",
		bytes.NewBufferString(`{"text": "hi"}`)))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(types.ErrProviderError), resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "secret detail")
}

func TestModerateTextLogWriteDegrades(t *testing.T) {
	st := newHandlerStore(t)
	text := &fakeTextProvider{results: map[string]moderation.CategoryResult{
		moderation.CategoryToxicity: {Flagged: false, Score: 0.1},
	}}
	h := NewModerationHandler(st, text, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	result, err := h.ModerateText(context.Background(), "user-1", "fine text", moderation.DefaultSettings())
	require.NoError(t, err)
	require.True(t, result.Persisted)

	// 日志表失效后审核仍然成功，返回临时记录
	require.NoError(t, st.DB().Migrator().DropTable(&store.ModerationLog{}))
	result, err = h.ModerateText(context.Background(), "user-1", "fine text", moderation.DefaultSettings())
	require.NoError(t, err)
	assert.False(t, result.Persisted)
	assert.True(t, strings.HasPrefix(result.LogID, "temp-"))
	assert.False(t, result.Flagged)
}

// ============= 图像审核 =============

func multipartImage(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func flaggedImageResult() *providers.ImageResult {
	return &providers.ImageResult{
		Categories: map[string]moderation.CategoryResult{
			moderation.CategoryAdult: {Flagged: true, Score: 0.8, Likelihood: moderation.Likely},
		},
		Logos: []moderation.LogoDetection{{Description: "Acme", Confidence: 0.9}},
	}
}

func TestHandleModerateImage(t *testing.T) {
	st := newHandlerStore(t)
	image := &fakeImageProvider{result: flaggedImageResult()}
	uploader := &fakeUploader{url: "https://cdn.example.com/flagged/1.jpg"}
	h := NewModerationHandler(st, &fakeTextProvider{}, image, uploader, nil, zap.NewNop(), true)

	body, contentType := multipartImage(t, "image", "photo.jpg", []byte("jpeg-data"))
	req := authedRequest(http.MethodPost, "/api/moderate-image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.HandleModerateImage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var result ImageModerationResult
	require.NoError(t, json.Unmarshal(data, &result))

	assert.True(t, result.Flagged)
	require.NotNil(t, result.ImageURL)
	assert.Equal(t, "https://cdn.example.com/flagged/1.jpg", *result.ImageURL)
	require.Len(t, result.LogoDetection, 1)
	assert.Equal(t, 9, image.gotSize)

	log, err := st.GetLog(context.Background(), "user-1", result.LogID)
	require.NoError(t, err)
	assert.Equal(t, "image", log.ContentType)
	assert.Equal(t, "photo.jpg", log.Content)
	require.NotNil(t, log.ImageURL)
}

func TestHandleModerateImageUploadFailureLeavesURLNull(t *testing.T) {
	image := &fakeImageProvider{result: flaggedImageResult()}
	uploader := &fakeUploader{err: errors.New("bucket down")}
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, image, uploader, nil, zap.NewNop(), true)

	body, contentType := multipartImage(t, "image", "photo.jpg", []byte("jpeg-data"))
	req := authedRequest(http.MethodPost, "/api/moderate-image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.HandleModerateImage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "upload failure must not fail moderation")
	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var result ImageModerationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.Flagged)
	assert.Nil(t, result.ImageURL)
}

func TestHandleModerateImageNotFlaggedSkipsUpload(t *testing.T) {
	image := &fakeImageProvider{result: &providers.ImageResult{
		Categories: map[string]moderation.CategoryResult{
			moderation.CategoryAdult: {Flagged: false, Score: 0.2, Likelihood: moderation.VeryUnlikely},
		},
	}}
	// uploader 返回错误：若被调用测试会注意到 image_url 反常
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, image,
		&fakeUploader{url: "https://should-not-appear"}, nil, zap.NewNop(), true)

	body, contentType := multipartImage(t, "image", "ok.png", []byte("png"))
	req := authedRequest(http.MethodPost, "/api/moderate-image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.HandleModerateImage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var result ImageModerationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.False(t, result.Flagged)
	assert.Nil(t, result.ImageURL)
}

func TestHandleModerateImageMissingFile(t *testing.T) {
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	body, contentType := multipartImage(t, "wrong_field", "x.jpg", []byte("data"))
	req := authedRequest(http.MethodPost, "/api/moderate-image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.HandleModerateImage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleModerateImageTooLarge(t *testing.T) {
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	body, contentType := multipartImage(t, "image", "big.jpg", make([]byte, MaxImageBytes+1))
	req := authedRequest(http.MethodPost, "/api/moderate-image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.HandleModerateImage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleModerateImageURLFetchFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	body := bytes.NewBufferString(`{"imageUrl": "` + upstream.URL + `/gone.jpg"}`)
	rec := httptest.NewRecorder()
	h.HandleModerateImageURL(rec, authedRequest(http.MethodPost, "/api/moderate-image/url", body))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, string(types.ErrContentFetch), resp.Error.Code)
}

func TestModerateImageByURLFetchClientTimeout(t *testing.T) {
	blocked := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked // 挂起的远端，抓取只能靠客户端超时解围
	}))
	defer upstream.Close()
	defer close(blocked)

	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)
	require.NotNil(t, h.fetch)
	require.NotZero(t, h.fetch.Timeout, "URL fetch client must carry a timeout")
	h.fetch = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := h.ModerateImageByURL(context.Background(), "user-1",
		upstream.URL+"/slow.jpg", moderation.DefaultSettings())
	require.Error(t, err)
	assert.Equal(t, types.ErrContentFetch, types.GetErrorCode(err))
}

func TestHandleModerateImageURLInvalidScheme(t *testing.T) {
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	body := bytes.NewBufferString(`{"imageUrl": "ftp://example.com/x.jpg"}`)
	rec := httptest.NewRecorder()
	h.HandleModerateImageURL(rec, authedRequest(http.MethodPost, "/api/moderate-image/url", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============= 审核历史 =============

func TestHandleHistorySplitByContentType(t *testing.T) {
	st := newHandlerStore(t)
	text := &fakeTextProvider{results: map[string]moderation.CategoryResult{
		moderation.CategoryToxicity: {Flagged: true, Score: 0.9},
	}}
	image := &fakeImageProvider{result: flaggedImageResult()}
	h := NewModerationHandler(st, text, image, nil, nil, zap.NewNop(), true)

	ctx := context.Background()
	_, err := h.ModerateText(ctx, "user-1", "bad", moderation.DefaultSettings())
	require.NoError(t, err)
	_, err = h.ModerateImage(ctx, "user-1", []byte("img"), "", "pic.jpg", "image", moderation.DefaultSettings())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.HandleTextHistory(rec, authedRequest(http.MethodGet, "/api/moderate-text/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var history historyResponse
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Logs, 1)
	assert.Equal(t, "text", history.Logs[0].ContentType)
	assert.Equal(t, int64(1), history.Pagination.Total)

	rec = httptest.NewRecorder()
	h.HandleImageHistory(rec, authedRequest(http.MethodGet, "/api/moderate-image/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeResponse(t, rec)
	data, _ = json.Marshal(resp.Data)
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Logs, 1)
	assert.Equal(t, "image", history.Logs[0].ContentType)
}

func TestHandleHistoryBadQuery(t *testing.T) {
	h := NewModerationHandler(newHandlerStore(t), &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	rec := httptest.NewRecorder()
	h.HandleTextHistory(rec, authedRequest(http.MethodGet, "/api/moderate-text/history?page=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleTextHistory(rec, authedRequest(http.MethodGet, "/api/moderate-text/history?flagged=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleTextHistory(rec, authedRequest(http.MethodGet, "/api/moderate-text/history?from_date=notadate", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHistoryFlaggedFilter(t *testing.T) {
	st := newHandlerStore(t)
	h := NewModerationHandler(st, &fakeTextProvider{}, &fakeImageProvider{}, nil, nil, zap.NewNop(), true)

	st.SaveLog(context.Background(), store.LogEntry{UserID: "user-1", ContentType: "text", Flagged: true})
	st.SaveLog(context.Background(), store.LogEntry{UserID: "user-1", ContentType: "text", Flagged: false})

	rec := httptest.NewRecorder()
	h.HandleTextHistory(rec, authedRequest(http.MethodGet, "/api/moderate-text/history?flagged=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var history historyResponse
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history.Logs, 1)
	assert.True(t, history.Logs[0].Flagged)
}
