package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/contentguard/internal/tlsutil"
	"github.com/BaSui01/contentguard/types"
	"github.com/google/uuid"
)

// Uploader 被标记图像的对象存储接口。上传失败不阻断审核流程，
// 调用方把 URL 置空继续。
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Config HTTP 对象存储配置。
type Config struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Bucket  string        `json:"bucket" yaml:"bucket"`
	Token   string        `json:"token" yaml:"token"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// HTTPUploader 通过存储服务的 REST 接口上传对象并返回公开访问 URL。
type HTTPUploader struct {
	cfg    Config
	client *http.Client
}

// NewHTTPUploader 创建 HTTP 对象存储上传器。
func NewHTTPUploader(cfg Config) *HTTPUploader {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPUploader{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
	}
}

// Upload 上传对象，对象名随机生成。返回公开访问 URL。
func (u *HTTPUploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	object := fmt.Sprintf("flagged/%s%s", uuid.NewString(), extensionFor(contentType))
	base := strings.TrimRight(u.cfg.BaseURL, "/")
	endpoint := fmt.Sprintf("%s/object/%s/%s", base, u.cfg.Bucket, object)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
	req.Header.Set("Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", types.NewError(types.ErrInternalError,
			fmt.Sprintf("storage upload returned status %d: %s", resp.StatusCode, body))
	}
	return fmt.Sprintf("%s/object/public/%s/%s", base, u.cfg.Bucket, object), nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
