package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/BaSui01/contentguard/types"
)

// MapHTTPError 将上游非 2xx 响应映射为统一错误。429 与 5xx 可重试。
func MapHTTPError(provider string, status int, body string) *types.Error {
	retryable := status == http.StatusTooManyRequests || status >= 500
	return types.NewError(types.ErrProviderError,
		fmt.Sprintf("%s returned status %d: %s", provider, status, truncate(body, 512))).
		WithProvider(provider).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(retryable)
}

// WrapTransportError 将传输层错误映射为统一错误；超时单独标记。
func WrapTransportError(provider string, err error) *types.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return types.NewError(types.ErrUpstreamTimeout, provider+" request timed out").
			WithProvider(provider).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true).
			WithCause(err)
	}
	return types.NewError(types.ErrProviderError, provider+" request failed").
		WithProvider(provider).
		WithHTTPStatus(http.StatusBadGateway).
		WithCause(err)
}

// FetchImage 下载远程图像，超过 maxBytes 视为失败。下载失败与上游审核失败
// 要区分开，所以统一返回 CONTENT_FETCH。
func FetchImage(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrContentFetch, "invalid image URL").WithCause(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrContentFetch, "failed to fetch image from URL").
			WithHTTPStatus(http.StatusBadGateway).
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewError(types.ErrContentFetch,
			fmt.Sprintf("image URL returned status %d", resp.StatusCode)).
			WithHTTPStatus(http.StatusBadGateway)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, types.NewError(types.ErrContentFetch, "failed to read image body").WithCause(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, types.NewError(types.ErrContentFetch,
			fmt.Sprintf("image exceeds %d byte limit", maxBytes)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
