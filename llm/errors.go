package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/knowledgeflow/types"
)

// MapHTTPError 将上游 HTTP 状态码映射为带重试标记的 types.Error
func MapHTTPError(status int, msg string, provider string) *types.Error {
	var e *types.Error
	switch status {
	case http.StatusUnauthorized:
		e = types.NewError(types.ErrUnauthorized, msg)
	case http.StatusForbidden:
		e = types.NewError(types.ErrForbidden, msg)
	case http.StatusTooManyRequests:
		e = types.NewError(types.ErrRateLimited, msg).WithRetryable(true)
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") || strings.Contains(lower, "limit") {
			e = types.NewError(types.ErrQuotaExceeded, msg)
		} else {
			e = types.NewError(types.ErrInvalidRequest, msg)
		}
	case http.StatusNotFound:
		e = types.NewError(types.ErrNotFound, msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e = types.NewError(types.ErrTimeout, msg).WithRetryable(true)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(true)
	case 529: // 部分服务商用于模型过载
		e = types.NewError(types.ErrModelOverloaded, msg).WithRetryable(true)
	default:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500)
	}
	return e.WithHTTPStatus(status).WithProvider(provider)
}

// ReadErrorMessage 读取错误响应体，优先解析 OpenAI 风格的 {"error":{...}}
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// networkError 包装传输层错误，统一视为可重试
func networkError(err error, provider string) *types.Error {
	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider).
		WithCause(err)
}

func malformedError(err error, provider string) *types.Error {
	return types.NewError(types.ErrMalformedResponse, "decode response: "+err.Error()).
		WithHTTPStatus(http.StatusBadGateway).
		WithProvider(provider).
		WithCause(err)
}
