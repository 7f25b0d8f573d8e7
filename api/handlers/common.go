// Package handlers 提供查询、摄取与健康检查的 HTTP 处理器。
// 传输层保持薄：解析请求、调用领域组件、映射错误码，不做业务逻辑。
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构。
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 错误信息结构。
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应。
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应。
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 把领域错误映射为 HTTP 响应。非 types.Error 的错误按
// 内部错误处理，不向客户端泄露细节。
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var domainErr *types.Error
	if !errors.As(err, &domainErr) {
		domainErr = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	status := httpStatus(domainErr.Code)

	if logger != nil {
		logger.Error("API error",
			zap.String("code", string(domainErr.Code)),
			zap.String("message", domainErr.Message),
			zap.Int("status", status),
			zap.Bool("retryable", domainErr.Retryable),
			zap.Error(domainErr.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(domainErr.Code),
			Message:   domainErr.Message,
			Retryable: domainErr.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// DecodeJSON 解析请求体，失败时直接写 400。
func DecodeJSON(w http.ResponseWriter, r *http.Request, dest any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "malformed JSON body").WithCause(err), logger)
		return false
	}
	return true
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrSessionLockConflict:
		return http.StatusConflict
	case types.ErrNoRetrievalResults,
		types.ErrRewriteBudgetExhausted,
		types.ErrValidationFailed:
		return http.StatusUnprocessableEntity
	case types.ErrExternalTimeout:
		return http.StatusGatewayTimeout
	case types.ErrExternalError:
		return http.StatusBadGateway
	case types.ErrInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
