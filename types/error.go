package types

import (
	"errors"
	"fmt"
)

// ErrorCode 统一错误码。
type ErrorCode string

const (
	ErrExternalTimeout        ErrorCode = "EXTERNAL_TIMEOUT"         // 外部能力调用超时
	ErrExternalError          ErrorCode = "EXTERNAL_ERROR"           // 外部能力返回畸形响应
	ErrNoRetrievalResults     ErrorCode = "NO_RETRIEVAL_RESULTS"     // 全部检索策略失败
	ErrRewriteBudgetExhausted ErrorCode = "REWRITE_BUDGET_EXHAUSTED" // 非致命：带最优结果继续
	ErrValidationFailed       ErrorCode = "VALIDATION_FAILED"        // 答案被扣留或裁剪
	ErrSessionLockConflict    ErrorCode = "SESSION_LOCK_CONFLICT"    // 会话租约被其他 worker 持有
	ErrInvalidRequest         ErrorCode = "INVALID_REQUEST"
	ErrInternalError          ErrorCode = "INTERNAL_ERROR"
)

// Error 结构化错误，携带错误码、可重试标记与底层原因。
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层原因。
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建指定错误码的结构化错误。
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause 附加底层原因。
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable 标记错误是否可重试。
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsErrorCode 判断错误链上是否存在指定错误码。
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetErrorCode 提取错误码，非结构化错误返回空串。
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
