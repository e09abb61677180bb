package apperr

import (
	"errors"
	"net/http"
	"time"
)

// Kind 错误类别
type Kind int

const (
	KindInternal       Kind = iota // 服务内部错误，只返回通用消息
	KindValidation                 // 请求参数错误，无状态变更
	KindAuthentication             // 缺少或无效的调用者身份
	KindAuthorization              // 调用者不拥有目标资源
	KindNotFound                   // 引用的对话不存在
	KindRateLimit                  // 限流拒绝，携带重试提示
	KindProvider                   // AI 服务调用失败（超时/配额/传输）
)

// Error 带类别的应用错误
// Code 为对外的数字错误码，沿用 4xx/5xx 前缀约定
type Error struct {
	Kind       Kind
	Code       int
	Message    string
	RetryAfter time.Duration // 仅 RateLimit / Provider 类错误有意义
	err        error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// Validation 参数校验错误
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: 40001, Message: message}
}

// Authentication 认证错误
func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Code: 40101, Message: message}
}

// Authorization 越权访问错误
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Code: 40301, Message: message}
}

// NotFound 资源不存在
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: 40401, Message: message}
}

// RateLimited 限流拒绝，retryAfter 为调用方的重试等待提示
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Code: 42902, Message: message, RetryAfter: retryAfter}
}

// Provider AI 服务错误，调用方可重试
func Provider(message string, err error) *Error {
	return &Error{Kind: KindProvider, Code: 50201, Message: message, err: err}
}

// Internal 内部错误，细节只进日志
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: 50001, Message: "Internal server error", err: err}
}

// KindOf 解析错误类别，非 *Error 一律视为内部错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError 提取 *Error，非 *Error 包装为内部错误
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// Retryable 调用方稍后重试是否有意义
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindProvider:
		return true
	}
	return false
}

// HTTPStatus 类别到 HTTP 状态码的映射
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
