// Package errors provides coded application errors carrying an HTTP status,
// a stable machine-readable code, and optional metadata.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ApplicationError 业务错误。Status 对应 HTTP 状态码，Code 为稳定的机器可读标识。
type ApplicationError struct {
	Status   int               `json:"status"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`

	cause error
}

func (e *ApplicationError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ApplicationError) Unwrap() error { return e.cause }

// Is 按 Status+Code 判等，忽略 message 与 metadata。
func (e *ApplicationError) Is(target error) bool {
	var t *ApplicationError
	if !errors.As(target, &t) {
		return false
	}
	return e.Status == t.Status && e.Code == t.Code
}

// WithCause 返回携带底层错误的副本。
func (e *ApplicationError) WithCause(cause error) *ApplicationError {
	cp := *e
	cp.cause = cause
	return &cp
}

// WithMetadata 返回携带元数据的副本。
func (e *ApplicationError) WithMetadata(md map[string]string) *ApplicationError {
	cp := *e
	cp.Metadata = md
	return &cp
}

func New(status int, code, message string) *ApplicationError {
	return &ApplicationError{Status: status, Code: code, Message: message}
}

func BadRequest(code, message string) *ApplicationError {
	return New(http.StatusBadRequest, code, message)
}

func Unauthorized(code, message string) *ApplicationError {
	return New(http.StatusUnauthorized, code, message)
}

func Forbidden(code, message string) *ApplicationError {
	return New(http.StatusForbidden, code, message)
}

func NotFound(code, message string) *ApplicationError {
	return New(http.StatusNotFound, code, message)
}

func Conflict(code, message string) *ApplicationError {
	return New(http.StatusConflict, code, message)
}

func TooManyRequests(code, message string) *ApplicationError {
	return New(http.StatusTooManyRequests, code, message)
}

func InternalServer(code, message string) *ApplicationError {
	return New(http.StatusInternalServerError, code, message)
}

func ServiceUnavailable(code, message string) *ApplicationError {
	return New(http.StatusServiceUnavailable, code, message)
}

// FromError 将任意 error 归一化为 *ApplicationError。
// 非 ApplicationError 的错误按内部错误处理（消息不向客户端透出细节）。
func FromError(err error) *ApplicationError {
	if err == nil {
		return nil
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalServer("INTERNAL", "internal server error").WithCause(err)
}

// Code 返回错误的稳定标识；非业务错误返回 "INTERNAL"。
func Code(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Code
}

// HTTPStatus 返回错误对应的 HTTP 状态码；非业务错误返回 500。
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return FromError(err).Status
}
