package errors

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	ErrNotFound         = New(404, "资源不存在")
	ErrUnauthorized     = New(401, "未授权")
	ErrBadRequest       = New(400, "请求错误")
	ErrInternalServer   = New(500, "服务器内部错误")
	ErrValidation       = New(422, "验证错误")
	ErrTokenExpired     = New(401, "令牌已过期")
	ErrTokenInvalid     = New(401, "令牌无效")
	ErrEventNotFound    = New(404, "同步事件不存在")
	ErrInvalidEvent     = New(422, "同步事件无效")
	ErrUnknownApp       = New(400, "未知的目标应用")
	ErrUnknownEventType = New(422, "未知的同步事件类型")
	ErrSyncDisabled     = New(409, "双向同步已关闭")
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 解包错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 同码同消息视为同一错误，使附加原因后的哨兵错误可被 errors.Is 识别
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 创建新错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WithCause 给哨兵错误附加原因
func WithCause(sentinel *AppError, err error) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Err:     err,
	}
}

// WithDetail 给哨兵错误附加说明
func WithDetail(sentinel *AppError, format string, args ...any) *AppError {
	return WithCause(sentinel, fmt.Errorf(format, args...))
}

// Is 检查是否为指定错误
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As 类型转换错误
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetCode 获取错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return 500
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
		}
		return appErr.Message
	}
	return err.Error()
}

// BadRequest 创建请求错误
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    400,
		Message: message,
	}
}
