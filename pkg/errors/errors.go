// Package errors 提供统一错误类型与哨兵错误。
//
// 两层:
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrScopeMismatch 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
//
// 注意: generation runtime 的 no-op (重复/未匹配/终态后事件) 不是错误,
// 由 Outcome 表达, 不经过本包。
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrScopeMismatch 事件的 generation/conversation 标签与当前活跃 turn 不一致
	ErrScopeMismatch = errors.New("scope mismatch")

	// ErrUnknownEvent 无法识别的事件类型
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNoActiveTurn 会话上没有活跃 turn
	ErrNoActiveTurn = errors.New("no active turn")

	// ErrStreamClosed 事件流已关闭且重连次数耗尽
	ErrStreamClosed = errors.New("stream closed")
)

// 常用错误码。
const (
	CodeDB         = "DB_ERROR"
	CodeValidation = "VALIDATION"
	CodeTransport  = "TRANSPORT"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "AssistantMessageStore.Save"
	Code    string // 错误码，如 "DB_ERROR"、"VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WrapCode 包装错误并附带错误码。
func WrapCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// CodeOf 返回错误链上第一个非空错误码。
func CodeOf(err error) string {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Code != "" {
			return appErr.Code
		}
		err = appErr.Err
	}
	return ""
}
