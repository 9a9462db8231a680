package responses

import (
	"errors"
	"fmt"
)

// 错误码
const (
	CodeSuccess                = 2000000
	CodeBadRequest             = 4000000
	CodeUnauthorized           = 4010000
	CodePermissionDenied       = 4030000
	CodeNotFound               = 4040000
	CodeConflict               = 4090000
	CodeSlotBusy               = 4091000
	CodeConcurrentModification = 4092000
	CodeNotReady               = 4120000
	CodeNoRollbackTarget       = 4121000
	CodeInternalError          = 5000000
	CodeDatabaseError          = 5001000
	CodeAuthError              = 5002000
	CodeValidationError        = 5003000
	CodeResourceExhausted      = 5030000
	CodeDeployFailed           = 5100000
	CodeProxyReloadFailed      = 5110000
	CodeRemoteError            = 5120000
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"` // 远端诊断信息(如stderr), 原样透出
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New 创建新错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 预定义错误
var (
	ErrBadRequest             = New(CodeBadRequest, "请求参数错误")
	ErrUnauthorized           = New(CodeUnauthorized, "未授权")
	ErrPermissionDenied       = New(CodePermissionDenied, "权限不足")
	ErrNotFound               = New(CodeNotFound, "资源不存在")
	ErrRecordNotFound         = New(CodeNotFound, "记录不存在")
	ErrRecordExists           = New(CodeConflict, "记录已存在")
	ErrSlotBusy               = New(CodeSlotBusy, "目标槽位存在进行中的部署")
	ErrConcurrentModification = New(CodeConcurrentModification, "槽位记录已被并发修改")
	ErrNotReady               = New(CodeNotReady, "槽位未就绪, 无法切换流量")
	ErrNoRollbackTarget       = New(CodeNoRollbackTarget, "没有可回滚的槽位")
	ErrInternalError          = New(CodeInternalError, "内部服务器错误")
	ErrDatabaseError          = New(CodeDatabaseError, "数据库错误")
	ErrInvalidToken           = New(CodeUnauthorized, "无效的Token")
	ErrInvalidAPIKey          = New(CodeUnauthorized, "无效的API Key")
)

// NewResourceExhausted 端口段耗尽错误, 携带耗尽的范围供运维处理
func NewResourceExhausted(envClass, resourceType string, start, end int) *AppError {
	return New(CodeResourceExhausted,
		fmt.Sprintf("端口段已耗尽: %s/%s [%d-%d]", envClass, resourceType, start, end))
}

// NewDeployFailed 部署失败错误, 携带远端stderr原文
func NewDeployFailed(message, stderr string) *AppError {
	return &AppError{
		Code:    CodeDeployFailed,
		Message: message,
		Detail:  stderr,
	}
}

// NewNotReady 切换前置条件不满足
func NewNotReady(reason string) *AppError {
	return &AppError{
		Code:    CodeNotReady,
		Message: "槽位未就绪, 无法切换流量",
		Detail:  reason,
	}
}

// NewProxyReloadFailed 代理重载失败(不回滚已完成的流量切换)
func NewProxyReloadFailed(err error) *AppError {
	return Wrap(CodeProxyReloadFailed, "反向代理重载失败", err)
}

// IsCode 判断错误(含包装链)是否为指定错误码
func IsCode(err error, code int) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
