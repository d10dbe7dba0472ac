package meli

import (
	"errors"
	"fmt"
)

// ==================== 错误分类 ====================

// ErrorType 出站调用错误分类
// 同步引擎的所有分支判断只依赖该分类，不直接看 HTTP 状态码
type ErrorType string

const (
	// ErrTypeAuthRevoked 连接级终止错误：授权已失效，必须引导用户重新授权
	// 唯一会中断整个租户同步的类型
	ErrTypeAuthRevoked ErrorType = "AUTH_REVOKED"

	// ErrTypePolicyBlocked 商品级非终止错误：平台政策封禁（与 token 是否有效无关）
	ErrTypePolicyBlocked ErrorType = "POLICY_BLOCKED"

	// ErrTypeRateLimit 限流：已执行一次退避重试仍失败
	ErrTypeRateLimit ErrorType = "RATE_LIMIT"

	// 瞬时类错误：记录后继续跑，绝不当作"空结果"
	ErrTypeServerError ErrorType = "SERVER_ERROR"
	ErrTypeTimeout     ErrorType = "TIMEOUT"
	ErrTypeNetwork     ErrorType = "NETWORK"

	// ErrTypeValidation 调用方入参错误，不发起网络请求
	ErrTypeValidation ErrorType = "VALIDATION"
)

// ApiError 平台调用错误
type ApiError struct {
	Type    ErrorType
	Status  int    // HTTP 状态码，网络层失败时为 0
	Code    string // 平台侧错误码，如 policy_unauthorized
	Message string
}

func (e *ApiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("meli api error [%s] status=%d code=%s: %s", e.Type, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("meli api error [%s] status=%d: %s", e.Type, e.Status, e.Message)
}

// Terminal 是否连接级终止错误（中断租户同步）
func (e *ApiError) Terminal() bool {
	return e.Type == ErrTypeAuthRevoked
}

// AsApiError 从 error 链中提取 ApiError
func AsApiError(err error) (*ApiError, bool) {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuthRevoked 判断是否授权失效错误
func IsAuthRevoked(err error) bool {
	if apiErr, ok := AsApiError(err); ok {
		return apiErr.Type == ErrTypeAuthRevoked
	}
	return false
}

// IsPolicyBlocked 判断是否政策封禁错误
func IsPolicyBlocked(err error) bool {
	if apiErr, ok := AsApiError(err); ok {
		return apiErr.Type == ErrTypePolicyBlocked
	}
	return false
}

// ==================== 403 细分 ====================

// policyBlockCodes 403 响应里属于"政策封禁"的平台错误码
// 命中则归类为商品级 POLICY_BLOCKED，未命中的 403 一律按授权失效处理
// 新增错误码只需要扩这张表，调用方无感知
var policyBlockCodes = map[string]bool{
	"policy_unauthorized":  true,
	"policy_violation":     true,
	"forbidden_by_policy":  true,
	"item_blocked":         true,
	"moderation_forbidden": true,
}

// classifyForbidden 将 403 按平台错误码细分
func classifyForbidden(status int, code, message string) *ApiError {
	if policyBlockCodes[code] {
		return &ApiError{Type: ErrTypePolicyBlocked, Status: status, Code: code, Message: message}
	}
	return &ApiError{Type: ErrTypeAuthRevoked, Status: status, Code: code, Message: message}
}
