package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 结构化错误类别
// 每个引擎错误都带 kind + 相关 id，调用方按 kind 渲染本地化消息，
// 引擎内部不做文案。
type ErrorKind string

const (
	ErrNotFound                ErrorKind = "not_found"
	ErrDuplicateCode           ErrorKind = "duplicate_code"
	ErrInvalidOperation        ErrorKind = "invalid_operation"
	ErrCircularReference       ErrorKind = "circular_reference"
	ErrMaxDepthExceeded        ErrorKind = "max_depth_exceeded"
	ErrHasChildren             ErrorKind = "has_children"
	ErrHasHolders              ErrorKind = "has_holders"
	ErrPermissionNotAssignable ErrorKind = "permission_not_assignable"
)

// Error 引擎的结构化错误
type Error struct {
	Kind    ErrorKind
	Message string

	// 相关对象（按需填写）
	RoleID        string
	RoleCode      string
	PermissionIDs []string
}

func (e *Error) Error() string {
	if e.RoleID != "" {
		return fmt.Sprintf("%s: %s (role_id=%s)", e.Kind, e.Message, e.RoleID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsKind err（或其包装链）是否为指定类别的引擎错误
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}

// KindOf 取出错误类别；非引擎错误返回空串
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// NotFoundError 角色不存在
func NotFoundError(roleID string) *Error {
	return &Error{Kind: ErrNotFound, Message: "role not found", RoleID: roleID}
}

// DuplicateCodeError 分区内 role_code 冲突
func DuplicateCodeError(roleCode string) *Error {
	return &Error{Kind: ErrDuplicateCode, Message: "role_code already exists", RoleCode: roleCode}
}

// InvalidOperationError 非法操作（自指父节点、系统角色结构变更等）
func InvalidOperationError(roleID, message string) *Error {
	return &Error{Kind: ErrInvalidOperation, Message: message, RoleID: roleID}
}

// CircularReferenceError 新父节点落在自己的子树里
func CircularReferenceError(roleID, parentID string) *Error {
	return &Error{
		Kind:    ErrCircularReference,
		Message: fmt.Sprintf("parent %s is a descendant of role", parentID),
		RoleID:  roleID,
	}
}

// MaxDepthExceededError 层级超限（含被移动子树的深度）
func MaxDepthExceededError(roleID string, level int) *Error {
	return &Error{
		Kind:    ErrMaxDepthExceeded,
		Message: fmt.Sprintf("resulting level %d exceeds max depth %d", level, MaxRoleDepth),
		RoleID:  roleID,
	}
}

// HasChildrenError 删除被子节点阻塞
func HasChildrenError(roleID string) *Error {
	return &Error{Kind: ErrHasChildren, Message: "role has child roles", RoleID: roleID}
}

// HasHoldersError 删除被持有者阻塞
func HasHoldersError(roleID string) *Error {
	return &Error{Kind: ErrHasHolders, Message: "role has active holders", RoleID: roleID}
}

// PermissionNotAssignableError 越权授予（超出授权人自身有效权限集）
func PermissionNotAssignableError(roleID string, rejected []string) *Error {
	return &Error{
		Kind:          ErrPermissionNotAssignable,
		Message:       "permissions outside granter's effective set",
		RoleID:        roleID,
		PermissionIDs: rejected,
	}
}
