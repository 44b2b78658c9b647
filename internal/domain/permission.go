package domain

import (
	"strings"
)

// PermissionScope 权限可用的授权域
type PermissionScope string

const (
	PermScopePlatform PermissionScope = "platform"
	PermScopeTenant   PermissionScope = "tenant"
	PermScopeBoth     PermissionScope = "both"
)

// UsableIn 该权限是否可在指定授权域内授予
func (s PermissionScope) UsableIn(scope Scope) bool {
	if s == PermScopeBoth {
		return true
	}
	return string(s) == string(scope)
}

// Permission 权限领域模型（对应 permissions 表）
// 权限目录由外部进程维护，本引擎只读；
// 对树引擎而言权限是平面集合，菜单/操作语义在这里不关心。
type Permission struct {
	PermissionID string          `db:"permission_id"`
	Code         string          `db:"code"`  // NOT NULL: 权限代码，如 "role:create"
	Name         string          `db:"name"`
	Scope        PermissionScope `db:"scope"` // platform / tenant / both
	IsEnabled    bool            `db:"is_enabled"`
}

// PermissionSet 权限代码集合（用于通配符匹配）
type PermissionSet map[string]struct{}

// NewPermissionSet 由代码列表构建集合
func NewPermissionSet(codes []string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Has 精确包含
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// MatchPermissionCode 判断权限集合是否满足 required：
//   - 精确匹配
//   - 全局通配 "*"
//   - 资源前缀通配 "resource:*"（required 形如 "resource:action"）
func MatchPermissionCode(owned PermissionSet, required string) bool {
	if owned.Has(required) {
		return true
	}
	if owned.Has("*") {
		return true
	}
	if i := strings.Index(required, ":"); i > 0 {
		if owned.Has(required[:i] + ":*") {
			return true
		}
	}
	return false
}
