package domain

import (
	"database/sql"
)

// MaxRoleDepth 角色层级深度上限（root = 1）
const MaxRoleDepth = 10

// Scope 授权域：平台级 或 租户级
type Scope string

const (
	ScopePlatform Scope = "platform"
	ScopeTenant   Scope = "tenant"
)

// Partition 角色所属的分区（scope + tenant_id）
// platform 域不分租户，TenantID 为空；tenant 域必须带 TenantID。
// 所有 Repository / Service 调用都显式携带 Partition，
// 两个授权域共用同一套树逻辑（不按域复制两份实现）。
type Partition struct {
	Scope    Scope
	TenantID string
}

// PlatformPartition 平台分区
func PlatformPartition() Partition {
	return Partition{Scope: ScopePlatform}
}

// TenantPartition 指定租户的分区
func TenantPartition(tenantID string) Partition {
	return Partition{Scope: ScopeTenant, TenantID: tenantID}
}

// Valid 分区合法性：tenant 域必须带 tenant_id，platform 域不能带
func (p Partition) Valid() bool {
	switch p.Scope {
	case ScopePlatform:
		return p.TenantID == ""
	case ScopeTenant:
		return p.TenantID != ""
	}
	return false
}

// TenantNull tenant_id 的 SQL 表示（platform 域为 NULL）
func (p Partition) TenantNull() sql.NullString {
	if p.Scope == ScopeTenant {
		return sql.NullString{String: p.TenantID, Valid: true}
	}
	return sql.NullString{}
}

// CacheKey 分区的缓存 key 前缀
func (p Partition) CacheKey() string {
	if p.Scope == ScopeTenant {
		return string(p.Scope) + ":" + p.TenantID
	}
	return string(p.Scope)
}

// Role 角色领域模型（对应 roles 表）
// path 为物化路径："/id1/id2/.../idN/"，idN 是自己的 role_id；
// level 为深度，root = 1，恒等于 path 的段数。
type Role struct {
	// 主键和分区
	RoleID   string         `db:"role_id"`
	Scope    Scope          `db:"scope"`
	TenantID sql.NullString `db:"tenant_id"` // nullable: platform 域角色为 NULL

	// 角色信息
	RoleCode    string `db:"role_code"`   // NOT NULL: 角色代码，分区内唯一
	RoleName    string `db:"role_name"`   // NOT NULL: 显示名称
	Description string `db:"description"` // 详细描述

	// 树结构
	ParentID  sql.NullString `db:"parent_id"` // nullable: NULL = 根节点
	Path      string         `db:"path"`      // 物化路径，插入后回填
	Level     int            `db:"level"`     // 深度，root = 1
	SortOrder int            `db:"sort_order"`

	// 标志
	IsSystem bool `db:"is_system"` // 系统角色：禁止删除和改变父节点
	IsActive bool `db:"is_active"` // 启用/禁用，不影响树结构
}

// IsRoot 是否为根节点
func (r *Role) IsRoot() bool {
	return !r.ParentID.Valid
}

// TreeNode 角色树节点（GetTree 返回的视图结构）
type TreeNode struct {
	Role     *Role       `json:"role"`
	Children []*TreeNode `json:"children"`
}

// Actor 访问主体：要么是提升身份（平台超管 / 租户 owner），
// 要么是持有某个角色的普通管理员。
type Actor struct {
	Part     Partition
	UserID   string
	RoleID   string // Elevated 为 false 时必填
	Elevated bool   // 提升身份：分区内全量可见、全量可管
}
