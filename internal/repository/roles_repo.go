package repository

import (
	"context"
	"database/sql"

	"wisefido-admin/internal/domain"
)

// RolesRepository 角色Repository接口
// 使用强类型领域模型，不使用map[string]any。
// 所有方法显式携带 Partition（scope + tenant_id），查询/写入都限制在该分区内；
// Repository层只做数据访问和数据完整性验证，树结构的业务规则在Service层验证。
type RolesRepository interface {
	// 查询
	GetRole(ctx context.Context, part domain.Partition, roleID string) (*domain.Role, error)
	GetRoleByCode(ctx context.Context, part domain.Partition, roleCode string) (*domain.Role, error)
	GetRoles(ctx context.Context, part domain.Partition, roleIDs []string) ([]*domain.Role, error)
	ListRoles(ctx context.Context, part domain.Partition, filter RolesFilter, page, size int) ([]*domain.Role, int, error)
	AllRoles(ctx context.Context, part domain.Partition) ([]*domain.Role, error)

	// 树遍历
	ChildrenOf(ctx context.Context, part domain.Partition, parentID *string) ([]*domain.Role, error)
	ByPathPrefix(ctx context.Context, part domain.Partition, prefix string) ([]*domain.Role, error)
	HasChildren(ctx context.Context, part domain.Partition, roleID string) (bool, error)

	// 写入（树结构不变量由Service层保证）
	InsertRole(ctx context.Context, part domain.Partition, role *domain.Role) (string, error)
	SetPath(ctx context.Context, part domain.Partition, roleID, path string) error
	SetPlacement(ctx context.Context, part domain.Partition, roleID string, parentID sql.NullString, path string, level int) error
	// RebasePaths 子树整体迁移：把 path 以 oldPrefix 开头的所有角色
	// 前缀替换为 newPrefix，level 统一加 levelDiff。必须在事务内调用。
	RebasePaths(ctx context.Context, part domain.Partition, oldPrefix, newPrefix string, levelDiff int) error
	UpdateRole(ctx context.Context, part domain.Partition, roleID string, role *domain.Role) error
	SetRoleStatus(ctx context.Context, part domain.Partition, roleID string, isActive bool) error
	SoftDeleteRole(ctx context.Context, part domain.Partition, roleID string) error

	// 直接授予的权限（不含继承）
	PermissionIDsOf(ctx context.Context, part domain.Partition, roleID string) ([]string, error)
	ReplacePermissions(ctx context.Context, part domain.Partition, roleID string, permissionIDs []string) error

	// InTx 在单个事务内执行fn；fn收到的Repository与外层同类型。
	// fn返回错误时整体回滚（子树改写半途失败不能留下不一致的path/level）。
	InTx(ctx context.Context, fn func(RolesRepository) error) error
}

// RolesFilter 角色查询过滤器
type RolesFilter struct {
	Search   string // 模糊搜索 role_code, role_name, description
	IsSystem *bool  // 可选，按is_system过滤
	IsActive *bool  // 可选，按is_active过滤
}
