package repository

import (
	"context"

	"wisefido-admin/internal/domain"
)

// PermissionsRepository 权限目录Repository接口（只读）
// 权限目录由外部进程维护，本服务只查询。
type PermissionsRepository interface {
	// GetMany 按 id 批量查询；不存在的 id 直接缺席，不报错
	GetMany(ctx context.Context, permissionIDs []string) ([]*domain.Permission, error)
	// AllEnabled 指定授权域内所有启用的权限（含 scope='both'）
	AllEnabled(ctx context.Context, scope domain.Scope) ([]*domain.Permission, error)
}

// HolderRegistry 角色持有者注册表（外部协作方）
// 引擎只用它回答"角色是否还有持有者"，删除前的安全检查用。
type HolderRegistry interface {
	HasHolders(ctx context.Context, part domain.Partition, roleID string) (bool, error)
	// ReassignHolders 把 fromRoleID 的持有者批量改挂到 toRoleID，返回迁移数量
	ReassignHolders(ctx context.Context, part domain.Partition, fromRoleID, toRoleID string) (int, error)
}
