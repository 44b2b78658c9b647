package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"wisefido-admin/internal/domain"
)

// PostgresPermissionsRepository 权限目录Repository实现（只读）
// permissions 表由外部目录进程写入，本服务只查询。
type PostgresPermissionsRepository struct {
	db *sql.DB
}

// NewPostgresPermissionsRepository 创建权限目录Repository
func NewPostgresPermissionsRepository(db *sql.DB) *PostgresPermissionsRepository {
	return &PostgresPermissionsRepository{db: db}
}

// 确保实现了接口
var _ PermissionsRepository = (*PostgresPermissionsRepository)(nil)

const permissionColumns = `
	permission_id::text,
	code,
	name,
	scope,
	is_enabled
`

// GetMany 按 id 批量查询权限；不存在的 id 缺席，不报错
func (r *PostgresPermissionsRepository) GetMany(ctx context.Context, permissionIDs []string) ([]*domain.Permission, error) {
	if len(permissionIDs) == 0 {
		return []*domain.Permission{}, nil
	}

	query := `
		SELECT ` + permissionColumns + `
		FROM permissions
		WHERE permission_id = ANY($1)
		ORDER BY code ASC
	`
	return r.queryPermissions(ctx, query, pq.Array(permissionIDs))
}

// AllEnabled 指定授权域内所有启用的权限（scope='both' 两域通用）
func (r *PostgresPermissionsRepository) AllEnabled(ctx context.Context, scope domain.Scope) ([]*domain.Permission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM permissions
		WHERE is_enabled = TRUE
		  AND (scope = $1 OR scope = 'both')
		ORDER BY code ASC
	`
	return r.queryPermissions(ctx, query, scope)
}

func (r *PostgresPermissionsRepository) queryPermissions(ctx context.Context, query string, args ...any) ([]*domain.Permission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	perms := []*domain.Permission{}
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.PermissionID, &p.Code, &p.Name, &p.Scope, &p.IsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, &p)
	}
	return perms, rows.Err()
}

// PostgresHolderRegistry 持有者注册表实现
// 持有者是 users 表里引用 role_id 的管理员账号；
// 引擎只做"有没有持有者"的存在性检查，不加载账号本身。
type PostgresHolderRegistry struct {
	db *sql.DB
}

// NewPostgresHolderRegistry 创建持有者注册表
func NewPostgresHolderRegistry(db *sql.DB) *PostgresHolderRegistry {
	return &PostgresHolderRegistry{db: db}
}

// 确保实现了接口
var _ HolderRegistry = (*PostgresHolderRegistry)(nil)

// HasHolders 角色是否还有未删除的持有者
func (r *PostgresHolderRegistry) HasHolders(ctx context.Context, part domain.Partition, roleID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM users
			WHERE role_id = $1
			  AND tenant_id IS NOT DISTINCT FROM $2
			  AND status <> 'deleted'
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, roleID, part.TenantNull()).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check role holders: %w", err)
	}
	return exists, nil
}

// ReassignHolders 把角色的持有者批量改挂到另一个角色，返回迁移数量
func (r *PostgresHolderRegistry) ReassignHolders(ctx context.Context, part domain.Partition, fromRoleID, toRoleID string) (int, error) {
	query := `
		UPDATE users SET role_id = $2, updated_at = NOW()
		WHERE role_id = $1
		  AND tenant_id IS NOT DISTINCT FROM $3
		  AND status <> 'deleted'
	`
	res, err := r.db.ExecContext(ctx, query, fromRoleID, toRoleID, part.TenantNull())
	if err != nil {
		return 0, fmt.Errorf("failed to reassign role holders: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
