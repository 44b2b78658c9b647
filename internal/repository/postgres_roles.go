package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"wisefido-admin/internal/domain"
)

// dbtx 统一 *sql.DB 和 *sql.Tx 的查询入口
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresRolesRepository 角色Repository实现（强类型版本）
// 实现RolesRepository接口，使用domain.Role领域模型。
// 遵循"bottom-up"设计原则，Repository层负责数据访问和数据完整性验证。
//
// 分区谓词：scope = $1 AND tenant_id IS NOT DISTINCT FROM $2，
// platform 域的 tenant_id 为 NULL。软删除行（deleted_at 非空）对所有查询不可见。
//
// path 列为 text，建议索引：
//   CREATE INDEX idx_roles_path ON roles (scope, tenant_id, path text_pattern_ops);
// 前缀 LIKE 查询（ByPathPrefix / RebasePaths）走该索引。
type PostgresRolesRepository struct {
	db *sql.DB // 事务内为 nil
	q  dbtx
}

// NewPostgresRolesRepository 创建角色Repository
func NewPostgresRolesRepository(db *sql.DB) *PostgresRolesRepository {
	return &PostgresRolesRepository{db: db, q: db}
}

// 确保实现了接口
var _ RolesRepository = (*PostgresRolesRepository)(nil)

const roleColumns = `
	role_id::text,
	scope,
	tenant_id,
	role_code,
	role_name,
	description,
	parent_id,
	path,
	level,
	sort_order,
	is_system,
	is_active
`

func scanRole(row interface{ Scan(...any) error }) (*domain.Role, error) {
	var role domain.Role
	err := row.Scan(
		&role.RoleID,
		&role.Scope,
		&role.TenantID,
		&role.RoleCode,
		&role.RoleName,
		&role.Description,
		&role.ParentID,
		&role.Path,
		&role.Level,
		&role.SortOrder,
		&role.IsSystem,
		&role.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// GetRole 查询单个角色；不存在返回 (nil, nil)
func (r *PostgresRolesRepository) GetRole(ctx context.Context, part domain.Partition, roleID string) (*domain.Role, error) {
	if roleID == "" {
		return nil, fmt.Errorf("role_id is required")
	}

	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_id = $3
	`
	role, err := scanRole(r.q.QueryRowContext(ctx, query, part.Scope, part.TenantNull(), roleID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query role: %w", err)
	}
	return role, nil
}

// GetRoleByCode 通过role_code查询角色（分区内唯一）；不存在返回 (nil, nil)
func (r *PostgresRolesRepository) GetRoleByCode(ctx context.Context, part domain.Partition, roleCode string) (*domain.Role, error) {
	if roleCode == "" {
		return nil, fmt.Errorf("role_code is required")
	}

	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_code = $3
	`
	role, err := scanRole(r.q.QueryRowContext(ctx, query, part.Scope, part.TenantNull(), roleCode))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query role by code: %w", err)
	}
	return role, nil
}

// GetRoles 按 id 批量查询（缺席的 id 直接跳过）
func (r *PostgresRolesRepository) GetRoles(ctx context.Context, part domain.Partition, roleIDs []string) ([]*domain.Role, error) {
	if len(roleIDs) == 0 {
		return []*domain.Role{}, nil
	}

	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_id = ANY($3)
		ORDER BY level ASC, sort_order ASC, role_code ASC
	`
	return r.queryRoles(ctx, query, part.Scope, part.TenantNull(), pq.Array(roleIDs))
}

// ListRoles 查询角色列表，支持过滤和分页
func (r *PostgresRolesRepository) ListRoles(ctx context.Context, part domain.Partition, filter RolesFilter, page, size int) ([]*domain.Role, int, error) {
	where := []string{"scope = $1", "tenant_id IS NOT DISTINCT FROM $2", "deleted_at IS NULL"}
	args := []any{part.Scope, part.TenantNull()}
	argN := 3

	// search过滤（模糊搜索 role_code, role_name, description）
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(role_code ILIKE $%d OR role_name ILIKE $%d OR description ILIKE $%d)", argN, argN, argN))
		args = append(args, "%"+filter.Search+"%")
		argN++
	}

	// is_system过滤
	if filter.IsSystem != nil {
		where = append(where, fmt.Sprintf("is_system = $%d", argN))
		args = append(args, *filter.IsSystem)
		argN++
	}

	// is_active过滤
	if filter.IsActive != nil {
		where = append(where, fmt.Sprintf("is_active = $%d", argN))
		args = append(args, *filter.IsActive)
		argN++
	}

	whereClause := "WHERE " + strings.Join(where, " AND ")

	// 查询总数
	countQuery := `SELECT COUNT(*) FROM roles ` + whereClause
	var total int
	if err := r.q.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count roles: %w", err)
	}

	// 分页
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 100
	}
	offset := (page - 1) * size

	query := `
		SELECT ` + roleColumns + `
		FROM roles
		` + whereClause + `
		ORDER BY level ASC, sort_order ASC, role_code ASC
		LIMIT ` + fmt.Sprintf("$%d", argN) + ` OFFSET ` + fmt.Sprintf("$%d", argN+1)
	args = append(args, size, offset)

	roles, err := r.queryRoles(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

// AllRoles 分区内全部角色
func (r *PostgresRolesRepository) AllRoles(ctx context.Context, part domain.Partition) ([]*domain.Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		ORDER BY level ASC, sort_order ASC, role_code ASC
	`
	return r.queryRoles(ctx, query, part.Scope, part.TenantNull())
}

// ChildrenOf 直接子节点；parentID 为 nil 时返回根节点
func (r *PostgresRolesRepository) ChildrenOf(ctx context.Context, part domain.Partition, parentID *string) ([]*domain.Role, error) {
	if parentID == nil {
		query := `
			SELECT ` + roleColumns + `
			FROM roles
			WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
			  AND deleted_at IS NULL
			  AND parent_id IS NULL
			ORDER BY sort_order ASC, role_code ASC
		`
		return r.queryRoles(ctx, query, part.Scope, part.TenantNull())
	}

	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND parent_id = $3
		ORDER BY sort_order ASC, role_code ASC
	`
	return r.queryRoles(ctx, query, part.Scope, part.TenantNull(), *parentID)
}

// ByPathPrefix 物化路径前缀查询（子树遍历）
// 语义：path LIKE prefix || '%'；uuid 路径不含 LIKE 元字符，无需转义。
func (r *PostgresRolesRepository) ByPathPrefix(ctx context.Context, part domain.Partition, prefix string) ([]*domain.Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND path LIKE $3
		ORDER BY level ASC, sort_order ASC, role_code ASC
	`
	return r.queryRoles(ctx, query, part.Scope, part.TenantNull(), prefix+"%")
}

// HasChildren 是否存在子节点
func (r *PostgresRolesRepository) HasChildren(ctx context.Context, part domain.Partition, roleID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM roles
			WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
			  AND deleted_at IS NULL
			  AND parent_id = $3
		)
	`
	var exists bool
	if err := r.q.QueryRowContext(ctx, query, part.Scope, part.TenantNull(), roleID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check children: %w", err)
	}
	return exists, nil
}

// InsertRole 插入角色并返回 role_id
// path 此时尚未知（依赖自身 id），由 Service 层随后 SetPath 回填。
func (r *PostgresRolesRepository) InsertRole(ctx context.Context, part domain.Partition, role *domain.Role) (string, error) {
	roleID := role.RoleID
	if roleID == "" {
		roleID = uuid.NewString()
	}

	query := `
		INSERT INTO roles (
			role_id, scope, tenant_id,
			role_code, role_name, description,
			parent_id, path, level, sort_order,
			is_system, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING role_id::text
	`
	var inserted string
	err := r.q.QueryRowContext(ctx, query,
		roleID,
		part.Scope,
		part.TenantNull(),
		role.RoleCode,
		role.RoleName,
		role.Description,
		role.ParentID,
		role.Path,
		role.Level,
		role.SortOrder,
		role.IsSystem,
		role.IsActive,
	).Scan(&inserted)
	if err != nil {
		return "", fmt.Errorf("failed to insert role: %w", err)
	}
	return inserted, nil
}

// SetPath 回填物化路径（创建流程第二步）
func (r *PostgresRolesRepository) SetPath(ctx context.Context, part domain.Partition, roleID, path string) error {
	query := `
		UPDATE roles SET path = $4, updated_at = NOW()
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_id = $3
	`
	if _, err := r.q.ExecContext(ctx, query, part.Scope, part.TenantNull(), roleID, path); err != nil {
		return fmt.Errorf("failed to set role path: %w", err)
	}
	return nil
}

// SetPlacement 更新节点自身的树位置（迁移流程，子树由 RebasePaths 处理）
func (r *PostgresRolesRepository) SetPlacement(ctx context.Context, part domain.Partition, roleID string, parentID sql.NullString, path string, level int) error {
	query := `
		UPDATE roles SET parent_id = $4, path = $5, level = $6, updated_at = NOW()
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_id = $3
	`
	if _, err := r.q.ExecContext(ctx, query, part.Scope, part.TenantNull(), roleID, parentID, path, level); err != nil {
		return fmt.Errorf("failed to set role placement: %w", err)
	}
	return nil
}

// RebasePaths 子树整体前缀替换 + 层级平移
// 单条 UPDATE 覆盖整棵子树，要么全部生效要么回滚。
func (r *PostgresRolesRepository) RebasePaths(ctx context.Context, part domain.Partition, oldPrefix, newPrefix string, levelDiff int) error {
	query := `
		UPDATE roles
		SET path = $4 || substring(path FROM char_length($3) + 1),
		    level = level + $5,
		    updated_at = NOW()
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND path LIKE $3 || '%'
	`
	if _, err := r.q.ExecContext(ctx, query, part.Scope, part.TenantNull(), oldPrefix, newPrefix, levelDiff); err != nil {
		return fmt.Errorf("failed to rebase role paths: %w", err)
	}
	return nil
}

// UpdateRole 更新角色属性（不含树位置，树位置走 SetPlacement）
func (r *PostgresRolesRepository) UpdateRole(ctx context.Context, part domain.Partition, roleID string, role *domain.Role) error {
	query := `
		UPDATE roles
		SET role_code = $4, role_name = $5, description = $6,
		    sort_order = $7, is_active = $8, updated_at = NOW()
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_id = $3
	`
	_, err := r.q.ExecContext(ctx, query,
		part.Scope, part.TenantNull(), roleID,
		role.RoleCode, role.RoleName, role.Description,
		role.SortOrder, role.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

// SetRoleStatus 启用/禁用角色
func (r *PostgresRolesRepository) SetRoleStatus(ctx context.Context, part domain.Partition, roleID string, isActive bool) error {
	query := `
		UPDATE roles SET is_active = $4, updated_at = NOW()
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_id = $3
	`
	if _, err := r.q.ExecContext(ctx, query, part.Scope, part.TenantNull(), roleID, isActive); err != nil {
		return fmt.Errorf("failed to set role status: %w", err)
	}
	return nil
}

// SoftDeleteRole 软删除（deleted_at 打标，后续查询全部不可见）
func (r *PostgresRolesRepository) SoftDeleteRole(ctx context.Context, part domain.Partition, roleID string) error {
	query := `
		UPDATE roles SET deleted_at = NOW()
		WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
		  AND deleted_at IS NULL
		  AND role_id = $3
	`
	if _, err := r.q.ExecContext(ctx, query, part.Scope, part.TenantNull(), roleID); err != nil {
		return fmt.Errorf("failed to soft delete role: %w", err)
	}
	return nil
}

// PermissionIDsOf 角色直接授予的权限 id（不含继承）
func (r *PostgresRolesRepository) PermissionIDsOf(ctx context.Context, _ domain.Partition, roleID string) ([]string, error) {
	query := `
		SELECT permission_id::text
		FROM role_permissions
		WHERE role_id = $1
		ORDER BY permission_id
	`
	rows, err := r.q.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan permission id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplacePermissions 整体替换角色的直接权限（先删后插，调用方包事务）
func (r *PostgresRolesRepository) ReplacePermissions(ctx context.Context, _ domain.Partition, roleID string, permissionIDs []string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::uuid[])
	`
	if _, err := r.q.ExecContext(ctx, query, roleID, pq.Array(permissionIDs)); err != nil {
		return fmt.Errorf("failed to insert role permissions: %w", err)
	}
	return nil
}

// InTx 在 REPEATABLE READ 事务内执行 fn
// 子树改写的多步操作必须走这里：fn 出错整体回滚。
func (r *PostgresRolesRepository) InTx(ctx context.Context, fn func(RolesRepository) error) error {
	if r.db == nil {
		// 已在事务内，直接复用
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	txRepo := &PostgresRolesRepository{q: tx}
	if err := fn(txRepo); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func (r *PostgresRolesRepository) queryRoles(ctx context.Context, query string, args ...any) ([]*domain.Role, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	roles := []*domain.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
