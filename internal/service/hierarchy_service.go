package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
	"wisefido-admin/internal/repository"
)

// HierarchyService 角色树引擎
// 负责树结构不变量：父节点校验、环检测、深度上限（含被移动子树）、
// 整棵子树的 path/level 级联改写、删除前的安全检查。
// platform / tenant 两个授权域共用同一实现，分区由 Partition 参数区分。
type HierarchyService struct {
	roles   repository.RolesRepository
	holders repository.HolderRegistry
	cache   *PermCache
	logger  *zap.Logger
}

// NewHierarchyService 创建角色树引擎
func NewHierarchyService(roles repository.RolesRepository, holders repository.HolderRegistry, cache *PermCache, logger *zap.Logger) *HierarchyService {
	return &HierarchyService{
		roles:   roles,
		holders: holders,
		cache:   cache,
		logger:  logger,
	}
}

// ValidateParent 校验父节点并返回其 (path, level)
// parentID 为 nil 表示调用方将成为根节点，返回 ("", 0)。
// excludeID 非空表示这是一次已有角色的迁移：
//   - parentID == excludeID → InvalidOperation（不能把自己设为父节点）
//   - 新父节点落在 excludeID 的子树内 → CircularReference
//
// 跨租户/跨域的父节点在分区查询下天然不可见，统一表现为 NotFound。
func (s *HierarchyService) ValidateParent(ctx context.Context, part domain.Partition, parentID *string, excludeID string) (string, int, error) {
	return s.validateParent(ctx, s.roles, part, parentID, excludeID)
}

func (s *HierarchyService) validateParent(ctx context.Context, roles repository.RolesRepository, part domain.Partition, parentID *string, excludeID string) (string, int, error) {
	if parentID == nil || *parentID == "" {
		return "", 0, nil
	}
	if excludeID != "" && *parentID == excludeID {
		return "", 0, domain.InvalidOperationError(excludeID, "cannot set self as parent")
	}

	parent, err := roles.GetRole(ctx, part, *parentID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load parent role: %w", err)
	}
	if parent == nil {
		return "", 0, domain.NotFoundError(*parentID)
	}

	// 环检测：父节点的物化路径包含 excludeID，说明父节点在其子树内
	if excludeID != "" && strings.Contains(parent.Path, "/"+excludeID+"/") {
		return "", 0, domain.CircularReferenceError(excludeID, *parentID)
	}

	return parent.Path, parent.Level, nil
}

// CreateRoleRequest 创建角色请求
type CreateRoleRequest struct {
	RoleCode    string
	RoleName    string
	Description string
	ParentID    *string // nil = 根节点
	SortOrder   int
	IsSystem    bool
}

// CreateRole 在指定父节点下创建角色
// path 依赖插入后才知道的 role_id，所以插入和回填在同一事务内完成。
func (s *HierarchyService) CreateRole(ctx context.Context, part domain.Partition, req CreateRoleRequest) (*domain.Role, error) {
	if !part.Valid() {
		return nil, fmt.Errorf("invalid partition: scope=%s tenant_id=%s", part.Scope, part.TenantID)
	}
	req.RoleCode = strings.TrimSpace(req.RoleCode)
	if req.RoleCode == "" {
		return nil, fmt.Errorf("role_code is required")
	}
	if strings.TrimSpace(req.RoleName) == "" {
		req.RoleName = req.RoleCode
	}

	// role_code 分区内唯一
	existing, err := s.roles.GetRoleByCode(ctx, part, req.RoleCode)
	if err != nil {
		return nil, fmt.Errorf("failed to check role_code uniqueness: %w", err)
	}
	if existing != nil {
		return nil, domain.DuplicateCodeError(req.RoleCode)
	}

	parentPath, parentLevel, err := s.validateParent(ctx, s.roles, part, req.ParentID, "")
	if err != nil {
		return nil, err
	}
	newLevel := domain.CalculateLevel(parentLevel)
	if newLevel > domain.MaxRoleDepth {
		return nil, domain.MaxDepthExceededError("", newLevel)
	}

	role := &domain.Role{
		RoleCode:    req.RoleCode,
		RoleName:    strings.TrimSpace(req.RoleName),
		Description: strings.TrimSpace(req.Description),
		Level:       newLevel,
		SortOrder:   req.SortOrder,
		IsSystem:    req.IsSystem,
		IsActive:    true,
	}
	if req.ParentID != nil && *req.ParentID != "" {
		role.ParentID = sql.NullString{String: *req.ParentID, Valid: true}
	}

	var roleID string
	err = s.roles.InTx(ctx, func(tx repository.RolesRepository) error {
		id, err := tx.InsertRole(ctx, part, role)
		if err != nil {
			return err
		}
		roleID = id
		return tx.SetPath(ctx, part, id, domain.BuildPath(parentPath, id))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	s.logger.Info("role created",
		zap.String("role_id", roleID),
		zap.String("role_code", role.RoleCode),
		zap.Int("level", newLevel))

	created, err := s.roles.GetRole(ctx, part, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload created role: %w", err)
	}
	return created, nil
}

// UpdateRoleRequest 更新角色请求（nil 字段不变更）
type UpdateRoleRequest struct {
	RoleCode    *string
	RoleName    *string
	Description *string
	SortOrder   *int
	IsActive    *bool

	// SetParent 为 true 时按 NewParentID 迁移（nil = 提为根节点）
	SetParent   bool
	NewParentID *string
}

// UpdateRole 更新角色属性，必要时迁移子树
// 迁移规则：
//   - 系统角色不允许改变父节点
//   - 新层级 + 子树相对深度 不得超过 MaxRoleDepth
//   - 自身定位和全部后代的 path/level 改写在同一事务内完成
func (s *HierarchyService) UpdateRole(ctx context.Context, part domain.Partition, roleID string, req UpdateRoleRequest) (*domain.Role, error) {
	role, err := s.roles.GetRole(ctx, part, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	if role == nil {
		return nil, domain.NotFoundError(roleID)
	}

	parentChanged := req.SetParent && !sameParent(role.ParentID, req.NewParentID)
	if parentChanged && role.IsSystem {
		return nil, domain.InvalidOperationError(roleID, "system role parent cannot be changed")
	}

	// role_code 变更时重查唯一性
	if req.RoleCode != nil {
		code := strings.TrimSpace(*req.RoleCode)
		if code == "" {
			return nil, fmt.Errorf("role_code is required")
		}
		if code != role.RoleCode {
			existing, err := s.roles.GetRoleByCode(ctx, part, code)
			if err != nil {
				return nil, fmt.Errorf("failed to check role_code uniqueness: %w", err)
			}
			if existing != nil && existing.RoleID != roleID {
				return nil, domain.DuplicateCodeError(code)
			}
		}
		role.RoleCode = code
	}
	if req.RoleName != nil {
		role.RoleName = strings.TrimSpace(*req.RoleName)
	}
	if req.Description != nil {
		role.Description = strings.TrimSpace(*req.Description)
	}
	if req.SortOrder != nil {
		role.SortOrder = *req.SortOrder
	}
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}

	err = s.roles.InTx(ctx, func(tx repository.RolesRepository) error {
		if parentChanged {
			if err := s.relocate(ctx, tx, part, role, req.NewParentID); err != nil {
				return err
			}
		}
		return tx.UpdateRole(ctx, part, roleID, role)
	})
	if err != nil {
		return nil, err
	}

	if parentChanged {
		s.cache.invalidatePartition(ctx, part)
		s.logger.Info("role moved",
			zap.String("role_id", roleID),
			zap.Stringp("new_parent_id", req.NewParentID))
	}

	updated, err := s.roles.GetRole(ctx, part, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload updated role: %w", err)
	}
	return updated, nil
}

// MoveRole 把角色（连同整棵子树）挂到新父节点下
// 与 UpdateRole 的迁移分支等价，供 move-only 接口调用。
func (s *HierarchyService) MoveRole(ctx context.Context, part domain.Partition, roleID string, newParentID *string) (*domain.Role, error) {
	return s.UpdateRole(ctx, part, roleID, UpdateRoleRequest{SetParent: true, NewParentID: newParentID})
}

// relocate 事务内的子树迁移
// 被移动角色的旧 level 和子树最大相对深度在迁移开始时一次性读出，
// 整个事务期间视为不变量（REPEATABLE READ 下不会漂移）。
func (s *HierarchyService) relocate(ctx context.Context, tx repository.RolesRepository, part domain.Partition, role *domain.Role, newParentID *string) error {
	parentPath, parentLevel, err := s.validateParent(ctx, tx, part, newParentID, role.RoleID)
	if err != nil {
		return err
	}
	newLevel := domain.CalculateLevel(parentLevel)

	// 深度上限按子树最深的后代算，不只看单个节点
	descendants, err := tx.ByPathPrefix(ctx, part, role.Path)
	if err != nil {
		return fmt.Errorf("failed to load subtree: %w", err)
	}
	maxRelativeDepth := 0
	for _, d := range descendants {
		if rel := d.Level - role.Level; rel > maxRelativeDepth {
			maxRelativeDepth = rel
		}
	}
	if newLevel+maxRelativeDepth > domain.MaxRoleDepth {
		return domain.MaxDepthExceededError(role.RoleID, newLevel+maxRelativeDepth)
	}

	oldPath := role.Path
	newPath := domain.BuildPath(parentPath, role.RoleID)
	levelDiff := newLevel - role.Level

	var parentID sql.NullString
	if newParentID != nil && *newParentID != "" {
		parentID = sql.NullString{String: *newParentID, Valid: true}
	}
	if err := tx.SetPlacement(ctx, part, role.RoleID, parentID, newPath, newLevel); err != nil {
		return err
	}
	// 后代整体前缀替换 + 层级平移；半途失败由事务回滚兜底
	if err := tx.RebasePaths(ctx, part, oldPath, newPath, levelDiff); err != nil {
		return err
	}

	role.ParentID = parentID
	role.Path = newPath
	role.Level = newLevel
	return nil
}

// DeleteRole 软删除角色
// 安全检查顺序：存在性 → 系统角色 → 子节点 → 持有者。
// 检查和删除在同一事务内执行，避免检查后、删除前插入子节点的窗口。
func (s *HierarchyService) DeleteRole(ctx context.Context, part domain.Partition, roleID string) error {
	var roleCode string
	err := s.roles.InTx(ctx, func(tx repository.RolesRepository) error {
		role, err := tx.GetRole(ctx, part, roleID)
		if err != nil {
			return fmt.Errorf("failed to load role: %w", err)
		}
		if role == nil {
			return domain.NotFoundError(roleID)
		}
		if role.IsSystem {
			return domain.InvalidOperationError(roleID, "system role cannot be deleted")
		}
		roleCode = role.RoleCode

		hasChildren, err := tx.HasChildren(ctx, part, roleID)
		if err != nil {
			return fmt.Errorf("failed to check children: %w", err)
		}
		if hasChildren {
			return domain.HasChildrenError(roleID)
		}

		hasHolders, err := s.holders.HasHolders(ctx, part, roleID)
		if err != nil {
			return fmt.Errorf("failed to check holders: %w", err)
		}
		if hasHolders {
			return domain.HasHoldersError(roleID)
		}

		return tx.SoftDeleteRole(ctx, part, roleID)
	})
	if err != nil {
		return err
	}
	s.cache.invalidatePartition(ctx, part)
	s.logger.Info("role deleted", zap.String("role_id", roleID), zap.String("role_code", roleCode))
	return nil
}

// SetRoleStatus 启用/禁用角色（软开关，不影响树结构）
func (s *HierarchyService) SetRoleStatus(ctx context.Context, part domain.Partition, roleID string, isActive bool) error {
	role, err := s.roles.GetRole(ctx, part, roleID)
	if err != nil {
		return fmt.Errorf("failed to load role: %w", err)
	}
	if role == nil {
		return domain.NotFoundError(roleID)
	}
	return s.roles.SetRoleStatus(ctx, part, roleID, isActive)
}

// ListRoles 过滤 + 分页的平铺列表（管理后台表格视图）
func (s *HierarchyService) ListRoles(ctx context.Context, part domain.Partition, filter repository.RolesFilter, page, size int) ([]*domain.Role, int, error) {
	return s.roles.ListRoles(ctx, part, filter, page, size)
}

// GetAncestors 祖先链（根在前），由物化路径解析后批量查询
// 没有祖先时返回空列表，不报错。
func (s *HierarchyService) GetAncestors(ctx context.Context, part domain.Partition, roleID string) ([]*domain.Role, error) {
	role, err := s.roles.GetRole(ctx, part, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	if role == nil {
		return nil, domain.NotFoundError(roleID)
	}

	ids := domain.SplitPath(role.Path)
	ancestorIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != roleID {
			ancestorIDs = append(ancestorIDs, id)
		}
	}
	if len(ancestorIDs) == 0 {
		return []*domain.Role{}, nil
	}
	// GetRoles 按 level 升序返回，即根在前
	return s.roles.GetRoles(ctx, part, ancestorIDs)
}

// GetDescendants 子树内全部后代（不含自己），按 level、sort_order 排序
func (s *HierarchyService) GetDescendants(ctx context.Context, part domain.Partition, roleID string) ([]*domain.Role, error) {
	role, err := s.roles.GetRole(ctx, part, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	if role == nil {
		return nil, domain.NotFoundError(roleID)
	}

	subtree, err := s.roles.ByPathPrefix(ctx, part, role.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load subtree: %w", err)
	}
	out := make([]*domain.Role, 0, len(subtree))
	for _, d := range subtree {
		if d.RoleID != roleID {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetTree 构建角色树视图
// rootID 为 nil 时返回整个分区的森林，否则返回该节点的子树。
func (s *HierarchyService) GetTree(ctx context.Context, part domain.Partition, rootID *string) ([]*domain.TreeNode, error) {
	var roles []*domain.Role
	var err error
	if rootID == nil || *rootID == "" {
		roles, err = s.roles.AllRoles(ctx, part)
	} else {
		var root *domain.Role
		root, err = s.roles.GetRole(ctx, part, *rootID)
		if err == nil {
			if root == nil {
				return nil, domain.NotFoundError(*rootID)
			}
			roles, err = s.roles.ByPathPrefix(ctx, part, root.Path)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load roles for tree: %w", err)
	}

	// 按 parent_id 分组；父节点不在结果集内的就是本次视图的顶层
	nodes := make(map[string]*domain.TreeNode, len(roles))
	for _, role := range roles {
		nodes[role.RoleID] = &domain.TreeNode{Role: role, Children: []*domain.TreeNode{}}
	}
	forest := []*domain.TreeNode{}
	for _, role := range roles {
		node := nodes[role.RoleID]
		if role.ParentID.Valid {
			if parent, ok := nodes[role.ParentID.String]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		forest = append(forest, node)
	}
	return forest, nil
}

func sameParent(current sql.NullString, next *string) bool {
	if next == nil || *next == "" {
		return !current.Valid
	}
	return current.Valid && current.String == *next
}
