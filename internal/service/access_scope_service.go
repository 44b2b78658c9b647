package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
	"wisefido-admin/internal/repository"
)

// AccessScopeService 访问范围计算器
// 按访问主体（Actor）计算：可见角色集合、可管理角色集合、
// 可授予的权限集合。提升身份（平台超管 / 租户 owner）在分区内全量放行；
// 普通角色持有者只能看到自己 + 后代，且只能管理后代（不含自己）。
type AccessScopeService struct {
	roles     repository.RolesRepository
	perms     repository.PermissionsRepository
	hierarchy *HierarchyService
	resolver  *PermissionService
	cache     *PermCache
	logger    *zap.Logger
}

// NewAccessScopeService 创建访问范围计算器
func NewAccessScopeService(roles repository.RolesRepository, perms repository.PermissionsRepository, hierarchy *HierarchyService, resolver *PermissionService, cache *PermCache, logger *zap.Logger) *AccessScopeService {
	return &AccessScopeService{
		roles:     roles,
		perms:     perms,
		hierarchy: hierarchy,
		resolver:  resolver,
		cache:     cache,
		logger:    logger,
	}
}

// VisibleRoleIDs 主体可见的角色 id 集合
// 提升身份：分区内全部；普通持有者：自己 + 全部后代。
func (s *AccessScopeService) VisibleRoleIDs(ctx context.Context, actor domain.Actor) (map[string]struct{}, error) {
	if actor.Elevated {
		return s.allRoleIDs(ctx, actor.Part)
	}
	if actor.RoleID == "" {
		return map[string]struct{}{}, nil
	}

	ids := map[string]struct{}{actor.RoleID: {}}
	descendants, err := s.hierarchy.GetDescendants(ctx, actor.Part, actor.RoleID)
	if err != nil {
		return nil, err
	}
	for _, d := range descendants {
		ids[d.RoleID] = struct{}{}
	}
	return ids, nil
}

// ManageableRoleIDs 主体可结构性修改的角色 id 集合
// 提升身份：分区内全部；普通持有者：仅后代（可以管下面，不能管自己）。
func (s *AccessScopeService) ManageableRoleIDs(ctx context.Context, actor domain.Actor) (map[string]struct{}, error) {
	if actor.Elevated {
		return s.allRoleIDs(ctx, actor.Part)
	}
	if actor.RoleID == "" {
		return map[string]struct{}{}, nil
	}

	ids := map[string]struct{}{}
	descendants, err := s.hierarchy.GetDescendants(ctx, actor.Part, actor.RoleID)
	if err != nil {
		return nil, err
	}
	for _, d := range descendants {
		ids[d.RoleID] = struct{}{}
	}
	return ids, nil
}

// CanCreateUnderParent 主体是否允许在 parentID 下创建角色
// 提升身份可以建根节点（parentID = nil）；普通持有者永远不能建根，
// 且父节点必须落在自己的可见集合内。
func (s *AccessScopeService) CanCreateUnderParent(ctx context.Context, actor domain.Actor, parentID *string) (bool, error) {
	if actor.Elevated {
		return true, nil
	}
	if parentID == nil || *parentID == "" {
		return false, nil
	}
	visible, err := s.VisibleRoleIDs(ctx, actor)
	if err != nil {
		return false, err
	}
	_, ok := visible[*parentID]
	return ok, nil
}

// EffectivePermissionIDs 主体自身的有效权限 id 集合
// 提升身份：目录里该授权域全部启用权限；普通持有者：其角色的有效权限。
func (s *AccessScopeService) EffectivePermissionIDs(ctx context.Context, actor domain.Actor) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if actor.Elevated {
		all, err := s.perms.AllEnabled(ctx, actor.Part.Scope)
		if err != nil {
			return nil, fmt.Errorf("failed to load permission catalog: %w", err)
		}
		for _, p := range all {
			out[p.PermissionID] = struct{}{}
		}
		return out, nil
	}
	if actor.RoleID == "" {
		return out, nil
	}
	ids, err := s.resolver.EffectivePermissionIDs(ctx, actor.Part, actor.RoleID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// FilterAssignablePermissions 把请求的权限 id 列表过滤到主体自身有效集合内
// 返回 (allowed, rejected)：主体不能把自己没有的权限授予别人，
// rejected 单独返回供调用方做错误报告。
func (s *AccessScopeService) FilterAssignablePermissions(ctx context.Context, actor domain.Actor, requestedIDs []string) (allowed, rejected []string, err error) {
	effective, err := s.EffectivePermissionIDs(ctx, actor)
	if err != nil {
		return nil, nil, err
	}
	allowed = make([]string, 0, len(requestedIDs))
	rejected = []string{}
	seen := map[string]struct{}{}
	for _, id := range requestedIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := effective[id]; ok {
			allowed = append(allowed, id)
		} else {
			rejected = append(rejected, id)
		}
	}
	return allowed, rejected, nil
}

// ReplaceRolePermissions 重授角色的直接权限（管理后台"保存角色权限"流程）
// 规则：目标角色必须在主体的可管理集合内（提升身份除外）；
// 请求里超出主体自身有效集合的权限直接整体拒绝（PermissionNotAssignable，
// 带被拒 id 列表）。写入后分区缓存整体失效。
func (s *AccessScopeService) ReplaceRolePermissions(ctx context.Context, actor domain.Actor, roleID string, requestedIDs []string) error {
	role, err := s.roles.GetRole(ctx, actor.Part, roleID)
	if err != nil {
		return fmt.Errorf("failed to load role: %w", err)
	}
	if role == nil {
		return domain.NotFoundError(roleID)
	}

	if !actor.Elevated {
		manageable, err := s.ManageableRoleIDs(ctx, actor)
		if err != nil {
			return err
		}
		if _, ok := manageable[roleID]; !ok {
			return domain.InvalidOperationError(roleID, "role is outside actor's manageable set")
		}
	}

	allowed, rejected, err := s.FilterAssignablePermissions(ctx, actor, requestedIDs)
	if err != nil {
		return err
	}
	if len(rejected) > 0 {
		return domain.PermissionNotAssignableError(roleID, rejected)
	}

	err = s.roles.InTx(ctx, func(tx repository.RolesRepository) error {
		return tx.ReplacePermissions(ctx, actor.Part, roleID, allowed)
	})
	if err != nil {
		return fmt.Errorf("failed to replace role permissions: %w", err)
	}

	s.cache.invalidatePartition(ctx, actor.Part)
	s.logger.Info("role permissions replaced",
		zap.String("role_id", roleID),
		zap.Int("count", len(allowed)))
	return nil
}

func (s *AccessScopeService) allRoleIDs(ctx context.Context, part domain.Partition) (map[string]struct{}, error) {
	all, err := s.roles.AllRoles(ctx, part)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	ids := make(map[string]struct{}, len(all))
	for _, r := range all {
		ids[r.RoleID] = struct{}{}
	}
	return ids, nil
}
