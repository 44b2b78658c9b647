package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
	"wisefido-admin/internal/repository"
)

// PermissionService 权限解析器
// 计算角色的有效权限（自身直授 ∪ 全部祖先直授），权限继承沿树向下。
// 有效权限 id 集合走 PermCache（redis），结构变更时由树引擎整体失效。
type PermissionService struct {
	roles     repository.RolesRepository
	perms     repository.PermissionsRepository
	hierarchy *HierarchyService
	cache     *PermCache
	logger    *zap.Logger
}

// NewPermissionService 创建权限解析器
func NewPermissionService(roles repository.RolesRepository, perms repository.PermissionsRepository, hierarchy *HierarchyService, cache *PermCache, logger *zap.Logger) *PermissionService {
	return &PermissionService{
		roles:     roles,
		perms:     perms,
		hierarchy: hierarchy,
		cache:     cache,
		logger:    logger,
	}
}

// EffectivePermissionIDs 角色的有效权限 id 集合（自身 ∪ 祖先，按 id 去重）
// 角色没有任何权限时返回空列表，不报错。
func (s *PermissionService) EffectivePermissionIDs(ctx context.Context, part domain.Partition, roleID string) ([]string, error) {
	if cached, ok := s.cache.get(ctx, part, roleID); ok {
		var ids []string
		if err := json.Unmarshal([]byte(cached), &ids); err == nil {
			return ids, nil
		}
		// 缓存内容损坏：当作 miss 重算
	}

	own, err := s.roles.PermissionIDsOf(ctx, part, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}

	ancestors, err := s.hierarchy.GetAncestors(ctx, part, roleID)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	ids := []string{}
	add := func(permIDs []string) {
		for _, id := range permIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	add(own)
	for _, a := range ancestors {
		inherited, err := s.roles.PermissionIDsOf(ctx, part, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("failed to load ancestor permissions: %w", err)
		}
		add(inherited)
	}
	sort.Strings(ids)

	if data, err := json.Marshal(ids); err == nil {
		s.cache.set(ctx, part, roleID, string(data))
	}
	return ids, nil
}

// EffectivePermissions 角色的有效权限记录（自身 ∪ 祖先）
func (s *PermissionService) EffectivePermissions(ctx context.Context, part domain.Partition, roleID string) ([]*domain.Permission, error) {
	ids, err := s.EffectivePermissionIDs(ctx, part, roleID)
	if err != nil {
		return nil, err
	}
	return s.perms.GetMany(ctx, ids)
}

// InheritedPermissions 仅从祖先继承的权限（排除自身直授）
func (s *PermissionService) InheritedPermissions(ctx context.Context, part domain.Partition, roleID string) ([]*domain.Permission, error) {
	effective, err := s.EffectivePermissionIDs(ctx, part, roleID)
	if err != nil {
		return nil, err
	}
	own, err := s.roles.PermissionIDsOf(ctx, part, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	ownSet := make(map[string]struct{}, len(own))
	for _, id := range own {
		ownSet[id] = struct{}{}
	}

	inherited := []string{}
	for _, id := range effective {
		if _, ok := ownSet[id]; !ok {
			inherited = append(inherited, id)
		}
	}
	return s.perms.GetMany(ctx, inherited)
}

// HasPermission 角色的有效权限集是否包含指定权限代码
func (s *PermissionService) HasPermission(ctx context.Context, part domain.Partition, roleID, permissionCode string) (bool, error) {
	perms, err := s.EffectivePermissions(ctx, part, roleID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Code == permissionCode {
			return true, nil
		}
	}
	return false, nil
}

// CheckCode 权限集合匹配：精确 / 全局通配 "*" / 资源前缀通配 "resource:*"
func (s *PermissionService) CheckCode(owned domain.PermissionSet, required string) bool {
	return domain.MatchPermissionCode(owned, required)
}
