package repository

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"wisefido-admin/internal/domain"
)

// MemoryRolesRepo supports role management when DB is disabled (dev mode)
// and backs the service unit tests.
// NOTE: InTx serializes on a single lock and restores a snapshot on error,
// which is enough to keep the path/level invariant in-process.
type MemoryRolesRepo struct {
	mu    sync.RWMutex
	roles map[string]*domain.Role // roleID -> Role
	perms map[string][]string     // roleID -> directly granted permission ids
}

func NewMemoryRolesRepo() *MemoryRolesRepo {
	return &MemoryRolesRepo{
		roles: map[string]*domain.Role{},
		perms: map[string][]string{},
	}
}

var _ RolesRepository = (*MemoryRolesRepo)(nil)

func sameTenant(a, b sql.NullString) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.String == b.String
}

func (r *MemoryRolesRepo) inPartition(role *domain.Role, part domain.Partition) bool {
	return role.Scope == part.Scope && sameTenant(role.TenantID, part.TenantNull())
}

func cloneRole(role *domain.Role) *domain.Role {
	c := *role
	return &c
}

func (r *MemoryRolesRepo) GetRole(_ context.Context, part domain.Partition, roleID string) (*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[roleID]
	if !ok || !r.inPartition(role, part) {
		return nil, nil
	}
	return cloneRole(role), nil
}

func (r *MemoryRolesRepo) GetRoleByCode(_ context.Context, part domain.Partition, roleCode string) (*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if r.inPartition(role, part) && role.RoleCode == roleCode {
			return cloneRole(role), nil
		}
	}
	return nil, nil
}

func (r *MemoryRolesRepo) GetRoles(_ context.Context, part domain.Partition, roleIDs []string) ([]*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		if role, ok := r.roles[id]; ok && r.inPartition(role, part) {
			out = append(out, cloneRole(role))
		}
	}
	return out, nil
}

func (r *MemoryRolesRepo) ListRoles(_ context.Context, part domain.Partition, filter RolesFilter, page, size int) ([]*domain.Role, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		if !r.inPartition(role, part) {
			continue
		}
		if filter.Search != "" {
			s := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(role.RoleCode), s) &&
				!strings.Contains(strings.ToLower(role.RoleName), s) &&
				!strings.Contains(strings.ToLower(role.Description), s) {
				continue
			}
		}
		if filter.IsSystem != nil && role.IsSystem != *filter.IsSystem {
			continue
		}
		if filter.IsActive != nil && role.IsActive != *filter.IsActive {
			continue
		}
		all = append(all, cloneRole(role))
	}
	sortRoles(all)

	total := len(all)
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *MemoryRolesRepo) AllRoles(_ context.Context, part domain.Partition) ([]*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		if r.inPartition(role, part) {
			all = append(all, cloneRole(role))
		}
	}
	sortRoles(all)
	return all, nil
}

func (r *MemoryRolesRepo) ChildrenOf(_ context.Context, part domain.Partition, parentID *string) ([]*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Role{}
	for _, role := range r.roles {
		if !r.inPartition(role, part) {
			continue
		}
		if parentID == nil {
			if !role.ParentID.Valid {
				out = append(out, cloneRole(role))
			}
		} else if role.ParentID.Valid && role.ParentID.String == *parentID {
			out = append(out, cloneRole(role))
		}
	}
	sortRoles(out)
	return out, nil
}

func (r *MemoryRolesRepo) ByPathPrefix(_ context.Context, part domain.Partition, prefix string) ([]*domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Role{}
	for _, role := range r.roles {
		if r.inPartition(role, part) && strings.HasPrefix(role.Path, prefix) {
			out = append(out, cloneRole(role))
		}
	}
	sortRoles(out)
	return out, nil
}

func (r *MemoryRolesRepo) HasChildren(_ context.Context, part domain.Partition, roleID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if r.inPartition(role, part) && role.ParentID.Valid && role.ParentID.String == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRolesRepo) InsertRole(_ context.Context, part domain.Partition, role *domain.Role) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := role.RoleID
	if id == "" {
		id = uuid.NewString()
	}
	c := cloneRole(role)
	c.RoleID = id
	c.Scope = part.Scope
	c.TenantID = part.TenantNull()
	r.roles[id] = c
	return id, nil
}

func (r *MemoryRolesRepo) SetPath(_ context.Context, part domain.Partition, roleID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[roleID]; ok && r.inPartition(role, part) {
		role.Path = path
	}
	return nil
}

func (r *MemoryRolesRepo) SetPlacement(_ context.Context, part domain.Partition, roleID string, parentID sql.NullString, path string, level int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[roleID]; ok && r.inPartition(role, part) {
		role.ParentID = parentID
		role.Path = path
		role.Level = level
	}
	return nil
}

func (r *MemoryRolesRepo) RebasePaths(_ context.Context, part domain.Partition, oldPrefix, newPrefix string, levelDiff int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if r.inPartition(role, part) && strings.HasPrefix(role.Path, oldPrefix) {
			role.Path = domain.ReplacePathPrefix(role.Path, oldPrefix, newPrefix)
			role.Level += levelDiff
		}
	}
	return nil
}

func (r *MemoryRolesRepo) UpdateRole(_ context.Context, part domain.Partition, roleID string, role *domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.roles[roleID]
	if !ok || !r.inPartition(cur, part) {
		return nil
	}
	cur.RoleCode = role.RoleCode
	cur.RoleName = role.RoleName
	cur.Description = role.Description
	cur.SortOrder = role.SortOrder
	cur.IsActive = role.IsActive
	return nil
}

func (r *MemoryRolesRepo) SetRoleStatus(_ context.Context, part domain.Partition, roleID string, isActive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[roleID]; ok && r.inPartition(role, part) {
		role.IsActive = isActive
	}
	return nil
}

func (r *MemoryRolesRepo) SoftDeleteRole(_ context.Context, part domain.Partition, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[roleID]; ok && r.inPartition(role, part) {
		delete(r.roles, roleID)
		delete(r.perms, roleID)
	}
	return nil
}

func (r *MemoryRolesRepo) PermissionIDsOf(_ context.Context, part domain.Partition, roleID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[roleID]
	if !ok || !r.inPartition(role, part) {
		return nil, nil
	}
	return append([]string(nil), r.perms[roleID]...), nil
}

func (r *MemoryRolesRepo) ReplacePermissions(_ context.Context, part domain.Partition, roleID string, permissionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleID]
	if !ok || !r.inPartition(role, part) {
		return nil
	}
	r.perms[roleID] = append([]string(nil), permissionIDs...)
	return nil
}

// InTx runs fn against the same repo and restores a snapshot when fn fails,
// so a half-applied subtree rewrite never leaks out.
func (r *MemoryRolesRepo) InTx(_ context.Context, fn func(RolesRepository) error) error {
	r.mu.Lock()
	rolesSnap := make(map[string]*domain.Role, len(r.roles))
	for id, role := range r.roles {
		rolesSnap[id] = cloneRole(role)
	}
	permsSnap := make(map[string][]string, len(r.perms))
	for id, ids := range r.perms {
		permsSnap[id] = append([]string(nil), ids...)
	}
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.roles = rolesSnap
		r.perms = permsSnap
		r.mu.Unlock()
		return err
	}
	return nil
}

// sortRoles orders by level then sort_order then role_code (caller-visible order).
func sortRoles(roles []*domain.Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level < roles[j].Level
		}
		if roles[i].SortOrder != roles[j].SortOrder {
			return roles[i].SortOrder < roles[j].SortOrder
		}
		return roles[i].RoleCode < roles[j].RoleCode
	})
}
