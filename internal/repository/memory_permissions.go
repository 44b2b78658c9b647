package repository

import (
	"context"
	"sort"
	"sync"

	"wisefido-admin/internal/domain"
)

// MemoryPermissionsRepo in-memory permission catalog (dev mode / unit tests).
type MemoryPermissionsRepo struct {
	mu    sync.RWMutex
	perms map[string]*domain.Permission // permissionID -> Permission
}

func NewMemoryPermissionsRepo() *MemoryPermissionsRepo {
	return &MemoryPermissionsRepo{perms: map[string]*domain.Permission{}}
}

var _ PermissionsRepository = (*MemoryPermissionsRepo)(nil)

// Seed adds catalog entries (test helper; the real catalog is external).
func (r *MemoryPermissionsRepo) Seed(perms ...*domain.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range perms {
		c := *p
		r.perms[p.PermissionID] = &c
	}
}

func (r *MemoryPermissionsRepo) GetMany(_ context.Context, permissionIDs []string) ([]*domain.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Permission, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		if p, ok := r.perms[id]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *MemoryPermissionsRepo) AllEnabled(_ context.Context, scope domain.Scope) ([]*domain.Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.Permission{}
	for _, p := range r.perms {
		if p.IsEnabled && p.Scope.UsableIn(scope) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// MemoryHolderRegistry in-memory holder registry (dev mode / unit tests).
type MemoryHolderRegistry struct {
	mu      sync.RWMutex
	holders map[string][]string // roleID -> holder user ids
}

func NewMemoryHolderRegistry() *MemoryHolderRegistry {
	return &MemoryHolderRegistry{holders: map[string][]string{}}
}

var _ HolderRegistry = (*MemoryHolderRegistry)(nil)

// Assign attaches a holder to a role (test helper).
func (r *MemoryHolderRegistry) Assign(roleID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holders[roleID] = append(r.holders[roleID], userID)
}

func (r *MemoryHolderRegistry) HasHolders(_ context.Context, _ domain.Partition, roleID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.holders[roleID]) > 0, nil
}

func (r *MemoryHolderRegistry) ReassignHolders(_ context.Context, _ domain.Partition, fromRoleID, toRoleID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := r.holders[fromRoleID]
	if len(moved) == 0 {
		return 0, nil
	}
	r.holders[toRoleID] = append(r.holders[toRoleID], moved...)
	delete(r.holders, fromRoleID)
	return len(moved), nil
}
