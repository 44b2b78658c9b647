package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
	"wisefido-admin/internal/repository"
	"wisefido-admin/internal/service"
)

// RolesHandler 角色管理 Handler
// 认证、租户解析、参数合法性由上游中间件保证（见 util.go），
// 这里做参数搬运 + 可见/可管范围检查，树逻辑全部在 Service 层。
type RolesHandler struct {
	hierarchy *service.HierarchyService
	resolver  *service.PermissionService
	scope     *service.AccessScopeService
	export    *service.RoleExportService
	logger    *zap.Logger
}

// NewRolesHandler 创建角色管理 Handler
func NewRolesHandler(hierarchy *service.HierarchyService, resolver *service.PermissionService, scope *service.AccessScopeService, export *service.RoleExportService, logger *zap.Logger) *RolesHandler {
	return &RolesHandler{
		hierarchy: hierarchy,
		resolver:  resolver,
		scope:     scope,
		export:    export,
		logger:    logger,
	}
}

const rolesPrefix = "/admin/api/v1/roles"

// ServeHTTP 实现 http.Handler 接口
func (h *RolesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// 路由分发
	switch {
	case path == rolesPrefix && r.Method == http.MethodGet:
		h.ListRoles(w, r)
	case path == rolesPrefix && r.Method == http.MethodPost:
		h.CreateRole(w, r)
	case path == rolesPrefix+"/tree" && r.Method == http.MethodGet:
		h.GetTree(w, r)
	case path == rolesPrefix+"/export" && r.Method == http.MethodGet:
		h.ExportMatrix(w, r)
	case strings.HasSuffix(path, "/move") && r.Method == http.MethodPost:
		h.MoveRole(w, r, pathRoleID(path, "/move"))
	case strings.HasSuffix(path, "/status") && r.Method == http.MethodPut:
		h.SetRoleStatus(w, r, pathRoleID(path, "/status"))
	case strings.HasSuffix(path, "/permissions") && r.Method == http.MethodGet:
		h.GetRolePermissions(w, r, pathRoleID(path, "/permissions"))
	case strings.HasSuffix(path, "/permissions") && r.Method == http.MethodPut:
		h.ReplaceRolePermissions(w, r, pathRoleID(path, "/permissions"))
	case strings.HasPrefix(path, rolesPrefix+"/") && r.Method == http.MethodPut:
		h.UpdateRole(w, r, pathRoleID(path, ""))
	case strings.HasPrefix(path, rolesPrefix+"/") && r.Method == http.MethodDelete:
		h.DeleteRole(w, r, pathRoleID(path, ""))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func pathRoleID(path, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, rolesPrefix+"/"), suffix)
}

// roleItem 角色项（前端格式）
type roleItem struct {
	RoleID      string  `json:"role_id"`
	Scope       string  `json:"scope"`
	TenantID    *string `json:"tenant_id"`
	RoleCode    string  `json:"role_code"`
	RoleName    string  `json:"role_name"`
	Description string  `json:"description"`
	ParentID    *string `json:"parent_id"`
	Path        string  `json:"path"`
	Level       int     `json:"level"`
	SortOrder   int     `json:"sort_order"`
	IsSystem    bool    `json:"is_system"`
	IsActive    bool    `json:"is_active"`
}

func toRoleItem(role *domain.Role) roleItem {
	item := roleItem{
		RoleID:      role.RoleID,
		Scope:       string(role.Scope),
		RoleCode:    role.RoleCode,
		RoleName:    role.RoleName,
		Description: role.Description,
		Path:        role.Path,
		Level:       role.Level,
		SortOrder:   role.SortOrder,
		IsSystem:    role.IsSystem,
		IsActive:    role.IsActive,
	}
	if role.TenantID.Valid {
		item.TenantID = &role.TenantID.String
	}
	if role.ParentID.Valid {
		item.ParentID = &role.ParentID.String
	}
	return item
}

// ListRoles 查询角色列表
// 提升身份走带过滤/分页的 SQL 列表；普通持有者按可见集合过滤树视图。
func (h *RolesHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFromReq(r)

	if actor.Elevated {
		q := r.URL.Query()
		filter := repository.RolesFilter{Search: strings.TrimSpace(q.Get("search"))}
		if v := q.Get("is_system"); v != "" {
			b := v == "true"
			filter.IsSystem = &b
		}
		if v := q.Get("is_active"); v != "" {
			b := v == "true"
			filter.IsActive = &b
		}
		page := parseInt(q.Get("page"), 1)
		size := parseInt(q.Get("size"), 50)

		roles, total, err := h.hierarchy.ListRoles(ctx, actor.Part, filter, page, size)
		if err != nil {
			h.logger.Error("ListRoles failed", zap.Error(err))
			writeJSON(w, http.StatusOK, FailErr(err))
			return
		}
		items := make([]roleItem, 0, len(roles))
		for _, role := range roles {
			items = append(items, toRoleItem(role))
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{
			"items": items,
			"total": total,
		}))
		return
	}

	visible, err := h.scope.VisibleRoleIDs(ctx, actor)
	if err != nil {
		h.logger.Error("ListRoles visibility failed", zap.Error(err))
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}

	// TODO: push the visibility filter into ListRoles SQL once the admin UI needs server-side paging over large tenants
	tree, err := h.hierarchy.GetTree(ctx, actor.Part, nil)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	items := []roleItem{}
	var walk func(nodes []*domain.TreeNode)
	walk = func(nodes []*domain.TreeNode) {
		for _, n := range nodes {
			if _, ok := visible[n.Role.RoleID]; ok {
				items = append(items, toRoleItem(n.Role))
			}
			walk(n.Children)
		}
	}
	walk(tree)

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": items,
		"total": len(items),
	}))
}

// CreateRole 创建角色
func (h *RolesHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFromReq(r)

	var payload struct {
		RoleCode    string  `json:"role_code"`
		RoleName    string  `json:"role_name"`
		Description string  `json:"description"`
		ParentID    *string `json:"parent_id"`
		SortOrder   int     `json:"sort_order"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	allowed, err := h.scope.CanCreateUnderParent(ctx, actor, payload.ParentID)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	if !allowed {
		writeJSON(w, http.StatusOK, Fail("parent is outside actor's visible set"))
		return
	}

	role, err := h.hierarchy.CreateRole(ctx, actor.Part, service.CreateRoleRequest{
		RoleCode:    payload.RoleCode,
		RoleName:    payload.RoleName,
		Description: payload.Description,
		ParentID:    payload.ParentID,
		SortOrder:   payload.SortOrder,
	})
	if err != nil {
		h.logger.Error("CreateRole failed", zap.Error(err))
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toRoleItem(role)))
}

// GetTree 角色树视图
// 普通持有者只看到自己角色为根的子树；提升身份可传 root_id 或看全量。
func (h *RolesHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFromReq(r)

	var rootID *string
	if actor.Elevated {
		if v := strings.TrimSpace(r.URL.Query().Get("root_id")); v != "" {
			rootID = &v
		}
	} else {
		if actor.RoleID == "" {
			writeJSON(w, http.StatusOK, Ok([]*domain.TreeNode{}))
			return
		}
		rootID = &actor.RoleID
	}

	tree, err := h.hierarchy.GetTree(ctx, actor.Part, rootID)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(tree))
}

// UpdateRole 更新角色（可带 parent_id 迁移）
func (h *RolesHandler) UpdateRole(w http.ResponseWriter, r *http.Request, roleID string) {
	ctx := r.Context()
	actor := actorFromReq(r)

	if !h.checkManageable(ctx, w, actor, roleID) {
		return
	}

	var payload struct {
		RoleCode    *string `json:"role_code"`
		RoleName    *string `json:"role_name"`
		Description *string `json:"description"`
		SortOrder   *int    `json:"sort_order"`
		IsActive    *bool   `json:"is_active"`
		SetParent   bool    `json:"set_parent"`
		ParentID    *string `json:"parent_id"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	if payload.SetParent && !h.checkParentReachable(ctx, w, actor, payload.ParentID) {
		return
	}

	role, err := h.hierarchy.UpdateRole(ctx, actor.Part, roleID, service.UpdateRoleRequest{
		RoleCode:    payload.RoleCode,
		RoleName:    payload.RoleName,
		Description: payload.Description,
		SortOrder:   payload.SortOrder,
		IsActive:    payload.IsActive,
		SetParent:   payload.SetParent,
		NewParentID: payload.ParentID,
	})
	if err != nil {
		h.logger.Error("UpdateRole failed", zap.String("role_id", roleID), zap.Error(err))
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toRoleItem(role)))
}

// MoveRole 迁移子树（move-only 接口）
func (h *RolesHandler) MoveRole(w http.ResponseWriter, r *http.Request, roleID string) {
	ctx := r.Context()
	actor := actorFromReq(r)

	if !h.checkManageable(ctx, w, actor, roleID) {
		return
	}

	var payload struct {
		ParentID *string `json:"parent_id"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	if !h.checkParentReachable(ctx, w, actor, payload.ParentID) {
		return
	}

	role, err := h.hierarchy.MoveRole(ctx, actor.Part, roleID, payload.ParentID)
	if err != nil {
		h.logger.Error("MoveRole failed", zap.String("role_id", roleID), zap.Error(err))
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(toRoleItem(role)))
}

// SetRoleStatus 启用/禁用角色
func (h *RolesHandler) SetRoleStatus(w http.ResponseWriter, r *http.Request, roleID string) {
	ctx := r.Context()
	actor := actorFromReq(r)

	if !h.checkManageable(ctx, w, actor, roleID) {
		return
	}

	var payload struct {
		IsActive bool `json:"is_active"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	if err := h.hierarchy.SetRoleStatus(ctx, actor.Part, roleID, payload.IsActive); err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(true))
}

// DeleteRole 删除角色
func (h *RolesHandler) DeleteRole(w http.ResponseWriter, r *http.Request, roleID string) {
	ctx := r.Context()
	actor := actorFromReq(r)

	if !h.checkManageable(ctx, w, actor, roleID) {
		return
	}

	if err := h.hierarchy.DeleteRole(ctx, actor.Part, roleID); err != nil {
		h.logger.Error("DeleteRole failed", zap.String("role_id", roleID), zap.Error(err))
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(true))
}

// GetRolePermissions 角色权限视图（直接授予 + 继承 + 有效合集）
// 读操作也受可见集合约束：持有者只能看自己 + 后代的权限。
func (h *RolesHandler) GetRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	ctx := r.Context()
	actor := actorFromReq(r)

	if !h.checkVisible(ctx, w, actor, roleID) {
		return
	}

	effective, err := h.resolver.EffectivePermissions(ctx, actor.Part, roleID)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	inherited, err := h.resolver.InheritedPermissions(ctx, actor.Part, roleID)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}

	inheritedSet := map[string]struct{}{}
	for _, p := range inherited {
		inheritedSet[p.PermissionID] = struct{}{}
	}
	direct := []*domain.Permission{}
	for _, p := range effective {
		if _, ok := inheritedSet[p.PermissionID]; !ok {
			direct = append(direct, p)
		}
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"direct":    direct,
		"inherited": inherited,
		"effective": effective,
	}))
}

// ReplaceRolePermissions 重授角色权限（主体只能授出自己持有的权限）
func (h *RolesHandler) ReplaceRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	ctx := r.Context()
	actor := actorFromReq(r)

	var payload struct {
		PermissionIDs []string `json:"permission_ids"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	if err := h.scope.ReplaceRolePermissions(ctx, actor, roleID, payload.PermissionIDs); err != nil {
		h.logger.Error("ReplaceRolePermissions failed", zap.String("role_id", roleID), zap.Error(err))
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}
	writeJSON(w, http.StatusOK, Ok(true))
}

// ExportMatrix 导出角色×权限矩阵 Excel
func (h *RolesHandler) ExportMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFromReq(r)

	if !actor.Elevated {
		writeJSON(w, http.StatusOK, Fail("export requires elevated actor"))
		return
	}

	data, err := h.export.ExportPermissionMatrix(ctx, actor.Part)
	if err != nil {
		h.logger.Error("ExportMatrix failed", zap.Error(err))
		writeJSON(w, http.StatusOK, FailErr(err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="role-permissions.xlsx"`)
	_, _ = w.Write(data)
}

// checkManageable 普通持有者只能操作自己可管理的角色（后代，不含自己）
func (h *RolesHandler) checkManageable(ctx context.Context, w http.ResponseWriter, actor domain.Actor, roleID string) bool {
	if actor.Elevated {
		return true
	}
	manageable, err := h.scope.ManageableRoleIDs(ctx, actor)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return false
	}
	if _, ok := manageable[roleID]; !ok {
		writeJSON(w, http.StatusOK, Fail("role is outside actor's manageable set"))
		return false
	}
	return true
}

// checkVisible 普通持有者的读操作限制在可见集合内（自己 + 后代）
func (h *RolesHandler) checkVisible(ctx context.Context, w http.ResponseWriter, actor domain.Actor, roleID string) bool {
	if actor.Elevated {
		return true
	}
	visible, err := h.scope.VisibleRoleIDs(ctx, actor)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return false
	}
	if _, ok := visible[roleID]; !ok {
		writeJSON(w, http.StatusOK, Fail("role is outside actor's visible set"))
		return false
	}
	return true
}

// checkParentReachable 迁移目标父节点必须落在主体的可见集合内
// （建子节点的规则同样适用于改挂：持有者不能把后代推到自己够不到的地方）
func (h *RolesHandler) checkParentReachable(ctx context.Context, w http.ResponseWriter, actor domain.Actor, parentID *string) bool {
	allowed, err := h.scope.CanCreateUnderParent(ctx, actor, parentID)
	if err != nil {
		writeJSON(w, http.StatusOK, FailErr(err))
		return false
	}
	if !allowed {
		writeJSON(w, http.StatusOK, Fail("new parent is outside actor's visible set"))
		return false
	}
	return true
}
