package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
	"wisefido-admin/internal/repository"
	"wisefido-admin/internal/service"
	"wisefido-admin/internal/store"
)

type handlerFixture struct {
	roles   *repository.MemoryRolesRepo
	perms   *repository.MemoryPermissionsRepo
	holders *repository.MemoryHolderRegistry
	router  *Router
}

func newHandlerFixture() *handlerFixture {
	roles := repository.NewMemoryRolesRepo()
	perms := repository.NewMemoryPermissionsRepo()
	holders := repository.NewMemoryHolderRegistry()
	log := zap.NewNop()
	cache := service.NewPermCache(store.NewMemoryKV(), time.Minute, log)
	hierarchy := service.NewHierarchyService(roles, holders, cache, log)
	resolver := service.NewPermissionService(roles, perms, hierarchy, cache, log)
	scope := service.NewAccessScopeService(roles, perms, hierarchy, resolver, cache, log)
	export := service.NewRoleExportService(roles, perms, resolver, log)

	router := NewRouter(log)
	router.RegisterRoleRoutes(NewRolesHandler(hierarchy, resolver, scope, export, log))
	return &handlerFixture{roles: roles, perms: perms, holders: holders, router: router}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result[json.RawMessage] {
	t.Helper()
	var res Result[json.RawMessage]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

var elevatedHeaders = map[string]string{
	"X-Tenant-Id":      "t1",
	"X-Actor-Id":       "admin",
	"X-Actor-Elevated": "true",
}

func holderHeaders(roleID string) map[string]string {
	return map[string]string{
		"X-Tenant-Id":  "t1",
		"X-Actor-Id":   "u1",
		"X-Actor-Role": roleID,
	}
}

func TestRolesHandler_CreateAndList(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{
		"role_code": "Admin",
		"role_name": "Administrator",
	}, elevatedHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)
	var created roleItem
	require.NoError(t, json.Unmarshal(res.Result, &created))
	assert.Equal(t, "Admin", created.RoleCode)
	assert.Equal(t, 1, created.Level)
	assert.Equal(t, "/"+created.RoleID+"/", created.Path)
	require.NotNil(t, created.TenantID)
	assert.Equal(t, "t1", *created.TenantID)

	// 子节点
	rec = f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{
		"role_code": "Nurse",
		"parent_id": created.RoleID,
	}, elevatedHeaders)
	res = decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)

	// 列表
	rec = f.do(t, http.MethodGet, "/admin/api/v1/roles", nil, elevatedHeaders)
	res = decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)
	var list struct {
		Items []roleItem `json:"items"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &list))
	assert.Equal(t, 2, list.Total)

	// 提升身份的模糊搜索
	rec = f.do(t, http.MethodGet, "/admin/api/v1/roles?search=nur", nil, elevatedHeaders)
	res = decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)
	require.NoError(t, json.Unmarshal(res.Result, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Nurse", list.Items[0].RoleCode)
}

func TestRolesHandler_ListScopedToHolder(t *testing.T) {
	f := newHandlerFixture()

	res := decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "A"}, elevatedHeaders))
	var a roleItem
	require.NoError(t, json.Unmarshal(res.Result, &a))
	res = decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "B", "parent_id": a.RoleID}, elevatedHeaders))
	var b roleItem
	require.NoError(t, json.Unmarshal(res.Result, &b))

	// B 的持有者只看到自己 + 后代，看不到祖先 A
	res = decodeResult(t, f.do(t, http.MethodGet, "/admin/api/v1/roles", nil, holderHeaders(b.RoleID)))
	require.Equal(t, ResultSuccess, res.Code)
	var list struct {
		Items []roleItem `json:"items"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, b.RoleID, list.Items[0].RoleID)
}

func TestRolesHandler_CreateRole_HolderCannotCreateRoot(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{
		"role_code": "Admin",
	}, elevatedHeaders)
	res := decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)
	var admin roleItem
	require.NoError(t, json.Unmarshal(res.Result, &admin))

	// 普通持有者建根被拒
	rec = f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{
		"role_code": "Rogue",
	}, holderHeaders(admin.RoleID))
	res = decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)

	// 在自己可见范围内建子节点可以
	rec = f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{
		"role_code": "Junior",
		"parent_id": admin.RoleID,
	}, holderHeaders(admin.RoleID))
	res = decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)
}

func TestRolesHandler_ErrorCodesMapped(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{
		"role_code": "Admin",
	}, elevatedHeaders)
	res := decodeResult(t, rec)
	require.Equal(t, ResultSuccess, res.Code)

	// duplicate_code → 40901
	rec = f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{
		"role_code": "Admin",
	}, elevatedHeaders)
	res = decodeResult(t, rec)
	assert.Equal(t, 40901, res.Code)

	// not_found → 40401
	rec = f.do(t, http.MethodDelete, "/admin/api/v1/roles/missing", nil, elevatedHeaders)
	res = decodeResult(t, rec)
	assert.Equal(t, 40401, res.Code)
}

func TestRolesHandler_MoveAndDeleteGuardedByManageableSet(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	part := domain.TenantPartition("t1")

	mk := func(code string, parent *string) roleItem {
		body := map[string]any{"role_code": code}
		if parent != nil {
			body["parent_id"] = *parent
		}
		rec := f.do(t, http.MethodPost, "/admin/api/v1/roles", body, elevatedHeaders)
		res := decodeResult(t, rec)
		require.Equal(t, ResultSuccess, res.Code)
		var item roleItem
		require.NoError(t, json.Unmarshal(res.Result, &item))
		return item
	}

	a := mk("A", nil)
	b := mk("B", &a.RoleID)
	c := mk("C", &b.RoleID)

	// B 的持有者不能动 B 自己
	rec := f.do(t, http.MethodDelete, "/admin/api/v1/roles/"+b.RoleID, nil, holderHeaders(b.RoleID))
	res := decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)

	// 但可以动后代 C：挪到 B 下面没变化，这里把 C 删掉
	rec = f.do(t, http.MethodDelete, "/admin/api/v1/roles/"+c.RoleID, nil, holderHeaders(b.RoleID))
	res = decodeResult(t, rec)
	assert.Equal(t, ResultSuccess, res.Code)

	gone, err := f.roles.GetRole(ctx, part, c.RoleID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// 环检测走 move 接口：A 挪到 B 下（B 是 A 的后代）
	rec = f.do(t, http.MethodPost, "/admin/api/v1/roles/"+a.RoleID+"/move", map[string]any{
		"parent_id": b.RoleID,
	}, elevatedHeaders)
	res = decodeResult(t, rec)
	assert.Equal(t, 40002, res.Code)
}

func TestRolesHandler_GetRolePermissions(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	part := domain.TenantPartition("t1")

	f.perms.Seed(
		&domain.Permission{PermissionID: "p1", Code: "role:create", Scope: domain.PermScopeBoth, IsEnabled: true},
		&domain.Permission{PermissionID: "p2", Code: "role:delete", Scope: domain.PermScopeBoth, IsEnabled: true},
	)

	mk := func(code string, parent *string) roleItem {
		body := map[string]any{"role_code": code}
		if parent != nil {
			body["parent_id"] = *parent
		}
		res := decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", body, elevatedHeaders))
		require.Equal(t, ResultSuccess, res.Code)
		var item roleItem
		require.NoError(t, json.Unmarshal(res.Result, &item))
		return item
	}
	a := mk("A", nil)
	b := mk("B", &a.RoleID)

	require.NoError(t, f.roles.ReplacePermissions(ctx, part, a.RoleID, []string{"p1"}))
	require.NoError(t, f.roles.ReplacePermissions(ctx, part, b.RoleID, []string{"p2"}))

	res := decodeResult(t, f.do(t, http.MethodGet, "/admin/api/v1/roles/"+b.RoleID+"/permissions", nil, elevatedHeaders))
	require.Equal(t, ResultSuccess, res.Code)
	var view struct {
		Direct    []*domain.Permission `json:"direct"`
		Inherited []*domain.Permission `json:"inherited"`
		Effective []*domain.Permission `json:"effective"`
	}
	require.NoError(t, json.Unmarshal(res.Result, &view))
	require.Len(t, view.Direct, 1)
	assert.Equal(t, "p2", view.Direct[0].PermissionID)
	require.Len(t, view.Inherited, 1)
	assert.Equal(t, "p1", view.Inherited[0].PermissionID)
	assert.Len(t, view.Effective, 2)
}

func TestRolesHandler_ReplacePermissionsRejectedCode(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	part := domain.TenantPartition("t1")

	f.perms.Seed(
		&domain.Permission{PermissionID: "p1", Code: "role:create", Scope: domain.PermScopeBoth, IsEnabled: true},
		&domain.Permission{PermissionID: "p2", Code: "role:delete", Scope: domain.PermScopeBoth, IsEnabled: true},
	)

	res := decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "A"}, elevatedHeaders))
	require.Equal(t, ResultSuccess, res.Code)
	var a roleItem
	require.NoError(t, json.Unmarshal(res.Result, &a))
	res = decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "B", "parent_id": a.RoleID}, elevatedHeaders))
	require.Equal(t, ResultSuccess, res.Code)
	var b roleItem
	require.NoError(t, json.Unmarshal(res.Result, &b))

	require.NoError(t, f.roles.ReplacePermissions(ctx, part, a.RoleID, []string{"p1"}))

	// A 的持有者想给 B 授出自己没有的 p2 → permission_not_assignable → 40301
	res = decodeResult(t, f.do(t, http.MethodPut, "/admin/api/v1/roles/"+b.RoleID+"/permissions", map[string]any{
		"permission_ids": []string{"p1", "p2"},
	}, holderHeaders(a.RoleID)))
	assert.Equal(t, 40301, res.Code)
}

func TestRolesHandler_PermissionViewScopedToHolder(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	part := domain.TenantPartition("t1")

	f.perms.Seed(
		&domain.Permission{PermissionID: "p1", Code: "role:create", Scope: domain.PermScopeBoth, IsEnabled: true},
	)

	res := decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "A"}, elevatedHeaders))
	var a roleItem
	require.NoError(t, json.Unmarshal(res.Result, &a))
	res = decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "B", "parent_id": a.RoleID}, elevatedHeaders))
	var b roleItem
	require.NoError(t, json.Unmarshal(res.Result, &b))
	require.NoError(t, f.roles.ReplacePermissions(ctx, part, a.RoleID, []string{"p1"}))

	// B 的持有者不能读祖先 A 的权限视图
	res = decodeResult(t, f.do(t, http.MethodGet, "/admin/api/v1/roles/"+a.RoleID+"/permissions", nil, holderHeaders(b.RoleID)))
	assert.Equal(t, ResultError, res.Code)

	// 自己的可以
	res = decodeResult(t, f.do(t, http.MethodGet, "/admin/api/v1/roles/"+b.RoleID+"/permissions", nil, holderHeaders(b.RoleID)))
	assert.Equal(t, ResultSuccess, res.Code)

	// 提升身份不受限
	res = decodeResult(t, f.do(t, http.MethodGet, "/admin/api/v1/roles/"+a.RoleID+"/permissions", nil, elevatedHeaders))
	assert.Equal(t, ResultSuccess, res.Code)
}

func TestRolesHandler_MoveTargetScopedToHolder(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	part := domain.TenantPartition("t1")

	mk := func(code string, parent *string) roleItem {
		body := map[string]any{"role_code": code}
		if parent != nil {
			body["parent_id"] = *parent
		}
		res := decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", body, elevatedHeaders))
		require.Equal(t, ResultSuccess, res.Code)
		var item roleItem
		require.NoError(t, json.Unmarshal(res.Result, &item))
		return item
	}
	a := mk("A", nil)
	b := mk("B", &a.RoleID)
	c := mk("C", &b.RoleID)
	d := mk("D", &b.RoleID)
	r2 := mk("R2", nil)

	// B 的持有者不能把后代 C 挪到自己看不到的 R2 下面
	res := decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles/"+c.RoleID+"/move", map[string]any{
		"parent_id": r2.RoleID,
	}, holderHeaders(b.RoleID)))
	assert.Equal(t, ResultError, res.Code)
	unchanged, err := f.roles.GetRole(ctx, part, c.RoleID)
	require.NoError(t, err)
	assert.Equal(t, b.RoleID, unchanged.ParentID.String)

	// 也不能提为根节点
	res = decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles/"+c.RoleID+"/move", map[string]any{}, holderHeaders(b.RoleID)))
	assert.Equal(t, ResultError, res.Code)

	// update 接口的改挂分支同样受限
	res = decodeResult(t, f.do(t, http.MethodPut, "/admin/api/v1/roles/"+c.RoleID, map[string]any{
		"set_parent": true,
		"parent_id":  r2.RoleID,
	}, holderHeaders(b.RoleID)))
	assert.Equal(t, ResultError, res.Code)

	// 自己子树内部的改挂可以：C 挪到兄弟 D 下面
	res = decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles/"+c.RoleID+"/move", map[string]any{
		"parent_id": d.RoleID,
	}, holderHeaders(b.RoleID)))
	require.Equal(t, ResultSuccess, res.Code)
	moved, err := f.roles.GetRole(ctx, part, c.RoleID)
	require.NoError(t, err)
	assert.Equal(t, d.RoleID, moved.ParentID.String)
}

func TestRolesHandler_TreeScopedToHolder(t *testing.T) {
	f := newHandlerFixture()

	res := decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "A"}, elevatedHeaders))
	var a roleItem
	require.NoError(t, json.Unmarshal(res.Result, &a))
	res = decodeResult(t, f.do(t, http.MethodPost, "/admin/api/v1/roles", map[string]any{"role_code": "B", "parent_id": a.RoleID}, elevatedHeaders))
	var b roleItem
	require.NoError(t, json.Unmarshal(res.Result, &b))

	// 持有者只看到自己角色为根的子树
	res = decodeResult(t, f.do(t, http.MethodGet, "/admin/api/v1/roles/tree", nil, holderHeaders(b.RoleID)))
	require.Equal(t, ResultSuccess, res.Code)
	var tree []*domain.TreeNode
	require.NoError(t, json.Unmarshal(res.Result, &tree))
	require.Len(t, tree, 1)
	assert.Equal(t, b.RoleID, tree[0].Role.RoleID)
}

func TestRolesHandler_ExportRequiresElevated(t *testing.T) {
	f := newHandlerFixture()

	rec := f.do(t, http.MethodGet, "/admin/api/v1/roles/export", nil, holderHeaders("r1"))
	res := decodeResult(t, rec)
	assert.Equal(t, ResultError, res.Code)

	rec = f.do(t, http.MethodGet, "/admin/api/v1/roles/export", nil, elevatedHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}
