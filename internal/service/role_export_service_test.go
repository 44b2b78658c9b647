package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
)

func TestExportPermissionMatrix(t *testing.T) {
	f := newPermFixture()
	seedCatalog(f.perms)
	part := domain.TenantPartition("t1")
	ctx := context.Background()

	a := f.mustCreate(t, part, "A", nil)
	b := f.mustCreate(t, part, "B", strp(a.RoleID))
	f.grant(t, part, a.RoleID, "p1")
	f.grant(t, part, b.RoleID, "p2")

	export := NewRoleExportService(f.roles, f.perms, f.resolver, zap.NewNop())
	data, err := export.ExportPermissionMatrix(ctx, part)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows("Role Permissions")
	require.NoError(t, err)
	require.Len(t, rows, 3) // 表头 + 两个角色

	// 表头：固定列后跟目录权限 code（tenant 域启用的 p1/p2/p3，按 code 排序）
	header := rows[0]
	require.GreaterOrEqual(t, len(header), 9)
	assert.Equal(t, "Role Code", header[0])
	assert.Equal(t, []string{"role:create", "role:delete", "user:read"}, header[6:9])

	// A：p1 直授
	rowA := rows[1]
	assert.Equal(t, "A", rowA[0])
	assert.Equal(t, "D", rowA[6])

	// B：p2 直授、p1 继承
	rowB := rows[2]
	assert.Equal(t, "B", rowB[0])
	require.GreaterOrEqual(t, len(rowB), 8)
	assert.Equal(t, "I", rowB[6])
	assert.Equal(t, "D", rowB[7])
}
