//go:build integration

package repository

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-admin/internal/config"
	"wisefido-admin/internal/database"
	"wisefido-admin/internal/domain"
)

// 获取测试数据库连接
func getTestDB(t *testing.T) *sql.DB {
	cfg := &config.DatabaseConfig{
		Host:     testEnv("TEST_DB_HOST", "localhost"),
		Port:     testEnvInt("TEST_DB_PORT", 5432),
		User:     testEnv("TEST_DB_USER", "postgres"),
		Password: testEnv("TEST_DB_PASSWORD", "postgres"),
		Database: testEnv("TEST_DB_NAME", "owlrd"),
		SSLMode:  testEnv("TEST_DB_SSLMODE", "disable"),
		MaxConns: 4,
		MaxIdle:  2,
	}

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
		return nil
	}
	return db
}

func testEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func testEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// 清理测试数据
func cleanupTestRoles(db *sql.DB, part domain.Partition) {
	db.Exec(`DELETE FROM role_permissions WHERE role_id IN (
		SELECT role_id FROM roles WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2
	)`, part.Scope, part.TenantNull())
	db.Exec(`DELETE FROM roles WHERE scope = $1 AND tenant_id IS NOT DISTINCT FROM $2`,
		part.Scope, part.TenantNull())
}

func TestPostgresRolesRepository_SubtreeRebase(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()

	repo := NewPostgresRolesRepository(db)
	ctx := context.Background()
	part := domain.TenantPartition("00000000-0000-0000-0000-000000009999")
	cleanupTestRoles(db, part)
	defer cleanupTestRoles(db, part)

	mk := func(code string, parent *domain.Role) *domain.Role {
		role := &domain.Role{RoleCode: code, RoleName: code, IsActive: true, Level: 1}
		if parent != nil {
			role.ParentID = sql.NullString{String: parent.RoleID, Valid: true}
			role.Level = parent.Level + 1
		}
		id, err := repo.InsertRole(ctx, part, role)
		require.NoError(t, err)
		parentPath := ""
		if parent != nil {
			parentPath = parent.Path
		}
		require.NoError(t, repo.SetPath(ctx, part, id, domain.BuildPath(parentPath, id)))
		got, err := repo.GetRole(ctx, part, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		return got
	}

	a := mk("A", nil)
	b := mk("B", a)
	c := mk("C", b)

	// C 的子树（只有自己）挪到 A 下
	err := repo.InTx(ctx, func(tx RolesRepository) error {
		newPath := domain.BuildPath(a.Path, c.RoleID)
		if err := tx.SetPlacement(ctx, part, c.RoleID,
			sql.NullString{String: a.RoleID, Valid: true}, newPath, 2); err != nil {
			return err
		}
		return tx.RebasePaths(ctx, part, c.Path, newPath, -1)
	})
	require.NoError(t, err)

	after, err := repo.GetRole(ctx, part, c.RoleID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Level)
	assert.Equal(t, domain.BuildPath(a.Path, c.RoleID), after.Path)

	// 前缀查询只命中 A 的子树
	subtree, err := repo.ByPathPrefix(ctx, part, a.Path)
	require.NoError(t, err)
	assert.Len(t, subtree, 3)

	// 软删除后不可见
	require.NoError(t, repo.SoftDeleteRole(ctx, part, c.RoleID))
	gone, err := repo.GetRole(ctx, part, c.RoleID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
