package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-admin/internal/domain"
)

func newMockRepo(t *testing.T) (*PostgresRolesRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRolesRepository(db), mock
}

func roleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"role_id", "scope", "tenant_id", "role_code", "role_name", "description",
		"parent_id", "path", "level", "sort_order", "is_system", "is_active",
	})
}

func TestPostgresGetRole_NotFoundIsNilNil(t *testing.T) {
	repo, mock := newMockRepo(t)
	part := domain.TenantPartition("t1")

	mock.ExpectQuery("SELECT(.|\n)+FROM roles").
		WithArgs("tenant", "t1", "r1").
		WillReturnRows(roleRows())

	role, err := repo.GetRole(context.Background(), part, "r1")
	require.NoError(t, err)
	assert.Nil(t, role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRole_ScansAllColumns(t *testing.T) {
	repo, mock := newMockRepo(t)
	part := domain.TenantPartition("t1")

	mock.ExpectQuery("SELECT(.|\n)+FROM roles").
		WithArgs("tenant", "t1", "r1").
		WillReturnRows(roleRows().AddRow(
			"r1", "tenant", "t1", "Nurse", "Nurse", "ward nurse",
			"r0", "/r0/r1/", 2, 10, false, true,
		))

	role, err := repo.GetRole(context.Background(), part, "r1")
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, "r1", role.RoleID)
	assert.Equal(t, domain.ScopeTenant, role.Scope)
	assert.Equal(t, "t1", role.TenantID.String)
	assert.Equal(t, "r0", role.ParentID.String)
	assert.Equal(t, "/r0/r1/", role.Path)
	assert.Equal(t, 2, role.Level)
	assert.False(t, role.IsSystem)
	assert.True(t, role.IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresByPathPrefix_AppendsLikeWildcard(t *testing.T) {
	repo, mock := newMockRepo(t)
	part := domain.PlatformPartition()

	mock.ExpectQuery("SELECT(.|\n)+path LIKE").
		WithArgs("platform", nil, "/r1/%").
		WillReturnRows(roleRows().
			AddRow("r1", "platform", nil, "A", "A", "", nil, "/r1/", 1, 0, false, true).
			AddRow("r2", "platform", nil, "B", "B", "", "r1", "/r1/r2/", 2, 0, false, true))

	roles, err := repo.ByPathPrefix(context.Background(), part, "/r1/")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "r1", roles[0].RoleID)
	assert.False(t, roles[0].ParentID.Valid)
	assert.False(t, roles[0].TenantID.Valid)
	assert.Equal(t, "r1", roles[1].ParentID.String)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRebasePaths(t *testing.T) {
	repo, mock := newMockRepo(t)
	part := domain.TenantPartition("t1")

	mock.ExpectExec("UPDATE roles(.|\n)+path LIKE \\$3").
		WithArgs("tenant", "t1", "/a/b/", "/x/b/", -1).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := repo.RebasePaths(context.Background(), part, "/a/b/", "/x/b/", -1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInTx_CommitAndRollback(t *testing.T) {
	repo, mock := newMockRepo(t)
	part := domain.TenantPartition("t1")

	// 成功路径：提交
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE roles SET path").
		WithArgs("tenant", "t1", "r1", "/r1/").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.InTx(context.Background(), func(tx RolesRepository) error {
		return tx.SetPath(context.Background(), part, "r1", "/r1/")
	})
	require.NoError(t, err)

	// 失败路径：回滚且错误原样返回
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = repo.InTx(context.Background(), func(RolesRepository) error { return boom })
	assert.Equal(t, boom, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReplacePermissions(t *testing.T) {
	repo, mock := newMockRepo(t)
	part := domain.TenantPartition("t1")

	mock.ExpectExec("DELETE FROM role_permissions").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO role_permissions").
		WithArgs("r1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.ReplacePermissions(context.Background(), part, "r1", []string{"p1", "p2"})
	require.NoError(t, err)

	// 空集只清空不插入
	mock.ExpectExec("DELETE FROM role_permissions").
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err = repo.ReplacePermissions(context.Background(), part, "r1", nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHasChildren(t *testing.T) {
	repo, mock := newMockRepo(t)
	part := domain.TenantPartition("t1")

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("tenant", "t1", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := repo.HasChildren(context.Background(), part, "r1")
	require.NoError(t, err)
	assert.True(t, has)
	require.NoError(t, mock.ExpectationsWereMet())
}
