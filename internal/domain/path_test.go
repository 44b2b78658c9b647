package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPath(t *testing.T) {
	// 根节点
	assert.Equal(t, "/r1/", BuildPath("", "r1"))
	// 子节点
	assert.Equal(t, "/r1/r2/", BuildPath("/r1/", "r2"))
	assert.Equal(t, "/r1/r2/r3/", BuildPath("/r1/r2/", "r3"))
}

func TestCalculateLevel(t *testing.T) {
	assert.Equal(t, 1, CalculateLevel(0))
	assert.Equal(t, 1, CalculateLevel(-1))
	assert.Equal(t, 2, CalculateLevel(1))
	assert.Equal(t, 5, CalculateLevel(4))
}

func TestSplitPath(t *testing.T) {
	assert.Nil(t, SplitPath(""))
	assert.Nil(t, SplitPath("/"))
	assert.Equal(t, []string{"a"}, SplitPath("/a/"))
	assert.Equal(t, []string{"a", "b", "c"}, SplitPath("/a/b/c/"))
}

func TestPathLevel(t *testing.T) {
	assert.Equal(t, 0, PathLevel(""))
	assert.Equal(t, 1, PathLevel("/a/"))
	assert.Equal(t, 3, PathLevel("/a/b/c/"))
}

func TestReplacePathPrefix(t *testing.T) {
	// 子树迁移：/a/b/ 下的后代改挂到 /x/b/ 下
	assert.Equal(t, "/x/b/c/", ReplacePathPrefix("/a/b/c/", "/a/b/", "/x/b/"))
	// 自身节点
	assert.Equal(t, "/x/b/", ReplacePathPrefix("/a/b/", "/a/b/", "/x/b/"))
	// 非前缀原样返回
	assert.Equal(t, "/q/c/", ReplacePathPrefix("/q/c/", "/a/b/", "/x/b/"))
}

func TestMatchPermissionCode(t *testing.T) {
	owned := NewPermissionSet([]string{"role:create", "user:*"})

	assert.True(t, MatchPermissionCode(owned, "role:create"))
	assert.True(t, MatchPermissionCode(owned, "user:delete"))
	assert.False(t, MatchPermissionCode(owned, "role:delete"))
	assert.False(t, MatchPermissionCode(owned, "device:read"))

	// 全局通配
	super := NewPermissionSet([]string{"*"})
	assert.True(t, MatchPermissionCode(super, "anything:at:all"))

	empty := NewPermissionSet(nil)
	assert.False(t, MatchPermissionCode(empty, "role:create"))
}

func TestPartitionValid(t *testing.T) {
	assert.True(t, PlatformPartition().Valid())
	assert.True(t, TenantPartition("t1").Valid())
	assert.False(t, Partition{Scope: ScopeTenant}.Valid())
	assert.False(t, Partition{Scope: ScopePlatform, TenantID: "t1"}.Valid())
	assert.False(t, Partition{Scope: "other"}.Valid())
}

func TestErrorKinds(t *testing.T) {
	err := CircularReferenceError("r1", "r9")
	assert.True(t, IsKind(err, ErrCircularReference))
	assert.False(t, IsKind(err, ErrNotFound))
	assert.Equal(t, ErrCircularReference, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(nil))

	rejected := PermissionNotAssignableError("r1", []string{"p1", "p2"})
	assert.Equal(t, []string{"p1", "p2"}, rejected.PermissionIDs)
}
