package domain

import (
	"strings"
)

// 物化路径编解码：纯函数，无存储依赖。
// path 形如 "/id1/id2/.../idN/"，id1 是根祖先，idN 是节点自己。

// BuildPath 由父路径和自身 id 计算物化路径
// parentPath 为空（根节点）时返回 "/selfID/"。
func BuildPath(parentPath, selfID string) string {
	if parentPath == "" {
		return "/" + selfID + "/"
	}
	return strings.TrimRight(parentPath, "/") + "/" + selfID + "/"
}

// CalculateLevel 由父层级计算自身层级（根 = 1）
func CalculateLevel(parentLevel int) int {
	if parentLevel <= 0 {
		return 1
	}
	return parentLevel + 1
}

// SplitPath 把物化路径拆成有序的 id 序列（根在前）
// "/a/b/c/" -> ["a","b","c"]；空路径返回 nil。
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// PathLevel path 的段数，恒等于该节点的 level
func PathLevel(path string) int {
	return len(SplitPath(path))
}

// ReplacePathPrefix 子树迁移时重写后代路径：
// oldPrefix 必须是 path 的前缀，替换为 newPrefix。
// 不是前缀时原样返回（调用方用 LIKE/HasPrefix 筛过，正常不会发生）。
func ReplacePathPrefix(path, oldPrefix, newPrefix string) string {
	if !strings.HasPrefix(path, oldPrefix) {
		return path
	}
	return newPrefix + path[len(oldPrefix):]
}
