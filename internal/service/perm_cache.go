package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
	"wisefido-admin/internal/store"
)

// PermCache 有效权限 id 集合的缓存（redis 或内存）
// key 按分区 + 角色划分；任何结构变更或权限重授都按分区整体失效：
// 继承关系使得后代的有效集合跟着祖先一起变，按角色精确失效划不来。
type PermCache struct {
	kv     store.KV
	ttl    time.Duration
	logger *zap.Logger
}

func NewPermCache(kv store.KV, ttl time.Duration, logger *zap.Logger) *PermCache {
	return &PermCache{kv: kv, ttl: ttl, logger: logger}
}

func (c *PermCache) key(part domain.Partition, roleID string) string {
	return "role-perms:" + part.CacheKey() + ":" + roleID
}

func (c *PermCache) get(ctx context.Context, part domain.Partition, roleID string) (string, bool) {
	if c == nil || c.kv == nil {
		return "", false
	}
	val, err := c.kv.Get(ctx, c.key(part, roleID))
	if err != nil {
		if err != store.ErrMiss {
			c.logger.Warn("permission cache get failed", zap.Error(err))
		}
		return "", false
	}
	return val, true
}

func (c *PermCache) set(ctx context.Context, part domain.Partition, roleID, val string) {
	if c == nil || c.kv == nil {
		return
	}
	if err := c.kv.Set(ctx, c.key(part, roleID), val, c.ttl); err != nil {
		c.logger.Warn("permission cache set failed", zap.Error(err))
	}
}

// invalidatePartition 分区内全部角色的缓存失效
func (c *PermCache) invalidatePartition(ctx context.Context, part domain.Partition) {
	if c == nil || c.kv == nil {
		return
	}
	if err := c.kv.DelPattern(ctx, "role-perms:"+part.CacheKey()+":*"); err != nil {
		c.logger.Warn("permission cache invalidation failed", zap.Error(err))
	}
}
