package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/contentguard/internal/metrics"
	"github.com/BaSui01/contentguard/moderation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	settingsCacheKeyPrefix = "contentguard:settings:"
	settingsCacheTTL       = 5 * time.Minute
	settingsCacheType      = "settings"
)

// SettingsCache 设置的 Redis 读穿缓存。缓存故障只记日志，
// 读写路径永远回退到数据库。
type SettingsCache struct {
	client  *redis.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewSettingsCache 创建设置缓存。collector 可为 nil。
func NewSettingsCache(client *redis.Client, collector *metrics.Collector, logger *zap.Logger) *SettingsCache {
	return &SettingsCache{
		client:  client,
		metrics: collector,
		logger:  logger.Named("settings-cache"),
	}
}

// Get 返回缓存的设置；未命中或缓存故障时 ok 为 false。
func (c *SettingsCache) Get(ctx context.Context, userID string) (moderation.Settings, bool) {
	var set moderation.Settings
	data, err := c.client.Get(ctx, settingsCacheKeyPrefix+userID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		c.recordMiss()
		return set, false
	}
	if err := json.Unmarshal(data, &set); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", zap.String("user_id", userID))
		c.client.Del(ctx, settingsCacheKeyPrefix+userID)
		c.recordMiss()
		return set, false
	}
	if c.metrics != nil {
		c.metrics.RecordCacheHit(settingsCacheType)
	}
	return set, true
}

func (c *SettingsCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(settingsCacheType)
	}
}

// Set 写入缓存条目。
func (c *SettingsCache) Set(ctx context.Context, userID string, set moderation.Settings) {
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, settingsCacheKeyPrefix+userID, data, settingsCacheTTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.Error(err))
	}
}

// Invalidate 删除缓存条目，设置更新后调用。
func (c *SettingsCache) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, settingsCacheKeyPrefix+userID).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.Error(err))
	}
}
