package store

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Readiness 启动探测的结果。每张表独立探测，部分可用时服务降级运行
// 而不是整体拒绝启动。
type Readiness struct {
	Settings bool
	Logs     bool
	Keys     bool
}

// Store 审核服务的持久化入口。readiness 在启动时探测一次并缓存，
// 请求路径不再逐次检查表结构。
type Store struct {
	db        *gorm.DB
	cache     *SettingsCache
	logger    *zap.Logger
	readiness Readiness
}

// New 创建 Store。cache 可以为 nil（禁用设置缓存）。
func New(db *gorm.DB, cache *SettingsCache, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		cache:  cache,
		logger: logger.Named("store"),
	}
}

// AutoMigrate 迁移全部表结构。
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&UserSettings{}, &ModerationLog{}, &APIKey{})
}

// Probe 探测各表可用性并缓存结果。返回值同时写入 s.readiness，
// 后续请求读取缓存标志位。
func (s *Store) Probe(ctx context.Context) Readiness {
	migrator := s.db.WithContext(ctx).Migrator()
	s.readiness = Readiness{
		Settings: migrator.HasTable(&UserSettings{}),
		Logs:     migrator.HasTable(&ModerationLog{}),
		Keys:     migrator.HasTable(&APIKey{}),
	}
	if !s.readiness.Settings || !s.readiness.Logs || !s.readiness.Keys {
		s.logger.Warn("storage probe found missing tables",
			zap.Bool("settings", s.readiness.Settings),
			zap.Bool("logs", s.readiness.Logs),
			zap.Bool("keys", s.readiness.Keys))
	}
	return s.readiness
}

// Readiness 返回最近一次探测的缓存结果。
func (s *Store) Readiness() Readiness {
	return s.readiness
}

// DB 暴露底层连接，供迁移与健康检查使用。
func (s *Store) DB() *gorm.DB {
	return s.db
}
