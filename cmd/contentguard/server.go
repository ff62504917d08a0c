package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/contentguard/api/handlers"
	"github.com/BaSui01/contentguard/config"
	"github.com/BaSui01/contentguard/internal/database"
	"github.com/BaSui01/contentguard/internal/metrics"
	"github.com/BaSui01/contentguard/internal/server"
	"github.com/BaSui01/contentguard/internal/telemetry"
	"github.com/BaSui01/contentguard/providers"
	"github.com/BaSui01/contentguard/providers/deepseek"
	"github.com/BaSui01/contentguard/providers/openai"
	"github.com/BaSui01/contentguard/providers/vision"
	"github.com/BaSui01/contentguard/storage"
	"github.com/BaSui01/contentguard/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// defaultExternalRateLimit 未认证请求的每小时兜底限流配额
const defaultExternalRateLimit = 1000

// dbStatsInterval 连接池指标采样周期
const dbStatsInterval = 30 * time.Second

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ContentGuard 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 存储层
	pool        *database.PoolManager
	redisClient *redis.Client
	store       *store.Store

	// Handlers
	healthHandler     *handlers.HealthHandler
	moderationHandler *handlers.ModerationHandler
	settingsHandler   *handlers.SettingsHandler
	apiKeyHandler     *handlers.APIKeyHandler
	externalHandler   *handlers.ExternalHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测 providers（可为 noop）
	otelProviders *telemetry.Providers

	// 后台 goroutine 生命周期管理
	backgroundCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("contentguard", s.logger)

	// 2. 初始化存储层（数据库 + Redis 缓存）
	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("cache_enabled", s.redisClient != nil),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 打开数据库连接与 Redis 缓存，并探测表结构可用性。
// 缺表不阻止启动：受影响的操作在请求路径上降级（见 store.Probe）。
func (s *Server) initStorage() error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	pool, err := database.NewPoolManager(db, s.logger)
	if err != nil {
		return fmt.Errorf("create pool manager: %w", err)
	}
	s.pool = pool

	// Redis 缓存可选：未配置地址时设置缓存整体禁用
	var cache *store.SettingsCache
	if s.cfg.Redis.Addr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.redisClient.Ping(pingCtx).Err(); err != nil {
			s.logger.Warn("redis not reachable, settings cache degraded", zap.Error(err))
		}
		cancel()

		cache = store.NewSettingsCache(s.redisClient, s.metricsCollector, s.logger)
	} else {
		s.logger.Info("redis not configured, settings cache disabled")
	}

	s.store = store.New(db, cache, s.logger)
	readiness := s.store.Probe(context.Background())
	s.logger.Info("storage probe completed",
		zap.Bool("settings", readiness.Settings),
		zap.Bool("logs", readiness.Logs),
		zap.Bool("keys", readiness.Keys),
	)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler，注册数据库与 Redis 探测
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", s.pool.Ping))
	if s.redisClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	// 文本审核 provider（按配置选择）
	var text providers.TextProvider
	switch s.cfg.Providers.TextProvider {
	case "deepseek":
		text = deepseek.New(providers.DeepSeekConfig{
			APIKey:  s.cfg.Providers.DeepSeek.APIKey,
			BaseURL: s.cfg.Providers.DeepSeek.BaseURL,
			Model:   s.cfg.Providers.DeepSeek.Model,
			Timeout: s.cfg.Providers.DeepSeek.Timeout,
		}, s.logger)
	default:
		text = openai.New(providers.OpenAIConfig{
			APIKey:         s.cfg.Providers.OpenAI.APIKey,
			BaseURL:        s.cfg.Providers.OpenAI.BaseURL,
			Model:          s.cfg.Providers.OpenAI.Model,
			FactCheckModel: s.cfg.Providers.OpenAI.FactCheckModel,
			Timeout:        s.cfg.Providers.OpenAI.Timeout,
		}, s.logger)
	}

	// 图像审核 provider
	image := vision.New(providers.VisionConfig{
		APIKey:  s.cfg.Providers.Vision.APIKey,
		BaseURL: s.cfg.Providers.Vision.BaseURL,
		Timeout: s.cfg.Providers.Vision.Timeout,
	}, s.logger)

	// 被标记图像归档上传器可选：未配置存储服务时禁用归档
	var uploader storage.Uploader
	if s.cfg.Storage.BaseURL != "" {
		uploader = storage.NewHTTPUploader(storage.Config{
			BaseURL: s.cfg.Storage.BaseURL,
			Bucket:  s.cfg.Storage.Bucket,
			Token:   s.cfg.Storage.Token,
			Timeout: s.cfg.Storage.Timeout,
		})
	} else {
		s.logger.Info("storage service not configured, flagged image archiving disabled")
	}

	s.moderationHandler = handlers.NewModerationHandler(
		s.store,
		text,
		image,
		uploader,
		s.metricsCollector,
		s.logger,
		!s.cfg.Server.IsProduction(),
	)
	s.settingsHandler = handlers.NewSettingsHandler(s.store, s.logger)
	s.apiKeyHandler = handlers.NewAPIKeyHandler(s.store, s.logger)
	s.externalHandler = handlers.NewExternalHandler(s.moderationHandler, s.logger)

	s.logger.Info("Handlers initialized",
		zap.String("text_provider", s.cfg.Providers.TextProvider),
	)
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	s.backgroundCancel = backgroundCancel

	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 控制台 API（JWT 会话认证）
	// ========================================
	sessionMux := http.NewServeMux()
	sessionMux.HandleFunc("POST /api/moderate-text", s.moderationHandler.HandleModerateText)
	sessionMux.HandleFunc("GET /api/moderate-text/history", s.moderationHandler.HandleTextHistory)
	sessionMux.HandleFunc("POST /api/moderate-image", s.moderationHandler.HandleModerateImage)
	sessionMux.HandleFunc("POST /api/moderate-image/url", s.moderationHandler.HandleModerateImageURL)
	sessionMux.HandleFunc("GET /api/moderate-image/history", s.moderationHandler.HandleImageHistory)
	sessionMux.HandleFunc("GET /api/settings", s.settingsHandler.HandleGetSettings)
	sessionMux.HandleFunc("PUT /api/settings", s.settingsHandler.HandleUpdateSettings)
	sessionMux.HandleFunc("GET /api/settings/categories", s.settingsHandler.HandleCategories)
	sessionMux.HandleFunc("POST /api/settings/api-key", s.apiKeyHandler.HandleCreateKey)
	sessionMux.HandleFunc("GET /api/settings/api-keys", s.apiKeyHandler.HandleListKeys)
	sessionMux.HandleFunc("PUT /api/settings/api-key/{id}", s.apiKeyHandler.HandleUpdateKey)
	sessionMux.HandleFunc("DELETE /api/settings/api-key/{id}", s.apiKeyHandler.HandleDeleteKey)

	mux.Handle("/api/", Chain(sessionMux,
		SessionAuth(s.cfg.Auth, nil, s.logger),
	))

	// ========================================
	// 外部集成 API（API Key 认证 + 按 Key 限流）
	// "/api/external/" 模式更长，优先于上面的 "/api/" 匹配
	// ========================================
	externalMux := http.NewServeMux()
	externalMux.HandleFunc("POST /api/external/moderate-text", s.externalHandler.HandleModerateText)
	externalMux.HandleFunc("POST /api/external/moderate-image", s.externalHandler.HandleModerateImage)
	externalMux.HandleFunc("POST /api/external/moderate-image/url", s.externalHandler.HandleModerateImageURL)

	mux.Handle("/api/external/", Chain(externalMux,
		APIKeyGate(s.store, s.logger),
		KeyRateLimiter(backgroundCtx, defaultExternalRateLimit, s.logger),
	))

	// ========================================
	// 构建全局中间件链
	// ========================================
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	// 连接池指标采样
	s.startDBStatsSampler(backgroundCtx)

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// startDBStatsSampler 周期性上报连接池状态到 Prometheus
func (s *Server) startDBStatsSampler(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := s.pool.Stats()
				s.metricsCollector.RecordDBConnections(
					s.cfg.Database.Name,
					stats.OpenConnections,
					stats.Idle,
				)
			}
		}
	}()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止后台 goroutine（限流器清理、连接池采样）
	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 等待所有后台 goroutine 完成
	s.wg.Wait()

	// 4. 关闭存储层连接
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis client close error", zap.Error(err))
		}
	}

	// 5. 刷新并关闭遥测
	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("Graceful shutdown completed")
}
