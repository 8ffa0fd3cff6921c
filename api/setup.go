package api

import (
	"context"
	"time"

	_ "backend/api/docs"
	authHandlers "backend/api/handlers/auth"
	chatHandlers "backend/api/handlers/chat"
	metricsHandlers "backend/api/handlers/metrics"
	modelHandlers "backend/api/handlers/models"
	sessionHandlers "backend/api/handlers/sessions"

	"backend/internal/ai"
	"backend/internal/auth"
	"backend/internal/config"
	"backend/internal/conversation"
	"backend/internal/infra"
	"backend/internal/logger"
	"backend/internal/metrics"
	middlewarepkg "backend/internal/middleware"
	"backend/internal/orchestrator"
	"backend/internal/router"
	"backend/internal/scorer"
	"backend/internal/tracker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用依赖容器
type AppContainer struct {
	Config       *config.Config
	Factory      *ai.ClientFactory
	Registry     *router.Registry
	Dispatcher   *router.Dispatcher
	Tracker      *tracker.Tracker
	TrackerStore *tracker.Store
	Orchestrator *orchestrator.Orchestrator
	Sessions     *conversation.Service
	AuthManager  *auth.Manager
	RateLimiter  *middlewarepkg.RateLimiter
	Collector    *metrics.SystemCollector

	cancelBackground context.CancelFunc
}

// Handlers 全部 HTTP 处理器
type Handlers struct {
	Chat     *chatHandlers.Handler
	Sessions *sessionHandlers.Handler
	Models   *modelHandlers.Handler
	Metrics  *metricsHandlers.Handler
	Auth     *authHandlers.Handler
}

// SetupRouter 组装依赖并返回 Gin 路由与应用容器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *AppContainer, error) {
	// Redis 可选: 不可用时会话历史退化为纯数据库路径
	redisClient, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Warn("Redis 初始化失败, 会话历史缓存已禁用", zap.Error(err))
		redisClient = nil
	}

	// 跟踪器与快照存储: 启动时尝试从最近快照恢复指标
	trk := tracker.New(tracker.Settings{
		FallbackThreshold: cfg.Router.Thresholds.FallbackThreshold,
		QualityThreshold:  cfg.Router.Thresholds.QualityThreshold,
		AvailabilityTTL:   cfg.Router.AvailabilityTTL,
	})
	store := tracker.NewStore(db)
	if snapshot, err := store.LoadLatest(context.Background()); err != nil {
		logger.Warn("加载指标快照失败", zap.Error(err))
	} else if snapshot != nil {
		if err := trk.Import(snapshot); err != nil {
			logger.Warn("恢复指标快照失败", zap.Error(err))
		} else {
			logger.Info("指标已从快照恢复",
				zap.Int("models", len(snapshot.Models)),
				zap.Time("exportedAt", snapshot.ExportedAt),
			)
		}
	}

	// 路由三层: 工厂 -> 注册表 -> 调度器
	factory, err := ai.NewClientFactory(&cfg.Router)
	if err != nil {
		return nil, nil, err
	}
	registry := router.NewRegistry(factory, trk, &cfg.Router)
	policy := ai.NewRetryPolicy(
		cfg.Router.Retry.MaxRetries,
		time.Duration(cfg.Router.Retry.BaseDelay*float64(time.Second)),
		time.Duration(cfg.Router.Retry.MaxDelay*float64(time.Second)),
		cfg.Router.Retry.JitterMin,
		cfg.Router.Retry.JitterMax,
	)
	dispatcher := router.NewDispatcher(factory, registry, trk, policy, cfg.Router.FallbackEnabled)
	orch := orchestrator.New(factory, registry, dispatcher, scorer.New(trk), trk)

	sessions := conversation.NewService(db, redisClient)

	authManager, err := auth.NewManager(&cfg.Auth)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}

	backgroundCtx, cancel := context.WithCancel(context.Background())
	container := &AppContainer{
		Config:           cfg,
		Factory:          factory,
		Registry:         registry,
		Dispatcher:       dispatcher,
		Tracker:          trk,
		TrackerStore:     store,
		Orchestrator:     orch,
		Sessions:         sessions,
		AuthManager:      authManager,
		RateLimiter:      middlewarepkg.NewRateLimiter(nil),
		Collector:        metrics.NewSystemCollector(sqlDB, trk),
		cancelBackground: cancel,
	}

	// 后台任务: 可用性刷新与指标快照落库
	registry.StartRefresh(backgroundCtx, time.Duration(cfg.Router.RefreshInterval)*time.Second)
	container.startSnapshotLoop(backgroundCtx, time.Duration(cfg.Router.SnapshotInterval)*time.Second)

	handlers := &Handlers{
		Chat:     chatHandlers.NewHandler(orch, sessions),
		Sessions: sessionHandlers.NewHandler(sessions),
		Models:   modelHandlers.NewHandler(factory, registry, trk),
		Metrics:  metricsHandlers.NewHandler(orch, trk, store),
		Auth:     authHandlers.NewHandler(authManager),
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middlewarepkg.RequestIDMiddleware(),
		RequestLogger(),
		CORS(),
		metrics.PrometheusMiddleware(),
	)

	RegisterRoutes(engine, db, container, handlers)
	return engine, container, nil
}

// startSnapshotLoop 周期性把指标快照落库, interval<=0 时不启动
func (c *AppContainer) startSnapshotLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := c.TrackerStore.Save(saveCtx, c.Tracker.Export()); err != nil {
					logger.Warn("定期快照落库失败", zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

// Shutdown 停止后台任务并落最后一份指标快照
func (c *AppContainer) Shutdown(ctx context.Context) {
	c.cancelBackground()
	c.RateLimiter.Stop()
	c.Collector.Stop()

	if err := c.TrackerStore.Save(ctx, c.Tracker.Export()); err != nil {
		logger.Error("关闭时保存指标快照失败", zap.Error(err))
	} else {
		logger.Info("指标快照已保存")
	}
	c.Factory.Close()
}
