package api

import (
	"backend/internal/auth"
	middlewarepkg "backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(engine *gin.Engine, db *gorm.DB, container *AppContainer, h *Handlers) {
	// 系统端点
	engine.GET("/healthz", HealthCheck(db))
	engine.GET("/readyz", ReadinessCheck(db))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 认证（公开）
	engine.POST("/api/auth/token", h.Auth.Token)

	// 业务 API
	api := engine.Group("/api")
	api.Use(middlewarepkg.RateLimitMiddleware(container.RateLimiter))
	{
		// 对话
		api.POST("/chat", h.Chat.Submit)
		api.GET("/chat/ws", h.Chat.Connect)
		api.POST("/chat/recommend", h.Chat.Recommend)

		// 会话
		api.POST("/sessions", h.Sessions.Create)
		api.GET("/sessions", h.Sessions.List)
		api.GET("/sessions/:id", h.Sessions.Get)
		api.GET("/sessions/:id/messages", h.Sessions.History)
		api.DELETE("/sessions/:id", h.Sessions.Delete)

		// 模型目录
		api.GET("/models", h.Models.List)
		api.GET("/models/:id/availability", h.Models.Availability)

		// 运行期分析
		api.GET("/analytics", h.Metrics.Analytics)
	}

	// 管理端点（需要管理 Token）
	admin := engine.Group("/api/admin")
	admin.Use(auth.AdminRequired(container.AuthManager))
	{
		admin.POST("/metrics/reset", h.Metrics.Reset)
		admin.GET("/metrics/export", h.Metrics.Export)
		admin.POST("/metrics/import", h.Metrics.Import)
		admin.POST("/metrics/snapshot", h.Metrics.Snapshot)
		admin.PUT("/settings", h.Metrics.UpdateSettings)
	}
}
