package handler

import (
	"creditsync/internal/config"
	"creditsync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, accountBackend service.AccountBackend, cfg *config.Config) *gin.Engine {
	if cfg.Server.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, accountBackend, cfg)

	api := r.Group("/api/v1")
	{
		// 支付回调由网关验签，不走用户认证
		api.POST("/webhooks/:provider", h.Webhook)

		user := api.Group("", UserIdentityMiddleware())
		{
			credits := user.Group("/credits")
			{
				credits.GET("/sync-status", h.GetSyncStatus)
				credits.POST("/sync", h.Sync)
				credits.GET("/balance", h.GetBalance)
				credits.GET("/transactions", h.ListTransactions)
			}

			user.POST("/plan/change", h.ChangePlan)

			if cfg.Server.IsDebug() {
				user.POST("/debug/subscription", h.DebugSubscription)
			}
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
