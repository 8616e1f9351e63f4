package router

import (
	"net/http"

	"fdp-index/api/handlers"
	"fdp-index/api/middleware"
	"fdp-index/config"
	"fdp-index/internal/models"
	"fdp-index/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Service is the part of the index core exposed over HTTP
type Service interface {
	handlers.PingService
	handlers.AdminService
	handlers.EventHistory
}

type Dependencies struct {
	Service Service
	Entries handlers.EntryQuery
	Tokens  storage.TokenStore
}

func Setup(logger *zap.Logger, deps Dependencies, cfg *config.Config) *gin.Engine {
	router := gin.New()
	// ping rate limits are keyed on the client address
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("Invalid trusted proxies, trusting none", zap.Strings("proxies", cfg.Server.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), requestLogger(logger))

	security := middleware.NewSecurityMiddleware(logger, deps.Tokens)
	router.Use(security.CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))

	ping := handlers.NewPingHandler(logger, deps.Service)
	router.POST("/", ping.HandlePing)

	entries := handlers.NewEntriesHandler(logger, deps.Entries, deps.Service)
	router.GET("/entries", entries.List)
	router.GET("/entries/all", entries.All)
	router.GET("/entries/events", entries.Events)

	admin := handlers.NewAdminHandler(logger, deps.Service)
	adminGroup := router.Group("/admin", security.Authenticate(), security.RequireRole(models.RoleAdmin))
	adminGroup.POST("/trigger", admin.Trigger)
	adminGroup.POST("/webhooks/:uuid/ping", admin.PingWebhook)

	logger.Info("Router configured")
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()))
	}
}
