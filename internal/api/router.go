// Package api exposes the shopping list engine over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"diet-planner/internal/metrics"
	"diet-planner/internal/shopping"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "diet-planner"

// RouterConfig holds the optional parts of the HTTP surface.
type RouterConfig struct {
	// JWTSecret enables bearer authentication on /v1 when set.
	JWTSecret string
	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
	// DataPaths are measured by /health.
	DataPaths []string
	Logger    *slog.Logger
}

// NewRouter builds the gin engine serving the shopping list API.
func NewRouter(svc *shopping.Service, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(RequestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "system": metrics.GetSysHealth(cfg.DataPaths...)})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	if cfg.JWTSecret != "" {
		v1.Use(AuthMiddleware([]byte(cfg.JWTSecret)))
	}
	{
		v1.POST("/meal-plans/:id/shopping-list", CreateShoppingList(svc))
		v1.POST("/meal-plans/:id/cache/purge", PurgeMealPlanCache(svc))

		lists := v1.Group("/shopping-lists")
		{
			lists.GET("/categories", Categories(svc))
			lists.GET("/:id", GetShoppingList(svc))
			lists.PATCH("/:id/items/:itemId/toggle", ToggleItem(svc))
			lists.PATCH("/:id/bulk-toggle", BulkToggle(svc))
			lists.POST("/:id/regenerate", Regenerate(svc))
			lists.GET("/:id/statistics", Statistics(svc))
			lists.POST("/:id/export-data", ExportData(svc))
			lists.GET("/:id/history", History(svc))
			if svc.SharingEnabled() {
				lists.POST("/:id/share/telegram", ShareTelegram(svc))
			}
		}
	}

	return router
}
