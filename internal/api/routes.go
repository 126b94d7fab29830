package api

import (
	"DealerWatch/internal/metrics"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由依赖的全部 handler
type Handlers struct {
	Sync    *SyncHandler
	Dealer  *DealerHandler
	Anomaly *AnomalyHandler
	Stats   *StatsHandler
}

// SetupRouter 注册路由；enablePprof 为 true 时挂载 /debug/pprof
func SetupRouter(h Handlers, corsOrigins []string, enablePprof bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), requestMetrics())

	config := cors.DefaultConfig()
	if len(corsOrigins) > 0 {
		config.AllowOrigins = corsOrigins
	} else {
		config.AllowOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(config))

	// 注册pprof 方便调试和监测性能问题
	if enablePprof {
		pprof.Register(router)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	syncGroup := router.Group("/sync")
	{
		syncGroup.POST("/dealer/:dealer_id", h.Sync.SyncDealerHandler)
		syncGroup.POST("/all", h.Sync.SyncAllHandler)
	}

	api := router.Group("/api")
	{
		dealers := api.Group("/dealers")
		{
			dealers.GET("", h.Dealer.ListDealers)
			dealers.POST("", h.Dealer.CreateDealer)
			dealers.DELETE("/:dealer_id", h.Dealer.DeleteDealer)
			dealers.GET("/:dealer_id/listings", h.Dealer.ListListings)
			dealers.GET("/:dealer_id/history", h.Dealer.History)
			dealers.PUT("/:dealer_id/listings/:listing_id/plate", h.Dealer.SetPlate)
			dealers.POST("/:dealer_id/anomalies/detect", h.Anomaly.Detect)
			dealers.GET("/:dealer_id/anomalies", h.Anomaly.List)
			dealers.GET("/:dealer_id/stats", h.Stats.DealerStats)
			dealers.GET("/:dealer_id/similar", h.Stats.Similar)
		}
		api.PATCH("/anomalies/:uuid/status", h.Anomaly.UpdateStatus)
		api.GET("/market/stats", h.Stats.MarketStats)
	}
	return router
}

// requestMetrics 按路由模板计数，避免路径参数撑爆标签
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
