package api

import (
	"DealerWatch/internal/service"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StatsHandler 统计与相似车源
type StatsHandler struct {
	statsService *service.StatsService
	logger       *logrus.Logger
}

func NewStatsHandler(statsService *service.StatsService, logger *logrus.Logger) *StatsHandler {
	return &StatsHandler{statsService: statsService, logger: logger}
}

// DealerStats GET /api/dealers/:dealer_id/stats?window=30
func (h *StatsHandler) DealerStats(c *gin.Context) {
	window, err := strconv.Atoi(c.DefaultQuery("window", "30"))
	if err != nil || window < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a non-negative integer"})
		return
	}
	report, err := h.statsService.DealerStats(c.Request.Context(), c.Param("dealer_id"), window)
	if err != nil {
		h.logger.WithError(err).Error("DealerStats failed")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Similar GET /api/dealers/:dealer_id/similar
func (h *StatsHandler) Similar(c *gin.Context) {
	groups, err := h.statsService.SimilarVehicles(c.Request.Context(), c.Param("dealer_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "total": len(groups)})
}

// MarketStats GET /api/market/stats
func (h *StatsHandler) MarketStats(c *gin.Context) {
	segments, err := h.statsService.MarketStats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("MarketStats failed")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}
