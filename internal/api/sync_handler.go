package api

import (
	"DealerWatch/internal/model"
	"net/http"

	"DealerWatch/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type SyncHandler struct {
	syncService *service.SyncService
	logger      *logrus.Logger
}

func NewSyncHandler(syncService *service.SyncService, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// SyncDealerHandler 同步单个车商
// POST /sync/dealer/:dealer_id
func (h *SyncHandler) SyncDealerHandler(c *gin.Context) {
	dealerID := c.Param("dealer_id")
	result := h.syncService.SyncDealer(c.Request.Context(), dealerID)

	status := http.StatusOK
	if result.Status == model.PassStatusError {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

// SyncAllHandler 同步全部启用车商，每个车商单独返回状态
// POST /sync/all
func (h *SyncHandler) SyncAllHandler(c *gin.Context) {
	results, err := h.syncService.SyncAll(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("SyncAll failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
