package api

import (
	"DealerWatch/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AnomalyHandler struct {
	anomalyService *service.AnomalyService
	logger         *logrus.Logger
}

func NewAnomalyHandler(anomalyService *service.AnomalyService, logger *logrus.Logger) *AnomalyHandler {
	return &AnomalyHandler{anomalyService: anomalyService, logger: logger}
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Detect POST /api/dealers/:dealer_id/anomalies/detect
func (h *AnomalyHandler) Detect(c *gin.Context) {
	dealerID := c.Param("dealer_id")
	records, err := h.anomalyService.DetectDealer(c.Request.Context(), dealerID)
	if err != nil {
		h.logger.WithError(err).WithField("dealer_id", dealerID).Error("DetectDealer failed")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": records, "total": len(records)})
}

// List GET /api/dealers/:dealer_id/anomalies?status=new
func (h *AnomalyHandler) List(c *gin.Context) {
	records, err := h.anomalyService.ListAnomalies(c.Request.Context(), c.Param("dealer_id"), c.Query("status"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": records, "total": len(records)})
}

// UpdateStatus PATCH /api/anomalies/:uuid/status
func (h *AnomalyHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("uuid")
	if err := h.anomalyService.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uuid": id, "status": req.Status})
}
