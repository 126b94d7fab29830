package api

import (
	"DealerWatch/internal/model"
	"DealerWatch/internal/service"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DealerHandler 车商管理、车源与历史查询、人工车牌
type DealerHandler struct {
	dealerService *service.DealerService
	logger        *logrus.Logger
}

func NewDealerHandler(dealerService *service.DealerService, logger *logrus.Logger) *DealerHandler {
	return &DealerHandler{dealerService: dealerService, logger: logger}
}

type createDealerRequest struct {
	ID      string `json:"id" binding:"required"`
	Name    string `json:"name"`
	URL     string `json:"url" binding:"required"`
	Source  string `json:"source"`
	NoTarga bool   `json:"no_targa"`
}

type setPlateRequest struct {
	Plate string `json:"plate" binding:"required"`
}

// ListDealers GET /api/dealers?all=true
func (h *DealerHandler) ListDealers(c *gin.Context) {
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	dealers, err := h.dealerService.ListDealers(c.Request.Context(), !all)
	if err != nil {
		h.logger.WithError(err).Error("ListDealers failed")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dealers": dealers})
}

// CreateDealer POST /api/dealers
func (h *DealerHandler) CreateDealer(c *gin.Context) {
	var req createDealerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dealer := &model.Dealer{
		ID:      req.ID,
		Name:    req.Name,
		URL:     req.URL,
		Source:  req.Source,
		NoTarga: req.NoTarga,
	}
	if err := h.dealerService.CreateDealer(c.Request.Context(), dealer); err != nil {
		h.logger.WithError(err).WithField("dealer_id", req.ID).Error("CreateDealer failed")
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dealer)
}

// DeleteDealer DELETE /api/dealers/:dealer_id（软删除）
func (h *DealerHandler) DeleteDealer(c *gin.Context) {
	dealerID := c.Param("dealer_id")
	if err := h.dealerService.DeactivateDealer(c.Request.Context(), dealerID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "车商已停用", "dealer_id": dealerID})
}

// ListListings GET /api/dealers/:dealer_id/listings?active=true|false
func (h *DealerHandler) ListListings(c *gin.Context) {
	var active *bool
	if v := c.Query("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "active must be true or false"})
			return
		}
		active = &b
	}
	listings, err := h.dealerService.Listings(c.Request.Context(), c.Param("dealer_id"), active)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "total": len(listings)})
}

// History GET /api/dealers/:dealer_id/history
func (h *DealerHandler) History(c *gin.Context) {
	events, err := h.dealerService.History(c.Request.Context(), c.Param("dealer_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "total": len(events)})
}

// SetPlate PUT /api/dealers/:dealer_id/listings/:listing_id/plate
func (h *DealerHandler) SetPlate(c *gin.Context) {
	var req setPlateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	listing, err := h.dealerService.SetPlate(c.Request.Context(), c.Param("dealer_id"), c.Param("listing_id"), req.Plate)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}
