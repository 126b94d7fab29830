package api

import (
	"DealerWatch/internal/model"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// statusFor 类型化失败 → HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidFormat), errors.Is(err, model.ErrMissingID):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDealerInactive):
		return http.StatusConflict
	case errors.Is(err, model.ErrTimeout), errors.Is(err, model.ErrUpstream), errors.Is(err, model.ErrRateLimited):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
