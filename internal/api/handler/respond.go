package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapewatch/internal/api/middleware"
	"github.com/timmy/scrapewatch/internal/domain"
)

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrRunInProgress), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	}

	if kind, ok := domain.ExternalKindOf(err); ok {
		if kind == domain.KindTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body for err. Internal errors are
// logged and hidden from the caller.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		middleware.GetLogger(c).WithError(err).Error("Request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	if status >= http.StatusBadGateway {
		middleware.GetLogger(c).WithError(err).Warn("Upstream failure")
	}

	body := gin.H{"error": err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		body["field"] = verr.Field
	}
	if kind, ok := domain.ExternalKindOf(err); ok {
		body["kind"] = string(kind)
	}
	c.JSON(status, body)
}

func queryLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	return limit
}
