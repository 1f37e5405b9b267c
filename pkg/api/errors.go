package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deepily/cosa/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP status codes. Forbidden
// and not-found responses deliberately carry no detail about what exists.
func mapServiceError(err error) (int, string) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, validErr.Error()
	}
	if errors.Is(err, services.ErrUnauthorized) {
		return http.StatusUnauthorized, "unauthorized"
	}
	if errors.Is(err, services.ErrForbidden) {
		return http.StatusForbidden, "forbidden"
	}
	if errors.Is(err, services.ErrNotFound) {
		return http.StatusNotFound, "resource not found"
	}
	if errors.Is(err, services.ErrCodeGenerationFailed) {
		return http.StatusInternalServerError, err.Error()
	}

	slog.Error("unexpected service error", "error", err)
	return http.StatusInternalServerError, "internal server error"
}

func abortWithError(c *gin.Context, err error) {
	status, message := mapServiceError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
