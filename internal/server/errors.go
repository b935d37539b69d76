package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ssaucsd/ssaucsd-org/internal/apperror"
	"go.uber.org/zap"
)

type errorMapping struct {
	sentinel error
	status   int
	code     string
}

var errorMappings = []errorMapping{
	{sentinel: apperror.ErrAuthenticationRequired, status: http.StatusUnauthorized, code: "authentication_required"},
	{sentinel: apperror.ErrMissingEmail, status: http.StatusUnprocessableEntity, code: "missing_email"},
	{sentinel: apperror.ErrAuthorizationDenied, status: http.StatusForbidden, code: "forbidden"},
	{sentinel: apperror.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{sentinel: apperror.ErrConflict, status: http.StatusConflict, code: "conflict"},
	{sentinel: apperror.ErrInvalidSecret, status: http.StatusForbidden, code: "invalid_secret"},
	{sentinel: apperror.ErrValidation, status: http.StatusBadRequest, code: "validation_failed"},
}

// classifyError maps a service error onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.sentinel) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, code := classifyError(err)
	body := gin.H{"error": code}

	var typed *apperror.AppError
	if errors.As(err, &typed) {
		body["message"] = typed.Message
		if typed.Field != "" {
			body["field"] = typed.Field
		}
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func respondInvalidRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}
