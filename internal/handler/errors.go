package handler

import (
	"errors"
	"net/http"

	"classlink/internal/transport/httpdto"
	classlink_errors "classlink/pkg/errors"

	"github.com/gin-gonic/gin"
)

// writeError maps service sentinels onto HTTP responses. Anything unmapped
// is an opaque 500; the underlying cause is left to the error middleware log.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, classlink_errors.ErrAccessDenied):
		c.JSON(http.StatusForbidden, httpdto.NewErrorResponse("access denied", "FORBIDDEN"))
	case errors.Is(err, classlink_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("not found", "NOT_FOUND"))
	case errors.Is(err, classlink_errors.ErrInvalidReference):
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid reference", "INVALID_REFERENCE"))
	case errors.Is(err, classlink_errors.ErrValidationFailed), errors.Is(err, classlink_errors.ErrInvalidInput):
		c.JSON(http.StatusUnprocessableEntity, httpdto.NewErrorResponse("validation failed", "VALIDATION_FAILED"))
	case errors.Is(err, classlink_errors.ErrConflict), errors.Is(err, classlink_errors.ErrAlreadyExists):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("conflict", "CONFLICT"))
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
	}
}
