package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/users"

	"github.com/gin-gonic/gin"
)

const timeFormat = time.RFC3339

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, apperr.ErrInsufficientBalance):
		respondError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, users.ErrInvalidCredentials):
		respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	case errors.Is(err, users.ErrDuplicate):
		respondError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		respondError(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, apperr.ErrAlreadySettled):
		respondError(c, http.StatusConflict, "ALREADY_SETTLED", err.Error())
	case errors.Is(err, apperr.ErrAlreadyProcessed):
		respondError(c, http.StatusConflict, "ALREADY_PROCESSED", err.Error())
	case errors.Is(err, apperr.ErrLimitReached):
		respondError(c, http.StatusConflict, "LIMIT_REACHED", err.Error())
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		respondError(c, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "price feed unavailable, try again later")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", "request took too long to process")
	default:
		if errors.Is(err, apperr.ErrMalformedRecord) {
			log.Printf("❌ [API] %s %s: malformed record: %v", c.Request.Method, c.Request.URL.Path, err)
		} else {
			log.Printf("❌ [API] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
