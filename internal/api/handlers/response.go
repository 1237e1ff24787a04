package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api/middleware"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/logger"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error codes returned in the error envelope
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeAuthFailed = "AUTH_FAILED"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeUpstream   = "UPSTREAM_ERROR"
	CodeInternal   = "INTERNAL_ERROR"
	CodeNotReady   = "OAUTH_NOT_CONFIGURED"
)

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func respondValidation(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    CodeValidation,
			"message": "Invalid request body",
			"details": err.Error(),
		},
	})
}

// respondServiceError maps service errors onto the HTTP error envelope
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrPasswordTooShort),
		errors.Is(err, services.ErrInvalidEmail):
		respondError(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidIdentityToken),
		errors.Is(err, services.ErrUserInactive):
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, err.Error())
	case errors.Is(err, services.ErrEmailNotFound),
		errors.Is(err, services.ErrApprovalNotFound),
		errors.Is(err, services.ErrUserNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, services.ErrAlreadyDecided),
		errors.Is(err, services.ErrApprovalAlreadyDecided),
		errors.Is(err, services.ErrSyncInProgress),
		errors.Is(err, services.ErrUserAlreadyExists):
		respondError(c, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, services.ErrCalendarFailed):
		respondError(c, http.StatusBadGateway, CodeUpstream, err.Error())
	default:
		logger.FromContext(c.Request.Context(), nil).Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		message := "Internal server error"
		if errors.Is(err, functions.ErrProcessingFailed) {
			message = "Failed to store the annotation"
		}
		respondError(c, http.StatusInternalServerError, CodeInternal, message)
	}
}

// currentUserID aborts with 401 when the request carries no user
func currentUserID(c *gin.Context) (uint, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, "User not authenticated")
		return 0, false
	}
	return userID, true
}

// pathID parses a positive numeric path parameter, answering 400 otherwise
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, CodeValidation, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}
