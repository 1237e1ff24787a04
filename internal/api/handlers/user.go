package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api/middleware"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/gin-gonic/gin"
)

// UserHandler handles user related requests
type UserHandler struct {
	userService    *services.UserService
	accountService *services.AccountService
	logService     *services.LogService
}

// NewUserHandler creates a new UserHandler instance
func NewUserHandler(userService *services.UserService, accountService *services.AccountService, logService *services.LogService) *UserHandler {
	return &UserHandler{
		userService:    userService,
		accountService: accountService,
		logService:     logService,
	}
}

// UpdateProfileRequest represents the request to update user profile
type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
}

// ChangePasswordRequest represents the request to change password
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// GetProfile returns the current user's profile
// GET /api/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "AUTH_FAILED",
				"message": "User not authenticated",
			},
		})
		return
	}

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "User not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    ToProfileResponse(user),
	})
}

// UpdateProfile updates the current user's profile
// PUT /api/user/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, err := h.userService.UpdateProfile(userID, req.FullName)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.logService.LogInfo(userID, models.LogModuleUser, "profile_update", "User profile updated", map[string]interface{}{
		"full_name": user.FullName,
	})
	respondOK(c, ToProfileResponse(user))
}

// ChangePassword changes the current user's password
// PUT /api/user/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	if err := h.userService.ChangePassword(userID, req.OldPassword, req.NewPassword); err != nil {
		h.logService.LogPasswordChange(userID, err)
		if err == services.ErrInvalidCredentials {
			respondError(c, http.StatusUnauthorized, CodeAuthFailed, "Current password is incorrect")
			return
		}
		respondServiceError(c, err)
		return
	}

	h.logService.LogPasswordChange(userID, nil)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Password changed successfully",
	})
}

// DisconnectGoogle forgets the stored Google credentials
// DELETE /api/user/google
func (h *UserHandler) DisconnectGoogle(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.accountService.DisconnectGoogle(userID); err != nil {
		respondServiceError(c, err)
		return
	}

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, ToProfileResponse(user))
}

// GetLogs returns the current user's audit log
// GET /api/user/logs?level=&module=&action=&target_id=&start=&end=&page=&limit=
func (h *UserHandler) GetLogs(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	query := services.LogQuery{
		UserID: userID,
		Level:  c.Query("level"),
		Module: c.Query("module"),
		Action: c.Query("action"),
	}
	if raw := c.Query("target_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, "Invalid target_id")
			return
		}
		query.TargetID = uint(id)
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	// 时间参数使用 RFC3339
	for param, target := range map[string]**time.Time{"start": &query.StartTime, "end": &query.EndTime} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, CodeValidation, "Invalid "+param+" time, expected RFC3339")
			return
		}
		*target = &t
	}

	result, err := h.logService.QueryLogs(query)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}
