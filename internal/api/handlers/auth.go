package handlers

import (
	"net/http"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api/middleware"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/gin-gonic/gin"
)

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// GoogleLoginRequest carries a Google ID token obtained by the client
type GoogleLoginRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token     string              `json:"token"`
	ExpiresAt int64               `json:"expires_at"`
	User      UserProfileResponse `json:"user"`
}

// UserProfileResponse represents the user profile response
type UserProfileResponse struct {
	ID                uint   `json:"id"`
	Email             string `json:"email"`
	FullName          string `json:"full_name"`
	Role              string `json:"role"`
	GmailConnected    bool   `json:"gmail_connected"`
	CalendarConnected bool   `json:"calendar_connected"`
	CreatedAt         int64  `json:"created_at"`
}

// ToProfileResponse converts a User model to UserProfileResponse
func ToProfileResponse(user *models.User) UserProfileResponse {
	return UserProfileResponse{
		ID:                user.ID,
		Email:             user.Email,
		FullName:          user.FullName,
		Role:              user.Role,
		GmailConnected:    user.HasGmail(),
		CalendarConnected: user.HasCalendar(),
		CreatedAt:         user.CreatedAt.Unix(),
	}
}

// AuthHandler handles authentication related requests
type AuthHandler struct {
	userService *services.UserService
	identity    services.IdentityVerifier
	jwtManager  *middleware.JWTManager
	logService  *services.LogService
}

// NewAuthHandler creates a new AuthHandler instance. identity may be nil when Google login is disabled.
func NewAuthHandler(userService *services.UserService, identity services.IdentityVerifier, jwtManager *middleware.JWTManager, logService *services.LogService) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		identity:    identity,
		jwtManager:  jwtManager,
		logService:  logService,
	}
}

func (h *AuthHandler) issueToken(c *gin.Context, user *models.User) {
	token, expiresAt, err := h.jwtManager.IssueToken(middleware.Principal{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to generate token")
		return
	}
	respondOK(c, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		User:      ToProfileResponse(user),
	})
}

// Register creates a password account and logs it in
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, err := h.userService.CreateUser(req.Email, req.Password, req.FullName)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	h.logService.LogInfo(user.ID, models.LogModuleAuth, "register", "User registered", services.AuthOperationDetails{
		Email:    user.Email,
		ClientIP: c.ClientIP(),
		Method:   "password",
		Status:   "success",
	})
	h.issueToken(c, user)
}

// Login handles user login requests
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, err := h.userService.VerifyPassword(req.Email, req.Password)
	if err != nil {
		h.logService.LogLogin(0, req.Email, "password", c.ClientIP(), err)
		if err == services.ErrUserInactive {
			respondError(c, http.StatusUnauthorized, CodeAuthFailed, "Account is disabled")
			return
		}
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, "Invalid email or password")
		return
	}

	h.logService.LogLogin(user.ID, user.Email, "password", c.ClientIP(), nil)
	h.issueToken(c, user)
}

// GoogleLogin exchanges a verified Google ID token for our own token
// POST /api/auth/google
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	if h.identity == nil {
		respondError(c, http.StatusServiceUnavailable, CodeNotReady, "Google login is not configured")
		return
	}

	var req GoogleLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	identity, err := h.identity.Verify(c.Request.Context(), req.IDToken)
	if err != nil {
		h.logService.LogLogin(0, "", "google", c.ClientIP(), err)
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, "Invalid Google token")
		return
	}

	user, err := h.userService.LoginWithGoogle(identity)
	if err != nil {
		h.logService.LogLogin(0, identity.Email, "google", c.ClientIP(), err)
		respondServiceError(c, err)
		return
	}

	h.logService.LogLogin(user.ID, user.Email, "google", c.ClientIP(), nil)
	h.issueToken(c, user)
}

// RefreshToken issues a fresh token for the authenticated user
// POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !user.IsActive {
		respondError(c, http.StatusUnauthorized, CodeAuthFailed, "Account is disabled")
		return
	}
	h.issueToken(c, user)
}

// Logout handles user logout requests
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if userID, ok := middleware.GetUserIDFromContext(c); ok {
		h.logService.LogLogout(userID)
	}

	// 无状态 JWT，客户端删除 token 即可
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logged out successfully",
	})
}

// GetCurrentUser returns the current authenticated user info
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.userService.GetUserByID(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, ToProfileResponse(user))
}
