package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// AuthManager bundles the two credentials the API understands
type AuthManager struct {
	APIKeyManager *APIKeyManager
	JWTManager    *JWTManager
}

func NewAuthManager(dataDir, jwtSecret string, tokenExpiry time.Duration) (*AuthManager, error) {
	keys, err := NewAPIKeyManager(dataDir)
	if err != nil {
		return nil, err
	}
	return &AuthManager{
		APIKeyManager: keys,
		JWTManager:    NewJWTManager(jwtSecret, tokenExpiry),
	}, nil
}

// abortUnauthorized writes the handlers' error envelope with AUTH_FAILED
func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "AUTH_FAILED",
			"message": message,
		},
	})
}
