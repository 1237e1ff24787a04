package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// APIKeyHeader is the header name for API key
	APIKeyHeader = "X-API-Key"
	// APIKeyLength is the length of generated API keys (32 bytes = 64 hex chars)
	APIKeyLength = 32

	apiKeyFile = "api_key"
)

// APIKeyManager keeps the installation wide API key in the data directory.
// The key gates /api only when require_api_key is on.
type APIKeyManager struct {
	path      string
	mu        sync.RWMutex
	key       string
	rotatedAt time.Time
}

// NewAPIKeyManager loads the key stored in dataDir, generating one on first use
func NewAPIKeyManager(dataDir string) (*APIKeyManager, error) {
	m := &APIKeyManager{path: filepath.Join(dataDir, apiKeyFile)}

	data, err := os.ReadFile(m.path)
	if key := strings.TrimSpace(string(data)); err == nil && key != "" {
		m.key = key
		if info, statErr := os.Stat(m.path); statErr == nil {
			m.rotatedAt = info.ModTime()
		}
		return m, nil
	}

	if err := m.rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

// rotate writes a fresh key; callers hold mu or own m exclusively
func (m *APIKeyManager) rotate() error {
	buf := make([]byte, APIKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	key := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	// 仅所有者可读
	if err := os.WriteFile(m.path, []byte(key), 0600); err != nil {
		return err
	}

	m.key = key
	m.rotatedAt = time.Now()
	return nil
}

// GetCurrentKey returns the current API key
func (m *APIKeyManager) GetCurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key
}

// RotatedAt reports when the current key was written
func (m *APIKeyManager) RotatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rotatedAt
}

// ValidateKey compares in constant time
func (m *APIKeyManager) ValidateKey(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.key == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(m.key), []byte(key)) == 1
}

// ResetKey replaces the key; the old one stops validating immediately
func (m *APIKeyManager) ResetKey() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.rotate(); err != nil {
		return "", err
	}
	return m.key, nil
}

// APIKeyMiddleware rejects requests without the current X-API-Key
func APIKeyMiddleware(keys *APIKeyManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			abortUnauthorized(c, "API key is required")
			return
		}
		if !keys.ValidateKey(apiKey) {
			abortUnauthorized(c, "Invalid API key")
			return
		}
		c.Next()
	}
}
