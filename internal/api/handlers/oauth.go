package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/logger"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/mail"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
)

// StateTTL bounds how long a consent round trip may take
const StateTTL = 10 * time.Minute

// StateStore stores OAuth state tokens temporarily
type StateStore struct {
	mu     sync.Mutex
	states map[string]*OAuthState
	now    func() time.Time
}

// OAuthState represents the state of an OAuth flow
type OAuthState struct {
	UserID    uint
	CreatedAt time.Time
}

// NewStateStore creates an empty state store
func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]*OAuthState),
		now:    time.Now,
	}
}

// Issue generates a state token bound to userID
func (s *StateStore) Issue(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// 顺便清理过期的 state
	for key, st := range s.states {
		if now.Sub(st.CreatedAt) > StateTTL {
			delete(s.states, key)
		}
	}
	s.states[state] = &OAuthState{UserID: userID, CreatedAt: now}
	return state, nil
}

// Consume removes the state and returns its owner. Every state is single use.
func (s *StateStore) Consume(state string) (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return 0, false
	}
	delete(s.states, state)
	if s.now().Sub(st.CreatedAt) > StateTTL {
		return 0, false
	}
	return st.UserID, true
}

// grantFromToken reads the granted scopes back from the token response.
// Without a scope field everything requested is assumed granted.
func grantFromToken(token *oauth2.Token, requested []string) services.GoogleGrant {
	granted := requested
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		granted = strings.Fields(scope)
	}

	grant := services.GoogleGrant{RefreshToken: token.RefreshToken}
	for _, scope := range granted {
		switch scope {
		case gmail.GmailReadonlyScope, gmail.GmailModifyScope, mail.GmailIMAPScope:
			grant.Gmail = true
		case calendar.CalendarEventsScope, calendar.CalendarScope:
			grant.Calendar = true
		}
	}
	return grant
}

// OAuthHandler connects a user's Google account for mail and calendar access
type OAuthHandler struct {
	oauthConfig    *oauth2.Config
	accountService *services.AccountService
	stateStore     *StateStore
	redirectBase   string
}

// NewOAuthHandler creates a new OAuthHandler. A nil oauthConfig disables the flow.
func NewOAuthHandler(oauthConfig *oauth2.Config, accountService *services.AccountService) *OAuthHandler {
	return &OAuthHandler{
		oauthConfig:    oauthConfig,
		accountService: accountService,
		stateStore:     NewStateStore(),
		redirectBase:   "/",
	}
}

func (h *OAuthHandler) configured() bool {
	return h.oauthConfig != nil && h.oauthConfig.ClientID != "" && h.oauthConfig.ClientSecret != ""
}

func (h *OAuthHandler) redirect(c *gin.Context, key, value string) {
	q := url.Values{}
	q.Set(key, value)
	c.Redirect(http.StatusFound, h.redirectBase+"?"+q.Encode())
}

// GetOAuthConfig reports whether Google connection is available
// GET /api/oauth/config
func (h *OAuthHandler) GetOAuthConfig(c *gin.Context) {
	respondOK(c, gin.H{
		"google_enabled": h.configured(),
	})
}

// GetGoogleAuthURL returns the Google OAuth authorization URL
// GET /api/oauth/google/auth
func (h *OAuthHandler) GetGoogleAuthURL(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if !h.configured() {
		respondError(c, http.StatusServiceUnavailable, CodeNotReady, "Google OAuth 未配置，请设置 Client ID 和 Client Secret")
		return
	}

	state, err := h.stateStore.Issue(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, CodeInternal, "Failed to generate state token")
		return
	}

	// offline + force 才能拿到 refresh token
	authURL := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	respondOK(c, gin.H{
		"auth_url": authURL,
	})
}

// GoogleCallback handles the Google OAuth callback
// GET /api/oauth/google/callback
func (h *OAuthHandler) GoogleCallback(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), nil)

	if errorParam := c.Query("error"); errorParam != "" {
		h.redirect(c, "oauth_error", errorParam)
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		h.redirect(c, "oauth_error", "missing_params")
		return
	}

	userID, ok := h.stateStore.Consume(state)
	if !ok {
		h.redirect(c, "oauth_error", "invalid_state")
		return
	}

	if !h.configured() {
		h.redirect(c, "oauth_error", "not_configured")
		return
	}

	token, err := h.oauthConfig.Exchange(c.Request.Context(), code)
	if err != nil {
		log.Warn("oauth code exchange failed", zap.Uint("user_id", userID), zap.Error(err))
		h.redirect(c, "oauth_error", "token_exchange_failed")
		return
	}

	grant := grantFromToken(token, h.oauthConfig.Scopes)
	if err := h.accountService.StoreGoogleGrant(userID, grant); err != nil {
		log.Error("store google grant failed", zap.Uint("user_id", userID), zap.Error(err))
		h.redirect(c, "oauth_error", "save_account_failed")
		return
	}

	h.redirect(c, "oauth_success", "google")
}
