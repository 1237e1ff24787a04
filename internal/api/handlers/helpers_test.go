package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api/middleware"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/ai"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/mail"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

// stubMailbox serves messages from memory
type stubMailbox struct {
	p *stubProvider
}

func (m *stubMailbox) ListRecentMessageIDs(ctx context.Context, max int) ([]string, error) {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	if m.p.listErr != nil {
		return nil, m.p.listErr
	}
	ids := append([]string(nil), m.p.ids...)
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (m *stubMailbox) GetFullMessage(ctx context.Context, id string) (*mail.Message, error) {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	msg, ok := m.p.messages[id]
	if !ok {
		return nil, errors.New("message not found")
	}
	return msg, nil
}

func (m *stubMailbox) Close() error { return nil }

type stubProvider struct {
	mu       sync.Mutex
	ids      []string
	messages map[string]*mail.Message
	listErr  error
}

func newStubProvider(messages ...*mail.Message) *stubProvider {
	p := &stubProvider{messages: map[string]*mail.Message{}}
	for _, msg := range messages {
		p.ids = append(p.ids, msg.ID)
		p.messages[msg.ID] = msg
	}
	return p
}

func (p *stubProvider) Open(ctx context.Context, cred mail.Credential) (mail.Mailbox, error) {
	return &stubMailbox{p: p}, nil
}

func plainMessage(id, subject, body string) *mail.Message {
	return &mail.Message{
		ID:           id,
		ThreadID:     "thread-" + id,
		InternalDate: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC).UnixMilli(),
		Headers: []mail.Header{
			{Name: "From", Value: "boss@example.com"},
			{Name: "Subject", Value: subject},
		},
		Payload: &mail.Part{
			MimeType: "text/plain",
			Data:     mail.EncodeBase64URL([]byte(body)),
		},
	}
}

// stubClassifier answers every email with the same annotation, or fails
type stubClassifier struct {
	annotation *ai.Annotation
	err        error
}

func (c *stubClassifier) Classify(ctx context.Context, subject, body string) (*ai.Annotation, []ai.Attempt, error) {
	if c.err != nil {
		return nil, []ai.Attempt{{Number: 1, Err: c.err}, {Number: 2, Err: c.err}}, c.err
	}
	a := *c.annotation
	return &a, []ai.Attempt{{Number: 1, Output: "{}"}}, nil
}

func reviewAnnotation() *ai.Annotation {
	deadline := time.Date(2025, 2, 3, 15, 0, 0, 0, time.UTC)
	return &ai.Annotation{
		Summary:  "Review the quarterly report",
		Urgency:  "high",
		Category: "task",
		Actions:  []any{"Read the report", map[string]any{"title": "Send comments", "priority": "medium"}},
		Deadline: &deadline,
	}
}

type stubCalendar struct {
	err   error
	calls int
}

func (c *stubCalendar) CreateEvent(ctx context.Context, user *models.User, event *models.CalendarEvent) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "gcal-1", nil
}

// testServer mounts the handlers the same way the router does
type testServer struct {
	t        *testing.T
	db       *gorm.DB
	router   *gin.Engine
	jwt      *middleware.JWTManager
	users    *services.UserService
	accounts *services.AccountService
	provider *stubProvider
	identity services.IdentityVerifier
}

type serverOptions struct {
	classifier functions.EmailClassifier
	calendar   services.CalendarProvider
	identity   services.IdentityVerifier
	messages   []*mail.Message
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	provider := newStubProvider(opts.messages...)
	logService := services.NewLogService(db)
	users := services.NewUserService(db)
	accounts := services.NewAccountService(db, testEncryptionKey).UseLogService(logService)
	emails := services.NewEmailService(db, accounts, provider, nil).UseLogService(logService)
	tasks := services.NewTaskService(db, nil).UseLogService(logService)
	workflow := services.NewWorkflowService(db, services.WorkflowDeps{
		Users:     users,
		Emails:    emails,
		Tasks:     tasks,
		Annotator: functions.NewProcessor(db, opts.classifier, nil),
		Calendar:  opts.calendar,
		Logs:      logService,
	})
	jwtManager := middleware.NewJWTManager("handler-secret", time.Hour)

	authHandler := NewAuthHandler(users, opts.identity, jwtManager, logService)
	emailHandler := NewEmailHandler(emails, workflow)
	approvalHandler := NewApprovalHandler(tasks)
	userHandler := NewUserHandler(users, accounts, logService)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/google", authHandler.GoogleLogin)

	protected := api.Group("")
	protected.Use(middleware.JWTMiddleware(jwtManager))
	protected.POST("/auth/refresh", authHandler.RefreshToken)
	protected.POST("/auth/logout", authHandler.Logout)
	protected.GET("/auth/me", authHandler.GetCurrentUser)

	protected.GET("/emails", emailHandler.ListEmails)
	protected.POST("/emails/sync", emailHandler.SyncEmails)
	protected.GET("/emails/:id", emailHandler.GetEmail)
	protected.POST("/emails/:id/process", emailHandler.ProcessEmail)
	protected.POST("/emails/:id/approve", emailHandler.ApproveEmail)
	protected.POST("/emails/:id/reject", emailHandler.RejectEmail)

	protected.GET("/approvals", approvalHandler.ListApprovals)
	protected.GET("/approvals/:id", approvalHandler.GetApproval)
	protected.POST("/approvals/:id/approve", approvalHandler.Approve)
	protected.POST("/approvals/:id/reject", approvalHandler.Reject)
	protected.GET("/tasks", approvalHandler.ListTasks)

	protected.GET("/user/profile", userHandler.GetProfile)
	protected.PUT("/user/profile", userHandler.UpdateProfile)
	protected.PUT("/user/password", userHandler.ChangePassword)
	protected.DELETE("/user/google", userHandler.DisconnectGoogle)
	protected.GET("/user/logs", userHandler.GetLogs)

	return &testServer{
		t:        t,
		db:       db,
		router:   r,
		jwt:      jwtManager,
		users:    users,
		accounts: accounts,
		provider: provider,
		identity: opts.identity,
	}
}

// connectedUser creates a user holding a Google grant and returns it with a bearer token
func (s *testServer) connectedUser(email string, calendar bool) (*models.User, string) {
	s.t.Helper()
	u, err := s.users.CreateUser(email, "password123", "Exec")
	require.NoError(s.t, err)
	require.NoError(s.t, s.accounts.StoreGoogleGrant(u.ID, services.GoogleGrant{
		RefreshToken: "refresh-" + email,
		Gmail:        true,
		Calendar:     calendar,
	}))
	token, _, err := s.jwt.IssueToken(middleware.Principal{UserID: u.ID, Email: u.Email, Role: u.Role})
	require.NoError(s.t, err)
	return u, token
}

// envelope is the decoded response body
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Warning string          `json:"warning"`
	Message string          `json:"message"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(method, path, token string, body interface{}) (int, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(middleware.AuthorizationHeader, middleware.BearerPrefix+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) emailID(remoteID string) uint {
	s.t.Helper()
	var email models.Email
	require.NoError(s.t, s.db.Where("gmail_message_id = ?", remoteID).First(&email).Error)
	return email.ID
}
