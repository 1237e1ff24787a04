// Package app wires configuration, storage and external providers into the services
// shared by the HTTP server and the CLI.
package app

import (
	"context"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/api/middleware"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/config"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/ai"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/mail"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"gorm.io/gorm"
)

// App holds every long lived component
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *zap.Logger

	Auth  *middleware.AuthManager
	Redis *redis.Client

	// OAuth is the consent client, nil when Google is not configured
	OAuth    *oauth2.Config
	Identity services.IdentityVerifier

	Logs      *services.LogService
	Users     *services.UserService
	Accounts  *services.AccountService
	Emails    *services.EmailService
	Tasks     *services.TaskService
	Workflow  *services.WorkflowService
	Scheduler *services.SyncScheduler
}

// ConsentScopes returns the scopes requested when a user connects Google.
// IMAP access needs the full mail scope, the REST provider only reads.
func ConsentScopes(mailProvider string) []string {
	mailScope := gmail.GmailReadonlyScope
	if mailProvider == "imap" {
		mailScope = mail.GmailIMAPScope
	}
	return []string{
		mailScope,
		calendar.CalendarEventsScope,
		"openid",
		"https://www.googleapis.com/auth/userinfo.email",
	}
}

// New builds the application. Nothing is started.
func New(db *gorm.DB, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	authManager, err := middleware.NewAuthManager(cfg.DataDir, cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		DB:     db,
		Logger: logger,
		Auth:   authManager,
	}

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			// 锁会退回到进程内
			logger.Warn("redis unreachable, sync lock is per process", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
	}

	// refresh tokens are exchanged with the same client that obtained them
	oauthConfig := cfg.Google.OAuth2Config(ConsentScopes(cfg.MailProvider)...)
	if cfg.GoogleConfigured() {
		a.OAuth = oauthConfig
		a.Identity = services.NewGoogleIdentity(cfg.Google.ClientID)
	} else {
		logger.Warn("google oauth client not configured, mail sync and calendar are unavailable")
	}

	var provider mail.Provider
	switch cfg.MailProvider {
	case "imap":
		provider = mail.NewIMAPProvider(mail.GmailIMAPAddr, oauthConfig, logger.Named("imap"))
	default:
		provider = mail.NewGmailProvider(oauthConfig, logger.Named("gmail"))
	}

	var classifier functions.EmailClassifier
	if cfg.AI.APIKey != "" {
		client := ai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)
		classifier = ai.NewClassifier(client, cfg.AI.Model, cfg.AI.Timeout, logger.Named("classifier"))
	} else {
		logger.Warn("no AI api key, every email uses the local fallback")
	}

	var calendarProvider services.CalendarProvider
	a.Logs = services.NewLogServiceWithLevel(db, cfg.LogLevel)
	a.Users = services.NewUserService(db)
	a.Accounts = services.NewAccountService(db, cfg.GetEncryptionKey()).UseLogService(a.Logs)
	if cfg.GoogleConfigured() {
		calendarProvider = services.NewGoogleCalendar(oauthConfig, a.Accounts, logger.Named("calendar"))
	}
	a.Emails = services.NewEmailService(db, a.Accounts, provider, logger.Named("email")).UseLogService(a.Logs)
	a.Tasks = services.NewTaskService(db, logger.Named("task")).UseLogService(a.Logs)
	a.Workflow = services.NewWorkflowService(db, services.WorkflowDeps{
		Users:     a.Users,
		Emails:    a.Emails,
		Tasks:     a.Tasks,
		Annotator: functions.NewProcessor(db, classifier, logger.Named("processor")),
		Calendar:  calendarProvider,
		Guard:     services.NewSyncGuard(a.Redis, 0, logger.Named("sync_guard")),
		Logs:      a.Logs,
		Logger:    logger.Named("workflow"),
	})
	a.Scheduler = services.NewSyncScheduler(a.Workflow, a.Accounts, a.Logs, cfg.SyncInterval, logger.Named("scheduler"))

	return a, nil
}

// Close releases external connections
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("close redis", zap.Error(err))
		}
	}
}
