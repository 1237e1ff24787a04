package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const (
	defaultLogPageSize = 50
	maxLogPageSize     = 200
)

// LogService writes the user facing audit trail to the logs table.
// Entries below the configured level are dropped.
type LogService struct {
	db        *gorm.DB
	threshold zapcore.Level
}

// NewLogService keeps INFO and above. The application builds one with
// NewLogServiceWithLevel and hands it to every service.
func NewLogService(db *gorm.DB) *LogService {
	return &LogService{db: db, threshold: zapcore.InfoLevel}
}

// NewLogServiceWithLevel uses the same level names as the process logger
func NewLogServiceWithLevel(db *gorm.DB, level string) *LogService {
	return &LogService{db: db, threshold: parseAuditLevel(level)}
}

// parseAuditLevel accepts zap level names case insensitively, WARNING included
func parseAuditLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	l, err := zapcore.ParseLevel(level)
	if err != nil || l > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return l
}

// LogEntry is one audit record before persistence
type LogEntry struct {
	UserID   uint
	Level    zapcore.Level
	Module   models.LogModule
	Action   string
	TargetID uint
	Message  string
	Details  interface{} // serialized to JSON
}

// Log stores entry unless it is below the configured level
func (s *LogService) Log(entry LogEntry) error {
	if !s.threshold.Enabled(entry.Level) {
		return nil
	}

	var details string
	if entry.Details != nil {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			data = []byte("{}")
		}
		details = string(data)
	}

	return s.db.Create(&models.Log{
		UserID:   entry.UserID,
		Level:    entry.Level.CapitalString(),
		Module:   string(entry.Module),
		Action:   entry.Action,
		TargetID: entry.TargetID,
		Message:  entry.Message,
		Details:  details,
	}).Error
}

func (s *LogService) logAt(level zapcore.Level, userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.Log(LogEntry{
		UserID:  userID,
		Level:   level,
		Module:  module,
		Action:  action,
		Message: message,
		Details: details,
	})
}

func (s *LogService) LogInfo(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.logAt(zapcore.InfoLevel, userID, module, action, message, details)
}

func (s *LogService) LogWarn(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.logAt(zapcore.WarnLevel, userID, module, action, message, details)
}

func (s *LogService) LogError(userID uint, module models.LogModule, action, message string, details interface{}) error {
	return s.logAt(zapcore.ErrorLevel, userID, module, action, message, details)
}

// ===== Auth =====

// AuthOperationDetails is stored with login and password entries
type AuthOperationDetails struct {
	Email    string `json:"email,omitempty"`
	ClientIP string `json:"client_ip,omitempty"`
	Method   string `json:"method,omitempty"` // password, google
	Status   string `json:"status"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// LogLogin records a login attempt; failures are WARN
func (s *LogService) LogLogin(userID uint, email, method, clientIP string, err error) error {
	details := AuthOperationDetails{
		Email:    email,
		ClientIP: clientIP,
		Method:   method,
		Status:   "success",
	}
	level, message := zapcore.InfoLevel, "User logged in"
	if err != nil {
		level, message = zapcore.WarnLevel, "Login attempt failed"
		details.Status = "failed"
		details.ErrorMsg = err.Error()
	}
	return s.logAt(level, userID, models.LogModuleAuth, "login", message, details)
}

func (s *LogService) LogLogout(userID uint) error {
	return s.LogInfo(userID, models.LogModuleAuth, "logout", "User logged out", nil)
}

func (s *LogService) LogAPIKeyReset(userID uint) error {
	return s.LogInfo(userID, models.LogModuleAuth, "api_key_reset", "API key reset", nil)
}

func (s *LogService) LogPasswordChange(userID uint, err error) error {
	if err != nil {
		return s.LogWarn(userID, models.LogModuleAuth, "password_change", "Password change failed", AuthOperationDetails{
			Status:   "failed",
			ErrorMsg: err.Error(),
		})
	}
	return s.LogInfo(userID, models.LogModuleAuth, "password_change", "Password changed", AuthOperationDetails{Status: "success"})
}

// ===== Workflow =====

// LogSync records the outcome of one sync pass and what triggered it
func (s *LogService) LogSync(userID uint, trigger string, result *SyncResult, err error) error {
	details := map[string]interface{}{"trigger": trigger}
	if result != nil {
		details["new_emails"] = result.NewEmails
		details["ai_processed"] = result.AIProcessed
		details["fallback_used"] = result.FallbackUsed
	}
	if err != nil {
		details["error"] = err.Error()
		return s.LogWarn(userID, models.LogModuleEmail, "sync", "Email sync failed", details)
	}
	return s.LogInfo(userID, models.LogModuleEmail, "sync", "Email sync completed", details)
}

// LogDecision records an approve or reject on an email or an approval.
// targetID is indexed so the trail of one item can be queried.
func (s *LogService) LogDecision(userID uint, module models.LogModule, targetID uint, decision string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["decision"] = decision
	return s.Log(LogEntry{
		UserID:   userID,
		Level:    zapcore.InfoLevel,
		Module:   module,
		Action:   "decision",
		TargetID: targetID,
		Message:  "Decision recorded: " + decision,
		Details:  details,
	})
}

// ===== Queries =====

// LogQuery filters the audit trail; zero values mean no filter
type LogQuery struct {
	UserID    uint
	Level     string
	Module    string
	Action    string
	TargetID  uint
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	Limit     int
}

type LogQueryResult struct {
	Total int64        `json:"total"`
	Logs  []models.Log `json:"logs"`
}

// QueryLogs returns matching entries newest first
func (s *LogService) QueryLogs(query LogQuery) (*LogQueryResult, error) {
	db := s.db.Model(&models.Log{})

	if query.UserID > 0 {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.Level != "" {
		level := strings.ToUpper(query.Level)
		if level == "WARNING" {
			level = "WARN"
		}
		db = db.Where("level = ?", level)
	}
	if query.Module != "" {
		db = db.Where("module = ?", query.Module)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.TargetID > 0 {
		db = db.Where("target_id = ?", query.TargetID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	page := max(query.Page, 1)
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLogPageSize
	}
	limit = min(limit, maxLogPageSize)

	logs := []models.Log{}
	if err := db.Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, err
	}
	return &LogQueryResult{Total: total, Logs: logs}, nil
}
