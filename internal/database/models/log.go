package models

import (
	"time"
)

// Log is one audit trail entry. Operational logs go to zap; this table keeps
// what a user may later want to see: logins, syncs, decisions.
type Log struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"index:idx_logs_user_created" json:"user_id"`
	Level  string `gorm:"size:10;index" json:"level"` // DEBUG, INFO, WARN, ERROR
	Module string `gorm:"size:32;index" json:"module"`
	Action string `gorm:"size:64" json:"action"`
	// TargetID is the email or approval an entry is about, 0 when none
	TargetID  uint      `gorm:"index" json:"target_id,omitempty"`
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details,omitempty"` // JSON
	CreatedAt time.Time `gorm:"index:idx_logs_user_created" json:"created_at"`
}

// LogModule names the area an audit entry belongs to
type LogModule string

const (
	LogModuleAuth     LogModule = "auth"
	LogModuleUser     LogModule = "user"
	LogModuleEmail    LogModule = "email"
	LogModuleAccount  LogModule = "account"
	LogModuleProcess  LogModule = "process"
	LogModuleApproval LogModule = "approval"
	LogModuleCalendar LogModule = "calendar"
	LogModuleAPI      LogModule = "api"
	LogModuleCLI      LogModule = "cli"
)
