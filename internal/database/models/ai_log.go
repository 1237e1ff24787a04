package models

import (
	"time"
)

// AILog records one call to the language model
type AILog struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"index" json:"user_id"`
	EmailID      *uint     `gorm:"index" json:"email_id"`
	AgentName    string    `gorm:"size:100;index" json:"agent_name"`
	Model        string    `gorm:"size:100" json:"model"`
	Prompt       string    `gorm:"type:text" json:"prompt"`
	Output       string    `gorm:"type:text" json:"output"`
	Attempt      int       `json:"attempt"`
	LatencyMs    int64     `json:"latency_ms"`
	Success      bool      `json:"success"`
	ErrorMessage string    `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}
