package models

import (
	"time"
)

// TaskStatus values
const (
	TaskPendingApproval = "pending_approval"
	TaskApproved        = "approved"
	TaskRejected        = "rejected"
)

// Priority values
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Task is a unit of work derived from an email.
// EmailID is informational only; deleting the email leaves the task in place.
type Task struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"index;not null" json:"user_id"`
	EmailID           *uint      `gorm:"index" json:"email_id"`
	ApprovalID        *uint      `gorm:"index" json:"approval_id"`
	Title             string     `gorm:"size:500;not null" json:"title"`
	Description       string     `gorm:"type:text" json:"description"`
	Priority          string     `gorm:"size:10;not null" json:"priority"`
	Status            string     `gorm:"size:20;index;not null" json:"status"`
	EstimatedDuration int        `json:"estimated_duration"` // minutes
	SuggestedDeadline *time.Time `json:"suggested_deadline"`
	CreatedByAgent    bool       `json:"created_by_agent"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	CalendarEvents []CalendarEvent `gorm:"foreignKey:TaskID" json:"calendar_events,omitempty"`
}

// ApprovalStatus values
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// ApprovalTypeTaskProposal groups tasks the agent proposed from one email
const ApprovalTypeTaskProposal = "task_proposal"

// Approval records a pending human decision over one or more tasks.
// Status moves once from pending to approved or rejected.
type Approval struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UserID       uint       `gorm:"index;not null" json:"user_id"`
	EmailID      *uint      `gorm:"index" json:"email_id"`
	TaskID       *uint      `gorm:"index" json:"task_id"`
	ApprovalType string     `gorm:"size:50;not null" json:"approval_type"`
	Status       string     `gorm:"size:20;index;not null" json:"status"`
	OriginalData string     `gorm:"type:text" json:"original_data"` // JSON
	ModifiedData string     `gorm:"type:text" json:"modified_data"` // JSON
	UserFeedback string     `gorm:"type:text" json:"user_feedback"`
	DecisionAt   *time.Time `json:"decision_at"`
	CreatedAt    time.Time  `json:"created_at"`

	Tasks []Task `gorm:"foreignKey:ApprovalID" json:"tasks,omitempty"`
}

// IsDecided reports whether the approval left the pending state
func (a *Approval) IsDecided() bool {
	return a.Status != ApprovalPending
}
