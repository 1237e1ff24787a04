package models

import (
	"encoding/json"
	"time"
)

// ProcessingStatus tracks an email through annotation
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// DecisionStatus is the human decision on an email
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// AnnotationSource records who produced the annotation
const (
	AnnotationSourceAI       = "ai"
	AnnotationSourceFallback = "fallback"
)

// Email represents a message pulled from the user's mailbox.
// (user_id, gmail_message_id) is unique so a re-sync never inserts the same message twice.
type Email struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           uint             `gorm:"uniqueIndex:idx_emails_user_message;not null" json:"user_id"`
	GmailMessageID   string           `gorm:"uniqueIndex:idx_emails_user_message;size:255;not null" json:"gmail_message_id"`
	ThreadID         string           `gorm:"size:255" json:"thread_id"`
	Sender           string           `gorm:"size:500" json:"sender"`
	Subject          string           `gorm:"size:1000" json:"subject"`
	Body             string           `gorm:"type:text" json:"body"`
	ReceivedAt       time.Time        `gorm:"index" json:"received_at"`
	ProcessingStatus ProcessingStatus `gorm:"size:20;index;not null" json:"processing_status"`
	ProcessedAt      *time.Time       `json:"processed_at"`

	// AI annotation
	// gorm splits the AI initialism into a_i, so the columns are named explicitly
	AISummary        string     `gorm:"column:ai_summary;type:text" json:"ai_summary"`
	AIUrgency        string     `gorm:"column:ai_urgency;size:10" json:"ai_urgency"`
	AICategory       string     `gorm:"column:ai_category;size:50" json:"ai_category"`
	AIActions        string     `gorm:"column:ai_actions;type:text" json:"-"` // JSON array stored as string
	AIDeadline       *time.Time `gorm:"column:ai_deadline" json:"ai_deadline"`
	AnnotationSource string     `gorm:"size:20" json:"annotation_source"`

	DecisionStatus DecisionStatus `gorm:"size:20;index;not null" json:"decision_status"`
	DecisionAt     *time.Time     `json:"decision_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEmail builds a freshly ingested email in the pending state.
func NewEmail(userID uint, remoteID, threadID, sender, subject, body string, receivedAt time.Time) *Email {
	return &Email{
		UserID:           userID,
		GmailMessageID:   remoteID,
		ThreadID:         threadID,
		Sender:           sender,
		Subject:          subject,
		Body:             body,
		ReceivedAt:       receivedAt,
		ProcessingStatus: ProcessingPending,
		DecisionStatus:   DecisionPending,
	}
}

// IsAnnotated reports whether the classifier or the fallback has run
func (e *Email) IsAnnotated() bool {
	return e.AnnotationSource != "" || e.AISummary != ""
}

// IsDecided reports whether the email reached a terminal decision
func (e *Email) IsDecided() bool {
	return e.DecisionStatus == DecisionApproved || e.DecisionStatus == DecisionRejected
}

// Actions decodes the stored action list. Malformed data yields an empty list.
func (e *Email) Actions() []any {
	actions := []any{}
	if e.AIActions == "" {
		return actions
	}
	if err := json.Unmarshal([]byte(e.AIActions), &actions); err != nil {
		return []any{}
	}
	return actions
}

// SetActions encodes the action list for storage
func (e *Email) SetActions(actions []any) {
	if actions == nil {
		actions = []any{}
	}
	data, err := json.Marshal(actions)
	if err != nil {
		e.AIActions = "[]"
		return
	}
	e.AIActions = string(data)
}
