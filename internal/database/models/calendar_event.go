package models

import (
	"time"
)

// SyncStatus values for calendar events
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncFailed  = "failed"
)

// DefaultReminderMinutes is used when the event carries no explicit reminder
const DefaultReminderMinutes = 15

// CalendarEvent is created when a task is approved.
// (user_id, google_event_id) is unique; rows that were never pushed keep a NULL id.
type CalendarEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TaskID          uint      `gorm:"index;not null" json:"task_id"`
	UserID          uint      `gorm:"uniqueIndex:idx_calendar_user_event;not null" json:"user_id"`
	GoogleEventID   *string   `gorm:"uniqueIndex:idx_calendar_user_event;size:255" json:"google_event_id"`
	Title           string    `gorm:"size:500;not null" json:"title"`
	Description     string    `gorm:"type:text" json:"description"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Location        string    `gorm:"size:500" json:"location"`
	Attendees       string    `gorm:"type:text" json:"attendees"` // JSON array stored as string
	ReminderMinutes int       `json:"reminder_minutes"`
	CreatedByAgent  bool      `json:"created_by_agent"`
	SyncStatus      string    `gorm:"size:20;not null" json:"sync_status"`
	CreatedAt       time.Time `json:"created_at"`
}
