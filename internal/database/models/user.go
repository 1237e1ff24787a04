package models

import (
	"time"
)

// Role values
const (
	RoleExecutive = "executive"
	RoleAssistant = "assistant"
)

// User represents a user in the system
type User struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	Email        string  `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string  `gorm:"size:255" json:"-"` // Google-only users have no password
	FullName     string  `gorm:"size:255" json:"full_name"`
	Role         string  `gorm:"size:50;not null" json:"role"`
	GoogleID     *string `gorm:"uniqueIndex;size:255" json:"-"`

	// Encrypted Google refresh tokens
	GmailToken    string `gorm:"type:text" json:"-"`
	CalendarToken string `gorm:"type:text" json:"-"`

	Preferences string     `gorm:"type:text" json:"preferences"` // JSON object stored as string
	IsActive    bool       `gorm:"not null" json:"is_active"`
	LastLogin   *time.Time `json:"last_login"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HasGmail reports whether a mailbox credential is stored
func (u *User) HasGmail() bool {
	return u.GmailToken != ""
}

// HasCalendar reports whether a calendar credential is stored
func (u *User) HasCalendar() bool {
	return u.CalendarToken != ""
}
