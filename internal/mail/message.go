// Package mail reads messages from a remote mailbox and renders their bodies as plain text.
package mail

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxSyncMessages is the page size of one sync pass
const MaxSyncMessages = 20

var (
	// ErrProviderFailed indicates the remote mailbox could not be reached or refused the request
	ErrProviderFailed = errors.New("mail provider request failed")
	// ErrNoCredential indicates no refresh token was supplied
	ErrNoCredential = errors.New("mail credential missing")
	// ErrInvalidMessageID indicates an identifier this provider never issued
	ErrInvalidMessageID = errors.New("invalid message id")
)

// Part is one node of a MIME tree. Data holds base64url encoded content.
type Part struct {
	MimeType string
	Filename string
	Data     string
	Parts    []*Part
}

// Header is a single message header
type Header struct {
	Name  string
	Value string
}

// Message is a fully fetched remote message
type Message struct {
	ID           string
	ThreadID     string
	InternalDate int64 // milliseconds since epoch
	Headers      []Header
	Payload      *Part
}

// Header returns the first header value matching name, ignoring case.
func (m *Message) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ReceivedAt converts the provider timestamp to UTC
func (m *Message) ReceivedAt() time.Time {
	return time.UnixMilli(m.InternalDate).UTC()
}

// Credential identifies the mailbox owner
type Credential struct {
	Address      string
	RefreshToken string
}

// Mailbox is an open session on one user's mailbox
type Mailbox interface {
	// ListRecentMessageIDs returns up to max identifiers, newest first, excluding trash and spam.
	ListRecentMessageIDs(ctx context.Context, max int) ([]string, error)
	GetFullMessage(ctx context.Context, id string) (*Message, error)
	Close() error
}

// Provider opens mailboxes
type Provider interface {
	Open(ctx context.Context, cred Credential) (Mailbox, error)
}
