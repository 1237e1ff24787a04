package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/mail"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// createConnectedUser creates a password user with a stored Google grant
func createConnectedUser(t *testing.T, db *gorm.DB, email string, calendar bool) *models.User {
	t.Helper()
	u, err := NewUserService(db).CreateUser(email, "password123", "Test User")
	require.NoError(t, err)
	require.NoError(t, NewAccountService(db, testEncryptionKey).StoreGoogleGrant(u.ID, GoogleGrant{
		RefreshToken: "refresh-" + email,
		Gmail:        true,
		Calendar:     calendar,
	}))
	found, err := NewUserService(db).GetUserByID(u.ID)
	require.NoError(t, err)
	return found
}

func textMessage(id, subject, body string) *mail.Message {
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

// fakeProvider serves a fixed mailbox. Messages listed in broken fail to fetch.
type fakeProvider struct {
	mu       sync.Mutex
	ids      []string
	messages map[string]*mail.Message
	broken   map[string]bool
	openErr  error
	listErr  error
	opened   []mail.Credential
	fetched  []string
}

func newFakeProvider(messages ...*mail.Message) *fakeProvider {
	p := &fakeProvider{
		messages: map[string]*mail.Message{},
		broken:   map[string]bool{},
	}
	for _, m := range messages {
		p.ids = append(p.ids, m.ID)
		p.messages[m.ID] = m
	}
	return p
}

func (p *fakeProvider) Open(ctx context.Context, cred mail.Credential) (mail.Mailbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.opened = append(p.opened, cred)
	return &fakeMailbox{p: p}, nil
}

type fakeMailbox struct {
	p *fakeProvider
}

func (m *fakeMailbox) ListRecentMessageIDs(ctx context.Context, max int) ([]string, error) {
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

func (m *fakeMailbox) GetFullMessage(ctx context.Context, id string) (*mail.Message, error) {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	m.p.fetched = append(m.p.fetched, id)
	if m.p.broken[id] {
		return nil, fmt.Errorf("%w: message %s unavailable", mail.ErrProviderFailed, id)
	}
	msg, ok := m.p.messages[id]
	if !ok {
		return nil, mail.ErrInvalidMessageID
	}
	return msg, nil
}

func (m *fakeMailbox) Close() error { return nil }

// fakeCalendar records created events
type fakeCalendar struct {
	mu     sync.Mutex
	err    error
	events []models.CalendarEvent
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, user *models.User, event *models.CalendarEvent) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, *event)
	return fmt.Sprintf("gcal-%d", len(c.events)), nil
}

var errUpstream = errors.New("upstream unavailable")
