package services

import (
	"context"
	"testing"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchNewEmails(t *testing.T) {
	db := setupServiceDB(t)
	user := createConnectedUser(t, db, "exec@example.com", false)
	provider := newFakeProvider(
		textMessage("m1", "Budget review", "Please review the budget by Friday"),
		textMessage("m2", "Lunch", "Lunch on Thursday?"),
	)
	svc := NewEmailService(db, NewAccountService(db, testEncryptionKey), provider, nil)

	created, err := svc.FetchNewEmails(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, created, 2)

	first := created[0]
	assert.NotZero(t, first.ID)
	assert.Equal(t, user.ID, first.UserID)
	assert.Equal(t, "m1", first.GmailMessageID)
	assert.Equal(t, "thread-m1", first.ThreadID)
	assert.Equal(t, "boss@example.com", first.Sender)
	assert.Equal(t, "Budget review", first.Subject)
	assert.Equal(t, "Please review the budget by Friday", first.Body)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC), first.ReceivedAt.UTC())
	assert.Equal(t, models.ProcessingPending, first.ProcessingStatus)
	assert.Equal(t, models.DecisionPending, first.DecisionStatus)

	require.Len(t, provider.opened, 1)
	assert.Equal(t, "refresh-exec@example.com", provider.opened[0].RefreshToken)

	// a second pass sees nothing new and never refetches known messages
	provider.fetched = nil
	created, err = svc.FetchNewEmails(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, provider.fetched)

	var count int64
	require.NoError(t, db.Model(&models.Email{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestFetchNewEmails_SkipsBrokenMessage(t *testing.T) {
	db := setupServiceDB(t)
	user := createConnectedUser(t, db, "exec@example.com", false)
	provider := newFakeProvider(
		textMessage("m1", "One", "first"),
		textMessage("m2", "Two", "second"),
		textMessage("m3", "Three", "third"),
	)
	provider.broken["m2"] = true
	svc := NewEmailService(db, NewAccountService(db, testEncryptionKey), provider, nil)

	created, err := svc.FetchNewEmails(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "m1", created[0].GmailMessageID)
	assert.Equal(t, "m3", created[1].GmailMessageID)

	// the broken message is retried on the next pass
	delete(provider.broken, "m2")
	created, err = svc.FetchNewEmails(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "m2", created[0].GmailMessageID)
}

func TestFetchNewEmails_NoCredential(t *testing.T) {
	db := setupServiceDB(t)
	u, err := NewUserService(db).CreateUser("exec@example.com", "password123", "")
	require.NoError(t, err)
	provider := newFakeProvider(textMessage("m1", "One", "first"))
	svc := NewEmailService(db, NewAccountService(db, testEncryptionKey), provider, nil)

	created, err := svc.FetchNewEmails(context.Background(), u)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, provider.opened)
}

func TestFetchNewEmails_ProviderFailure(t *testing.T) {
	db := setupServiceDB(t)
	user := createConnectedUser(t, db, "exec@example.com", false)

	provider := newFakeProvider()
	provider.listErr = errUpstream
	svc := NewEmailService(db, NewAccountService(db, testEncryptionKey), provider, nil)

	_, err := svc.FetchNewEmails(context.Background(), user)
	assert.ErrorIs(t, err, ErrMailProviderFailed)

	provider = newFakeProvider()
	provider.openErr = errUpstream
	svc = NewEmailService(db, NewAccountService(db, testEncryptionKey), provider, nil)

	_, err = svc.FetchNewEmails(context.Background(), user)
	assert.ErrorIs(t, err, ErrMailProviderFailed)
}

func TestFetchNewEmails_SameMessageForTwoUsers(t *testing.T) {
	db := setupServiceDB(t)
	alice := createConnectedUser(t, db, "alice@example.com", false)
	bob := createConnectedUser(t, db, "bob@example.com", false)
	provider := newFakeProvider(textMessage("shared", "All hands", "Meeting at noon"))
	svc := NewEmailService(db, NewAccountService(db, testEncryptionKey), provider, nil)

	created, err := svc.FetchNewEmails(context.Background(), alice)
	require.NoError(t, err)
	assert.Len(t, created, 1)

	created, err = svc.FetchNewEmails(context.Background(), bob)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestListEmails(t *testing.T) {
	db := setupServiceDB(t)
	svc := NewEmailService(db, NewAccountService(db, testEncryptionKey), newFakeProvider(), nil)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, subject := range []string{"oldest", "middle", "newest"} {
		email := models.NewEmail(1, subject, "", "x@example.com", subject, "body", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, db.Create(email).Error)
	}
	other := models.NewEmail(2, "foreign", "", "x@example.com", "foreign", "body", base)
	require.NoError(t, db.Create(other).Error)
	require.NoError(t, db.Model(&models.Email{}).Where("gmail_message_id = ?", "middle").
		Update("decision_status", models.DecisionApproved).Error)

	result, err := svc.ListEmails(1, EmailListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
	require.Len(t, result.Emails, 3)
	assert.Equal(t, "newest", result.Emails[0].Subject)
	assert.Equal(t, "oldest", result.Emails[2].Subject)

	result, err = svc.ListEmails(1, EmailListOptions{Decision: string(models.DecisionPending)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)

	result, err = svc.ListEmails(1, EmailListOptions{Search: "new"})
	require.NoError(t, err)
	require.Len(t, result.Emails, 1)
	assert.Equal(t, "newest", result.Emails[0].Subject)

	result, err = svc.ListEmails(1, EmailListOptions{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
	require.Len(t, result.Emails, 1)
	assert.Equal(t, "oldest", result.Emails[0].Subject)
}

func TestGetAndDeleteEmail(t *testing.T) {
	db := setupServiceDB(t)
	svc := NewEmailService(db, NewAccountService(db, testEncryptionKey), newFakeProvider(), nil)

	email := models.NewEmail(1, "m1", "", "x@example.com", "Hello", "body", time.Now().UTC())
	require.NoError(t, db.Create(email).Error)

	_, err := svc.GetEmailByIDAndUserID(email.ID, 2)
	assert.ErrorIs(t, err, ErrEmailNotFound)
	assert.ErrorIs(t, svc.DeleteEmail(email.ID, 2), ErrEmailNotFound)

	found, err := svc.GetEmailByIDAndUserID(email.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello", found.Subject)

	require.NoError(t, svc.DeleteEmail(email.ID, 1))
	_, err = svc.GetEmailByIDAndUserID(email.ID, 1)
	assert.ErrorIs(t, err, ErrEmailNotFound)
	assert.ErrorIs(t, svc.DeleteEmail(email.ID, 1), ErrEmailNotFound)
}
