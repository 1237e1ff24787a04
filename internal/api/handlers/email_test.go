package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/mail"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emailPage struct {
	Emails []EmailResponse `json:"emails"`
	Total  int64           `json:"total"`
}

func TestEmailWorkflow(t *testing.T) {
	s := newTestServer(t, serverOptions{
		classifier: &stubClassifier{annotation: reviewAnnotation()},
		messages: []*mail.Message{
			plainMessage("m1", "Quarterly report", "Please review the attached report"),
			plainMessage("m2", "Newsletter", "This week in tech"),
		},
	})
	_, token := s.connectedUser("exec@example.com", false)

	code, env := s.do(http.MethodPost, "/api/emails/sync", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, services.SyncResult{NewEmails: 2, AIProcessed: 2}, decode[services.SyncResult](t, env.Data))
	assert.Empty(t, env.Warning)

	code, env = s.do(http.MethodGet, "/api/emails", token, nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[emailPage](t, env.Data)
	assert.Equal(t, int64(2), page.Total)
	for _, email := range page.Emails {
		assert.Equal(t, models.AnnotationSourceAI, email.AnnotationSource)
		assert.Equal(t, "Review the quarterly report", email.AISummary)
		assert.Len(t, email.AIActions, 2)
		assert.Equal(t, string(models.DecisionPending), email.DecisionStatus)
	}

	m1 := s.emailID("m1")
	m2 := s.emailID("m2")

	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/approve", m1), token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"success":true}`, string(env.Data))

	var task models.Task
	require.NoError(t, s.db.Where("email_id = ? AND status = ?", m1, models.TaskApproved).First(&task).Error)
	assert.Equal(t, "Review the quarterly report", task.Title)
	assert.Equal(t, models.PriorityHigh, task.Priority)

	var event models.CalendarEvent
	require.NoError(t, s.db.Where("task_id = ?", task.ID).First(&event).Error)
	assert.Equal(t, models.SyncPending, event.SyncStatus)
	assert.Nil(t, event.GoogleEventID)

	// decisions are final
	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/approve", m1), token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, CodeConflict, env.Error.Code)
	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/reject", m1), token, nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/process", m1), token, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/reject", m2), token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"deleted"}`, string(env.Data))

	code, env = s.do(http.MethodGet, fmt.Sprintf("/api/emails/%d", m2), token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, CodeNotFound, env.Error.Code)

	// the rejected message is still in the mailbox and comes back as new
	code, env = s.do(http.MethodPost, "/api/emails/sync", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[services.SyncResult](t, env.Data).NewEmails)
}

func TestProcessEmail_ReturnsAnnotatedRecord(t *testing.T) {
	s := newTestServer(t, serverOptions{
		messages: []*mail.Message{plainMessage("m1", "Lunch", "Lunch on Friday?")},
	})
	_, token := s.connectedUser("exec@example.com", false)

	code, env := s.do(http.MethodPost, "/api/emails/sync", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, services.SyncResult{NewEmails: 1, FallbackUsed: 1}, decode[services.SyncResult](t, env.Data))

	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/process", s.emailID("m1")), token, nil)
	require.Equal(t, http.StatusOK, code)
	email := decode[EmailResponse](t, env.Data)
	assert.Equal(t, models.AnnotationSourceFallback, email.AnnotationSource)
	assert.Equal(t, "Lunch on Friday?", email.AISummary)
	assert.Equal(t, string(models.ProcessingCompleted), email.ProcessingStatus)
	assert.NotNil(t, email.ProcessedAt)
}

func TestSyncEmails_ProviderFailureIsAWarning(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	s.provider.listErr = errors.New("gmail unavailable")
	_, token := s.connectedUser("exec@example.com", false)

	code, env := s.do(http.MethodPost, "/api/emails/sync", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Warning)
	assert.Equal(t, services.SyncResult{}, decode[services.SyncResult](t, env.Data))
}

func TestApproveEmail_Calendar(t *testing.T) {
	t.Run("event pushed", func(t *testing.T) {
		cal := &stubCalendar{}
		s := newTestServer(t, serverOptions{
			classifier: &stubClassifier{annotation: reviewAnnotation()},
			calendar:   cal,
			messages:   []*mail.Message{plainMessage("m1", "Report", "Review it")},
		})
		_, token := s.connectedUser("exec@example.com", true)
		code, _ := s.do(http.MethodPost, "/api/emails/sync", token, nil)
		require.Equal(t, http.StatusOK, code)

		code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/approve", s.emailID("m1")), token, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, 1, cal.calls)

		var event models.CalendarEvent
		require.NoError(t, s.db.First(&event).Error)
		require.NotNil(t, event.GoogleEventID)
		assert.Equal(t, "gcal-1", *event.GoogleEventID)
		assert.Equal(t, models.SyncSynced, event.SyncStatus)
	})

	t.Run("calendar failure rolls back", func(t *testing.T) {
		cal := &stubCalendar{err: errors.New("quota exceeded")}
		s := newTestServer(t, serverOptions{
			calendar: cal,
			messages: []*mail.Message{plainMessage("m1", "Report", "Review it")},
		})
		_, token := s.connectedUser("exec@example.com", true)
		code, _ := s.do(http.MethodPost, "/api/emails/sync", token, nil)
		require.Equal(t, http.StatusOK, code)

		m1 := s.emailID("m1")
		code, env := s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/approve", m1), token, nil)
		assert.Equal(t, http.StatusBadGateway, code)
		assert.Equal(t, CodeUpstream, env.Error.Code)

		var tasks int64
		require.NoError(t, s.db.Model(&models.Task{}).Where("email_id = ?", m1).Count(&tasks).Error)
		assert.Zero(t, tasks)

		code, env = s.do(http.MethodGet, fmt.Sprintf("/api/emails/%d", m1), token, nil)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, string(models.DecisionPending), decode[EmailResponse](t, env.Data).DecisionStatus)
	})
}

func TestEmailRoutes_BadIDs(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	_, token := s.connectedUser("exec@example.com", false)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/emails/abc", http.StatusBadRequest},
		{http.MethodGet, "/api/emails/0", http.StatusBadRequest},
		{http.MethodGet, "/api/emails/999", http.StatusNotFound},
		{http.MethodPost, "/api/emails/999/approve", http.StatusNotFound},
		{http.MethodPost, "/api/emails/999/reject", http.StatusNotFound},
		{http.MethodPost, "/api/emails/999/process", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			code, env := s.do(tt.method, tt.path, token, nil)
			assert.Equal(t, tt.want, code)
			assert.False(t, env.Success)
		})
	}
}

func TestEmails_OtherUsersAreInvisible(t *testing.T) {
	s := newTestServer(t, serverOptions{
		messages: []*mail.Message{plainMessage("m1", "Private", "For the CEO only")},
	})
	_, ceoToken := s.connectedUser("ceo@example.com", false)
	_, cfoToken := s.connectedUser("cfo@example.com", false)

	code, _ := s.do(http.MethodPost, "/api/emails/sync", ceoToken, nil)
	require.Equal(t, http.StatusOK, code)

	var email models.Email
	require.NoError(t, s.db.First(&email).Error)

	code, _ = s.do(http.MethodGet, fmt.Sprintf("/api/emails/%d", email.ID), cfoToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/emails/%d/reject", email.ID), cfoToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
