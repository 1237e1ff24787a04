package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createAnnotatedEmail(t *testing.T, db *gorm.DB, userID uint, remoteID string) *models.Email {
	t.Helper()
	email := models.NewEmail(userID, remoteID, "", "boss@example.com", "Quarterly plan", "Draft the plan and book a review", time.Now().UTC())
	email.AISummary = "Draft the quarterly plan"
	email.AIUrgency = models.PriorityHigh
	email.AICategory = "task"
	email.AnnotationSource = models.AnnotationSourceAI
	email.ProcessingStatus = models.ProcessingCompleted
	require.NoError(t, db.Create(email).Error)
	return email
}

func TestProposeTasks(t *testing.T) {
	db := setupServiceDB(t)
	svc := NewTaskService(db, nil)
	email := createAnnotatedEmail(t, db, 1, "m1")

	actions := []any{
		"Draft the plan",
		map[string]any{
			"title":              "Book review meeting",
			"explanation":        "Needs the whole team",
			"priority":           "HIGH",
			"estimated_duration": float64(45),
			"deadline":           "2025-03-01T10:00:00Z",
		},
		map[string]any{"note": "no title here"},
		"   ",
	}

	approval, err := svc.ProposeTasks(context.Background(), email, actions)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, approval.Status)
	assert.Equal(t, models.ApprovalTypeTaskProposal, approval.ApprovalType)
	require.Len(t, approval.Tasks, 2)
	require.NotNil(t, approval.TaskID)
	assert.Equal(t, approval.Tasks[0].ID, *approval.TaskID)

	stored, err := svc.GetApproval(approval.ID, 1)
	require.NoError(t, err)
	require.Len(t, stored.Tasks, 2)

	byTitle := map[string]models.Task{}
	for _, task := range stored.Tasks {
		byTitle[task.Title] = task
		assert.Equal(t, models.TaskPendingApproval, task.Status)
		assert.True(t, task.CreatedByAgent)
	}
	plain := byTitle["Draft the plan"]
	assert.Equal(t, models.PriorityMedium, plain.Priority)

	detailed := byTitle["Book review meeting"]
	assert.Equal(t, "Needs the whole team", detailed.Description)
	assert.Equal(t, models.PriorityHigh, detailed.Priority)
	assert.Equal(t, 45, detailed.EstimatedDuration)
	require.NotNil(t, detailed.SuggestedDeadline)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), detailed.SuggestedDeadline.UTC())

	var original map[string]any
	require.NoError(t, json.Unmarshal([]byte(stored.OriginalData), &original))
	assert.Contains(t, original, "email")
	assert.Contains(t, original, "tasks")

	// proposing again for the same email returns the existing approval
	again, err := svc.ProposeTasks(context.Background(), email, []any{"Something else"})
	require.NoError(t, err)
	assert.Equal(t, approval.ID, again.ID)

	var taskCount int64
	require.NoError(t, db.Model(&models.Task{}).Count(&taskCount).Error)
	assert.Equal(t, int64(2), taskCount)
}

func TestProposeTasks_NothingUsable(t *testing.T) {
	db := setupServiceDB(t)
	svc := NewTaskService(db, nil)
	email := createAnnotatedEmail(t, db, 1, "m1")

	_, err := svc.ProposeTasks(context.Background(), email, []any{42.0, map[string]any{}, ""})
	assert.ErrorIs(t, err, ErrNoProposedTasks)

	var count int64
	require.NoError(t, db.Model(&models.Approval{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestApproveApproval(t *testing.T) {
	db := setupServiceDB(t)
	svc := NewTaskService(db, nil)
	email := createAnnotatedEmail(t, db, 1, "m1")
	approval, err := svc.ProposeTasks(context.Background(), email, []any{"One", "Two"})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), approval.ID, 2, nil)
	assert.ErrorIs(t, err, ErrApprovalNotFound)

	modified := json.RawMessage(`{"tasks":["One"]}`)
	decided, err := svc.Approve(context.Background(), approval.ID, 1, modified)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, decided.Status)
	assert.NotNil(t, decided.DecisionAt)
	assert.JSONEq(t, `{"tasks":["One"]}`, decided.ModifiedData)
	for _, task := range decided.Tasks {
		assert.Equal(t, models.TaskApproved, task.Status)
	}

	_, err = svc.Approve(context.Background(), approval.ID, 1, nil)
	assert.ErrorIs(t, err, ErrApprovalAlreadyDecided)
	_, err = svc.Reject(context.Background(), approval.ID, 1, "changed my mind")
	assert.ErrorIs(t, err, ErrApprovalAlreadyDecided)
}

func TestRejectApproval(t *testing.T) {
	db := setupServiceDB(t)
	svc := NewTaskService(db, nil)
	email := createAnnotatedEmail(t, db, 1, "m1")
	approval, err := svc.ProposeTasks(context.Background(), email, []any{"One", "Two"})
	require.NoError(t, err)

	decided, err := svc.Reject(context.Background(), approval.ID, 1, "  not now  ")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, decided.Status)
	assert.Equal(t, "not now", decided.UserFeedback)
	for _, task := range decided.Tasks {
		assert.Equal(t, models.TaskRejected, task.Status)
	}

	var events int64
	require.NoError(t, db.Model(&models.CalendarEvent{}).Count(&events).Error)
	assert.Zero(t, events)
}

func TestListApprovalsAndTasks(t *testing.T) {
	db := setupServiceDB(t)
	svc := NewTaskService(db, nil)

	first, err := svc.ProposeTasks(context.Background(), createAnnotatedEmail(t, db, 1, "m1"), []any{"One"})
	require.NoError(t, err)
	_, err = svc.ProposeTasks(context.Background(), createAnnotatedEmail(t, db, 1, "m2"), []any{"Two", "Three"})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), first.ID, 1, nil)
	require.NoError(t, err)

	all, err := svc.ListApprovals(1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := svc.ListApprovals(1, models.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Tasks, 2)

	_, err = svc.ListApprovals(1, "bogus")
	assert.ErrorIs(t, err, ErrInvalidInput)

	tasks, err := svc.ListTasks(1, models.TaskPendingApproval)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = svc.ListTasks(2, "")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = svc.ListTasks(1, "done")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
