package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/ai"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/metrics"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrApprovalNotFound indicates the approval was not found
	ErrApprovalNotFound = errors.New("approval not found")
	// ErrApprovalAlreadyDecided indicates the approval has already been approved or rejected
	ErrApprovalAlreadyDecided = errors.New("approval already decided")
	// ErrNoProposedTasks indicates none of the actions could be turned into a task
	ErrNoProposedTasks = errors.New("no tasks to propose")
)

// TaskService handles task proposals and their approvals
type TaskService struct {
	db         *gorm.DB
	logService *LogService
	logger     *zap.Logger
}

// NewTaskService creates a new TaskService instance
func NewTaskService(db *gorm.DB, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{
		db:         db,
		logService: NewLogService(db),
		logger:     logger,
	}
}

// UseLogService replaces the default audit writer with a shared one
func (s *TaskService) UseLogService(logs *LogService) *TaskService {
	if logs != nil {
		s.logService = logs
	}
	return s
}

// ProposeTasks turns the AI suggested actions of an email into pending tasks grouped under one approval.
// An email already owning an approval gets that approval back unchanged.
func (s *TaskService) ProposeTasks(ctx context.Context, email *models.Email, actions []any) (*models.Approval, error) {
	var existing models.Approval
	err := s.db.WithContext(ctx).Where("user_id = ? AND email_id = ?", email.UserID, email.ID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tasks := lo.FilterMap(actions, func(action any, _ int) (models.Task, bool) {
		return taskFromAction(email, action)
	})
	if len(tasks) == 0 {
		return nil, ErrNoProposedTasks
	}

	originalData, _ := json.Marshal(map[string]interface{}{
		"email": map[string]interface{}{
			"id":      email.ID,
			"subject": email.Subject,
			"sender":  email.Sender,
		},
		"tasks": actions,
		"ai_review": map[string]interface{}{
			"summary":  email.AISummary,
			"urgency":  email.AIUrgency,
			"category": email.AICategory,
		},
	})

	emailID := email.ID
	approval := &models.Approval{
		UserID:       email.UserID,
		EmailID:      &emailID,
		ApprovalType: models.ApprovalTypeTaskProposal,
		Status:       models.ApprovalPending,
		OriginalData: string(originalData),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(approval).Error; err != nil {
			return err
		}
		for i := range tasks {
			tasks[i].ApprovalID = &approval.ID
		}
		if err := tx.Create(&tasks).Error; err != nil {
			return err
		}
		approval.TaskID = &tasks[0].ID
		return tx.Model(approval).Update("task_id", tasks[0].ID).Error
	})
	if err != nil {
		return nil, err
	}

	approval.Tasks = tasks
	s.logService.LogInfo(email.UserID, models.LogModuleApproval, "propose", "Tasks proposed from email", map[string]interface{}{
		"approval_id": approval.ID,
		"email_id":    email.ID,
		"task_count":  len(tasks),
	})
	return approval, nil
}

// taskFromAction accepts a plain string or an object with title/action and optional details
func taskFromAction(email *models.Email, action any) (models.Task, bool) {
	emailID := email.ID
	task := models.Task{
		UserID:         email.UserID,
		EmailID:        &emailID,
		Priority:       models.PriorityMedium,
		Status:         models.TaskPendingApproval,
		CreatedByAgent: true,
	}

	switch v := action.(type) {
	case string:
		task.Title = strings.TrimSpace(v)
	case map[string]any:
		task.Title = firstString(v, "title", "action", "task", "name")
		task.Description = firstString(v, "explanation", "description", "details")
		if p := strings.ToLower(firstString(v, "priority", "urgency")); isPriority(p) {
			task.Priority = p
		}
		if d, ok := v["estimated_duration"].(float64); ok && d > 0 {
			task.EstimatedDuration = int(d)
		}
		if deadline := firstString(v, "deadline", "due"); deadline != "" {
			task.SuggestedDeadline = ai.ParseDeadline(deadline)
		}
	}

	if task.Title == "" {
		return task, false
	}
	if len([]rune(task.Title)) > 500 {
		task.Title = string([]rune(task.Title)[:500])
	}
	return task, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func isPriority(p string) bool {
	return p == models.PriorityLow || p == models.PriorityMedium || p == models.PriorityHigh
}

// Approve accepts a pending approval and every task it owns
func (s *TaskService) Approve(ctx context.Context, approvalID, userID uint, modifiedData json.RawMessage) (*models.Approval, error) {
	updates := map[string]interface{}{"status": models.ApprovalApproved}
	if len(modifiedData) > 0 && string(modifiedData) != "null" {
		updates["modified_data"] = string(modifiedData)
	}
	return s.decide(ctx, approvalID, userID, models.ApprovalApproved, models.TaskApproved, updates)
}

// Reject declines a pending approval and every task it owns, keeping the feedback
func (s *TaskService) Reject(ctx context.Context, approvalID, userID uint, feedback string) (*models.Approval, error) {
	updates := map[string]interface{}{
		"status":        models.ApprovalRejected,
		"user_feedback": strings.TrimSpace(feedback),
	}
	return s.decide(ctx, approvalID, userID, models.ApprovalRejected, models.TaskRejected, updates)
}

func (s *TaskService) decide(ctx context.Context, approvalID, userID uint, status, taskStatus string, updates map[string]interface{}) (*models.Approval, error) {
	approval, err := s.GetApproval(approvalID, userID)
	if err != nil {
		return nil, err
	}
	if approval.IsDecided() {
		return nil, ErrApprovalAlreadyDecided
	}

	now := time.Now().UTC()
	updates["decision_at"] = now

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 条件更新保证只决策一次
		result := tx.Model(&models.Approval{}).
			Where("id = ? AND status = ?", approvalID, models.ApprovalPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrApprovalAlreadyDecided
		}

		query := tx.Model(&models.Task{}).Where("approval_id = ?", approvalID)
		if approval.TaskID != nil {
			query = tx.Model(&models.Task{}).Where("approval_id = ? OR id = ?", approvalID, *approval.TaskID)
		}
		return query.Update("status", taskStatus).Error
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordDecision("approval", status)
	s.logService.LogDecision(userID, models.LogModuleApproval, approvalID, status, nil)

	return s.GetApproval(approvalID, userID)
}

// Feedback stored on a proposal closed by a decision on its email
const (
	FeedbackSupersededByEmail = "superseded by email approval"
	FeedbackEmailRejected     = "email rejected"
)

// closeEmailProposals rejects the pending proposals of one email and their
// tasks inside tx. It returns the ids of the approvals it closed.
func closeEmailProposals(tx *gorm.DB, userID, emailID uint, feedback string, now time.Time) ([]uint, error) {
	var ids []uint
	if err := tx.Model(&models.Approval{}).
		Where("user_id = ? AND email_id = ? AND status = ?", userID, emailID, models.ApprovalPending).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := tx.Model(&models.Approval{}).
		Where("id IN ? AND status = ?", ids, models.ApprovalPending).
		Updates(map[string]interface{}{
			"status":        models.ApprovalRejected,
			"user_feedback": feedback,
			"decision_at":   now,
		}).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&models.Task{}).
		Where("approval_id IN ? AND status = ?", ids, models.TaskPendingApproval).
		Update("status", models.TaskRejected).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// GetApproval returns an approval owned by the user, with its tasks
func (s *TaskService) GetApproval(approvalID, userID uint) (*models.Approval, error) {
	var approval models.Approval
	if err := s.db.Preload("Tasks").Where("id = ? AND user_id = ?", approvalID, userID).First(&approval).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	return &approval, nil
}

// ListApprovals returns the user's approvals, newest first. An empty status lists all.
func (s *TaskService) ListApprovals(userID uint, status string) ([]models.Approval, error) {
	if err := validateStatus(status, models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected); err != nil {
		return nil, err
	}
	query := s.db.Preload("Tasks").Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	approvals := []models.Approval{}
	if err := query.Order("created_at DESC, id DESC").Find(&approvals).Error; err != nil {
		return nil, err
	}
	return approvals, nil
}

// ListTasks returns the user's tasks, newest first. An empty status lists all.
func (s *TaskService) ListTasks(userID uint, status string) ([]models.Task, error) {
	if err := validateStatus(status, models.TaskPendingApproval, models.TaskApproved, models.TaskRejected); err != nil {
		return nil, err
	}
	query := s.db.Preload("CalendarEvents").Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	tasks := []models.Task{}
	if err := query.Order("created_at DESC, id DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// validateStatus rejects unknown status filters
func validateStatus(status string, allowed ...string) error {
	if status == "" || lo.Contains(allowed, status) {
		return nil
	}
	return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
}
