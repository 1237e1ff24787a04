package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyDecided indicates the email already has a terminal decision
	ErrAlreadyDecided = errors.New("email already decided")
	// ErrInvalidInput indicates a malformed request value
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// DefaultTaskLead is added to now when the annotation carries no deadline
	DefaultTaskLead = 2 * time.Hour
	// DefaultEventDuration is the length of the calendar block created on approval
	DefaultEventDuration = 30 * time.Minute
)

// Annotator runs the classifier with fallback on one email and stores the result
type Annotator interface {
	Annotate(ctx context.Context, email *models.Email) (*functions.Result, error)
}

type syncTriggerKey struct{}

// WithSyncTrigger tags ctx with what started the sync, recorded in the audit log
func WithSyncTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, syncTriggerKey{}, trigger)
}

func syncTrigger(ctx context.Context) string {
	if t, ok := ctx.Value(syncTriggerKey{}).(string); ok && t != "" {
		return t
	}
	return "manual"
}

// SyncResult summarizes one sync pass
type SyncResult struct {
	NewEmails    int `json:"new_emails"`
	AIProcessed  int `json:"ai_processed"`
	FallbackUsed int `json:"fallback_used"`
}

// WorkflowService drives an email from ingestion to a human decision
type WorkflowService struct {
	db           *gorm.DB
	userService  *UserService
	emailService *EmailService
	taskService  *TaskService
	annotator    Annotator
	calendar     CalendarProvider
	guard        *SyncGuard
	logService   *LogService
	logger       *zap.Logger
}

// WorkflowDeps bundles the collaborators of a WorkflowService
type WorkflowDeps struct {
	Users     *UserService
	Emails    *EmailService
	Tasks     *TaskService
	Annotator Annotator
	Calendar  CalendarProvider // nil keeps every event pending
	Guard     *SyncGuard
	Logs      *LogService // nil writes INFO and above
	Logger    *zap.Logger
}

// NewWorkflowService creates a new WorkflowService instance
func NewWorkflowService(db *gorm.DB, deps WorkflowDeps) *WorkflowService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := deps.Guard
	if guard == nil {
		guard = NewSyncGuard(nil, 0, logger)
	}
	logs := deps.Logs
	if logs == nil {
		logs = NewLogService(db)
	}
	return &WorkflowService{
		db:           db,
		userService:  deps.Users,
		emailService: deps.Emails,
		taskService:  deps.Tasks,
		annotator:    deps.Annotator,
		calendar:     deps.Calendar,
		guard:        guard,
		logService:   logs,
		logger:       logger,
	}
}

// SyncUser fetches new emails and annotates each one in turn.
// A failed annotation of one email does not stop the others.
func (w *WorkflowService) SyncUser(ctx context.Context, userID uint) (*SyncResult, error) {
	result := &SyncResult{}

	user, err := w.userService.GetUserByID(userID)
	if err != nil {
		return result, err
	}

	release, err := w.guard.Acquire(ctx, userID)
	if err != nil {
		return result, err
	}
	defer release()

	created, err := w.emailService.FetchNewEmails(ctx, user)
	if err != nil {
		w.logService.LogSync(userID, syncTrigger(ctx), result, err)
		return result, err
	}
	result.NewEmails = len(created)

	for i := range created {
		annotation, err := w.annotate(ctx, &created[i], true)
		if err != nil {
			w.logger.Error("annotation failed",
				zap.Uint("user_id", userID),
				zap.Uint("email_id", created[i].ID),
				zap.Error(err),
			)
			continue
		}
		if annotation.UsedFallback {
			result.FallbackUsed++
		} else {
			result.AIProcessed++
		}
	}

	w.logService.LogSync(userID, syncTrigger(ctx), result, nil)
	return result, nil
}

// annotate runs the annotator. With propose set, AI suggested actions become a task proposal.
func (w *WorkflowService) annotate(ctx context.Context, email *models.Email, propose bool) (*functions.Result, error) {
	result, err := w.annotator.Annotate(ctx, email)
	if err != nil {
		return nil, err
	}

	if propose && !result.UsedFallback && len(result.Annotation.Actions) > 0 && w.taskService != nil {
		if _, err := w.taskService.ProposeTasks(ctx, email, result.Annotation.Actions); err != nil && !errors.Is(err, ErrNoProposedTasks) {
			w.logger.Warn("task proposal failed", zap.Uint("email_id", email.ID), zap.Error(err))
		}
	}
	return result, nil
}

// ProcessEmail annotates an email on demand and returns the stored record
func (w *WorkflowService) ProcessEmail(ctx context.Context, userID, emailID uint) (*models.Email, error) {
	email, err := w.emailService.GetEmailByIDAndUserID(emailID, userID)
	if err != nil {
		return nil, err
	}
	if email.IsDecided() {
		return nil, ErrAlreadyDecided
	}

	if _, err := w.annotate(ctx, email, true); err != nil {
		return nil, err
	}
	return w.emailService.GetEmailByIDAndUserID(emailID, userID)
}

// ApproveEmail turns the email into an approved task with a calendar event.
// An unannotated email is annotated first. Task, event and decision are committed together;
// a calendar failure leaves no trace in the database.
func (w *WorkflowService) ApproveEmail(ctx context.Context, userID, emailID uint) error {
	email, err := w.emailService.GetEmailByIDAndUserID(emailID, userID)
	if err != nil {
		return err
	}
	if email.IsDecided() {
		return ErrAlreadyDecided
	}

	if !email.IsAnnotated() {
		if _, err := w.annotate(ctx, email, false); err != nil {
			return err
		}
	}

	user, err := w.userService.GetUserByID(userID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task := buildTask(email, now)
	var pushedEventID string
	var superseded []uint

	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return err
		}

		event := buildEvent(task)
		if w.calendar != nil && user.HasCalendar() {
			externalID, err := w.calendar.CreateEvent(ctx, user, event)
			if err != nil {
				if errors.Is(err, ErrCalendarFailed) {
					return err
				}
				return fmt.Errorf("%w: %v", ErrCalendarFailed, err)
			}
			pushedEventID = externalID
			event.GoogleEventID = &externalID
			event.SyncStatus = models.SyncSynced
		}
		if err := tx.Create(event).Error; err != nil {
			return err
		}

		result := tx.Model(&models.Email{}).
			Where("id = ? AND decision_status = ?", email.ID, models.DecisionPending).
			Updates(map[string]interface{}{
				"decision_status": models.DecisionApproved,
				"decision_at":     now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadyDecided
		}

		// the task above replaces whatever the agent proposed for this email
		superseded, err = closeEmailProposals(tx, userID, email.ID, FeedbackSupersededByEmail, now)
		return err
	})
	if err != nil {
		// 远端事件已创建但本地事务失败，日历中会留下孤立事件
		if pushedEventID != "" {
			w.logger.Warn("calendar event orphaned by rollback",
				zap.Uint("email_id", emailID),
				zap.String("google_event_id", pushedEventID),
				zap.Error(err))
		}
		if errors.Is(err, ErrCalendarFailed) {
			w.logService.LogWarn(userID, models.LogModuleCalendar, "create_event", "Calendar event creation failed", map[string]interface{}{
				"email_id": emailID,
				"error":    err.Error(),
			})
		}
		return err
	}

	metrics.RecordDecision("email", string(models.DecisionApproved))
	w.logService.LogDecision(userID, models.LogModuleEmail, emailID, string(models.DecisionApproved), map[string]interface{}{
		"task_id":              task.ID,
		"superseded_approvals": superseded,
	})
	return nil
}

func buildTask(email *models.Email, now time.Time) *models.Task {
	title := email.AISummary
	if title == "" {
		title = email.Subject
	}
	if title == "" {
		title = "(No Subject)"
	}
	if len([]rune(title)) > 500 {
		title = string([]rune(title)[:500])
	}

	priority := email.AIUrgency
	if !isPriority(priority) {
		priority = models.PriorityMedium
	}

	deadline := now.Add(DefaultTaskLead)
	if email.AIDeadline != nil {
		deadline = email.AIDeadline.UTC()
	}

	emailID := email.ID
	return &models.Task{
		UserID:            email.UserID,
		EmailID:           &emailID,
		Title:             title,
		Description:       email.Body,
		Priority:          priority,
		Status:            models.TaskApproved,
		EstimatedDuration: int(DefaultEventDuration / time.Minute),
		SuggestedDeadline: &deadline,
		CreatedByAgent:    true,
	}
}

func buildEvent(task *models.Task) *models.CalendarEvent {
	start := *task.SuggestedDeadline
	return &models.CalendarEvent{
		TaskID:          task.ID,
		UserID:          task.UserID,
		Title:           task.Title,
		Description:     task.Description,
		StartTime:       start,
		EndTime:         start.Add(DefaultEventDuration),
		Attendees:       "[]",
		ReminderMinutes: models.DefaultReminderMinutes,
		CreatedByAgent:  true,
		SyncStatus:      models.SyncPending,
	}
}

// RejectEmail deletes the email. Approved emails cannot be rejected.
// A later sync treats the same remote message as new.
func (w *WorkflowService) RejectEmail(ctx context.Context, userID, emailID uint) error {
	email, err := w.emailService.GetEmailByIDAndUserID(emailID, userID)
	if err != nil {
		return err
	}
	if email.DecisionStatus == models.DecisionApproved {
		return ErrAlreadyDecided
	}

	closed, err := w.discardEmail(ctx, userID, emailID)
	if err != nil {
		return err
	}

	metrics.RecordDecision("email", string(models.DecisionRejected))
	w.logService.LogDecision(userID, models.LogModuleEmail, emailID, string(models.DecisionRejected), map[string]interface{}{
		"gmail_message_id": email.GmailMessageID,
		"deleted":          true,
		"closed_approvals": closed,
	})
	return nil
}

// discardEmail deletes an undecided email and rejects its pending proposals in
// one transaction. An approval that committed after the caller read the email
// wins: the delete matches nothing and ErrAlreadyDecided is returned.
func (w *WorkflowService) discardEmail(ctx context.Context, userID, emailID uint) ([]uint, error) {
	var closed []uint
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ? AND decision_status <> ?", emailID, userID, models.DecisionApproved).
			Delete(&models.Email{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Email{}).Where("id = ? AND user_id = ?", emailID, userID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrAlreadyDecided
			}
			return ErrEmailNotFound
		}

		var err error
		closed, err = closeEmailProposals(tx, userID, emailID, FeedbackEmailRejected, time.Now().UTC())
		return err
	})
	return closed, err
}

// SyncAllUsers runs one sync pass for every user with a mailbox credential
func (w *WorkflowService) SyncAllUsers(ctx context.Context) (map[uint]*SyncResult, error) {
	var users []models.User
	if err := w.db.WithContext(ctx).Where("is_active = ? AND gmail_token <> ?", true, "").Order("id").Find(&users).Error; err != nil {
		return nil, err
	}

	results := make(map[uint]*SyncResult, len(users))
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		result, err := w.SyncUser(ctx, u.ID)
		if err != nil {
			w.logger.Warn("sync failed", zap.Uint("user_id", u.ID), zap.Error(err))
			continue
		}
		results[u.ID] = result
	}
	return results, nil
}
