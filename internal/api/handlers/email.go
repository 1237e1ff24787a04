package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/logger"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EmailHandler handles email related requests
type EmailHandler struct {
	emailService *services.EmailService
	workflow     *services.WorkflowService
}

// NewEmailHandler creates a new EmailHandler instance
func NewEmailHandler(emailService *services.EmailService, workflow *services.WorkflowService) *EmailHandler {
	return &EmailHandler{
		emailService: emailService,
		workflow:     workflow,
	}
}

// EmailResponse represents the response for an email
type EmailResponse struct {
	ID               uint       `json:"id"`
	GmailMessageID   string     `json:"gmail_message_id"`
	ThreadID         string     `json:"thread_id"`
	Sender           string     `json:"sender"`
	Subject          string     `json:"subject"`
	Body             string     `json:"body"`
	ReceivedAt       time.Time  `json:"received_at"`
	ProcessingStatus string     `json:"processing_status"`
	ProcessedAt      *time.Time `json:"processed_at"`
	AISummary        string     `json:"ai_summary"`
	AIUrgency        string     `json:"ai_urgency"`
	AICategory       string     `json:"ai_category"`
	AIActions        []any      `json:"ai_actions"`
	AIDeadline       *time.Time `json:"ai_deadline"`
	AnnotationSource string     `json:"annotation_source"`
	DecisionStatus   string     `json:"decision_status"`
	DecisionAt       *time.Time `json:"decision_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toEmailResponse(email *models.Email) EmailResponse {
	return EmailResponse{
		ID:               email.ID,
		GmailMessageID:   email.GmailMessageID,
		ThreadID:         email.ThreadID,
		Sender:           email.Sender,
		Subject:          email.Subject,
		Body:             email.Body,
		ReceivedAt:       email.ReceivedAt,
		ProcessingStatus: string(email.ProcessingStatus),
		ProcessedAt:      email.ProcessedAt,
		AISummary:        email.AISummary,
		AIUrgency:        email.AIUrgency,
		AICategory:       email.AICategory,
		AIActions:        email.Actions(),
		AIDeadline:       email.AIDeadline,
		AnnotationSource: email.AnnotationSource,
		DecisionStatus:   string(email.DecisionStatus),
		DecisionAt:       email.DecisionAt,
		CreatedAt:        email.CreatedAt,
	}
}

// ListEmails lists the user's emails, newest first
// GET /api/emails?decision=&status=&search=&page=&limit=
func (h *EmailHandler) ListEmails(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.emailService.ListEmails(userID, services.EmailListOptions{
		Decision:   c.Query("decision"),
		Processing: c.Query("status"),
		Search:     c.Query("search"),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	emails := make([]EmailResponse, 0, len(result.Emails))
	for i := range result.Emails {
		emails = append(emails, toEmailResponse(&result.Emails[i]))
	}

	respondOK(c, gin.H{
		"emails": emails,
		"total":  result.Total,
		"page":   result.Page,
		"limit":  result.Limit,
	})
}

// GetEmail returns a single email
// GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	emailID, ok := pathID(c, "id")
	if !ok {
		return
	}

	email, err := h.emailService.GetEmailByIDAndUserID(emailID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toEmailResponse(email))
}

// SyncEmails fetches new mail for the user and annotates it
// POST /api/emails/sync
func (h *EmailHandler) SyncEmails(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ctx := services.WithSyncTrigger(c.Request.Context(), "manual")
	result, err := h.workflow.SyncUser(ctx, userID)
	if err != nil {
		// 邮箱服务不可用时不算请求失败，返回零计数和提示
		if errors.Is(err, services.ErrMailProviderFailed) {
			logger.FromContext(c.Request.Context(), nil).Warn("mail provider failed during sync",
				zap.Uint("user_id", userID),
				zap.Error(err),
			)
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"data":    result,
				"warning": "Mail provider unavailable, no emails were fetched",
			})
			return
		}
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}

// ProcessEmail runs the classifier on one email
// POST /api/emails/:id/process
func (h *EmailHandler) ProcessEmail(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	emailID, ok := pathID(c, "id")
	if !ok {
		return
	}

	email, err := h.workflow.ProcessEmail(c.Request.Context(), userID, emailID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, toEmailResponse(email))
}

// ApproveEmail turns the email into a task and calendar event
// POST /api/emails/:id/approve
func (h *EmailHandler) ApproveEmail(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	emailID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.workflow.ApproveEmail(c.Request.Context(), userID, emailID); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"success": true})
}

// RejectEmail discards the email
// POST /api/emails/:id/reject
func (h *EmailHandler) RejectEmail(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	emailID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.workflow.RejectEmail(c.Request.Context(), userID, emailID); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"status": "deleted"})
}
