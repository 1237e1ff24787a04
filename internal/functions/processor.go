package functions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/ai"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/local"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrProcessingFailed indicates the annotation could not be persisted
	ErrProcessingFailed = errors.New("email processing failed")
)

// EmailClassifier produces an annotation from an email's subject and body
type EmailClassifier interface {
	Classify(ctx context.Context, subject, body string) (*ai.Annotation, []ai.Attempt, error)
}

// Result is the outcome of annotating one email
type Result struct {
	Annotation   ai.Annotation
	Source       string
	UsedFallback bool
}

// Processor annotates emails with the classifier and falls back to the local policy.
// An email handed to Annotate always ends with an annotation unless the database write fails.
type Processor struct {
	db         *gorm.DB
	classifier EmailClassifier
	logger     *zap.Logger
}

// NewProcessor creates a new Processor instance
func NewProcessor(db *gorm.DB, classifier EmailClassifier, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		db:         db,
		classifier: classifier,
		logger:     logger,
	}
}

// Annotate classifies the email, applies the fallback on any classifier error,
// and stores the annotation. The passed email is updated in place.
func (p *Processor) Annotate(ctx context.Context, email *models.Email) (*Result, error) {
	if err := p.db.Model(email).Update("processing_status", models.ProcessingProcessing).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}

	result := p.classify(ctx, email)

	now := time.Now().UTC()
	applyAnnotation(email, result.Annotation, result.Source)
	email.ProcessingStatus = models.ProcessingCompleted
	email.ProcessedAt = &now

	// map form so zero values (empty category, nil deadline) are written too
	updates := map[string]interface{}{
		"ai_summary":        email.AISummary,
		"ai_urgency":        email.AIUrgency,
		"ai_category":       email.AICategory,
		"ai_actions":        email.AIActions,
		"ai_deadline":       email.AIDeadline,
		"annotation_source": email.AnnotationSource,
		"processing_status": email.ProcessingStatus,
		"processed_at":      email.ProcessedAt,
	}
	if err := p.db.Model(email).Updates(updates).Error; err != nil {
		email.ProcessingStatus = models.ProcessingFailed
		p.db.Model(email).Update("processing_status", models.ProcessingFailed)
		p.logger.Error("failed to store annotation", zap.Uint("email_id", email.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProcessingFailed, err)
	}

	metrics.RecordAnnotation(result.Source)
	return result, nil
}

func (p *Processor) classify(ctx context.Context, email *models.Email) *Result {
	if p.classifier != nil {
		annotation, attempts, err := p.classifier.Classify(ctx, email.Subject, email.Body)
		p.recordAttempts(email, attempts)
		if err == nil {
			return &Result{Annotation: *annotation, Source: models.AnnotationSourceAI}
		}
		p.logger.Info("classifier failed, using fallback",
			zap.Uint("email_id", email.ID),
			zap.Int("attempts", len(attempts)),
			zap.Error(err),
		)
	}

	return &Result{
		Annotation:   local.Fallback(email.Subject, email.Body),
		Source:       models.AnnotationSourceFallback,
		UsedFallback: true,
	}
}

// recordAttempts writes one AI log row per model call. Log failures never block annotation.
func (p *Processor) recordAttempts(email *models.Email, attempts []ai.Attempt) {
	if len(attempts) == 0 {
		return
	}

	emailID := email.ID
	rows := make([]models.AILog, 0, len(attempts))
	for _, a := range attempts {
		row := models.AILog{
			UserID:    email.UserID,
			EmailID:   &emailID,
			AgentName: ai.AgentName,
			Model:     a.Model,
			Prompt:    a.Prompt,
			Output:    a.Output,
			Attempt:   a.Number,
			LatencyMs: a.Latency.Milliseconds(),
			Success:   a.Err == nil,
		}
		if a.Err != nil {
			row.ErrorMessage = a.Err.Error()
		}
		rows = append(rows, row)
	}

	if err := p.db.Create(&rows).Error; err != nil {
		p.logger.Warn("failed to write AI log", zap.Uint("email_id", email.ID), zap.Error(err))
	}
}

// applyAnnotation copies an annotation onto an email without touching the database
func applyAnnotation(email *models.Email, a ai.Annotation, source string) {
	email.AISummary = a.Summary
	email.AIUrgency = a.Urgency
	email.AICategory = a.Category
	email.SetActions(a.Actions)
	email.AIDeadline = a.Deadline
	email.AnnotationSource = source
}
