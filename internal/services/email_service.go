package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/mail"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/metrics"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrEmailNotFound indicates the email was not found
	ErrEmailNotFound = errors.New("email not found")
	// ErrMailProviderFailed indicates the mail provider could not be reached or refused access
	ErrMailProviderFailed = errors.New("mail provider failed")
)

// EmailService ingests and reads a user's emails
type EmailService struct {
	db             *gorm.DB
	accountService *AccountService
	provider       mail.Provider
	logService     *LogService
	logger         *zap.Logger
}

// NewEmailService creates a new EmailService instance
func NewEmailService(db *gorm.DB, accountService *AccountService, provider mail.Provider, logger *zap.Logger) *EmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailService{
		db:             db,
		accountService: accountService,
		provider:       provider,
		logService:     NewLogService(db),
		logger:         logger,
	}
}

// UseLogService replaces the default audit writer with a shared one
func (s *EmailService) UseLogService(logs *LogService) *EmailService {
	if logs != nil {
		s.logService = logs
	}
	return s
}

// FetchNewEmails pulls the most recent messages of the user's mailbox and stores the unseen ones.
// A user without a mailbox credential is a no-op. All new rows are committed in one transaction
// and a row that lost an insert race is skipped. Only rows actually inserted are returned.
func (s *EmailService) FetchNewEmails(ctx context.Context, user *models.User) ([]models.Email, error) {
	if !user.HasGmail() {
		s.logger.Warn("user has no mailbox credential, skipping fetch", zap.Uint("user_id", user.ID))
		return []models.Email{}, nil
	}

	cred, err := s.accountService.MailCredential(user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMailProviderFailed, err)
	}

	mailbox, err := s.provider.Open(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMailProviderFailed, err)
	}
	defer mailbox.Close()

	ids, err := mailbox.ListRecentMessageIDs(ctx, mail.MaxSyncMessages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMailProviderFailed, err)
	}
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return []models.Email{}, nil
	}

	var known []string
	if err := s.db.Model(&models.Email{}).
		Where("user_id = ? AND gmail_message_id IN ?", user.ID, ids).
		Pluck("gmail_message_id", &known).Error; err != nil {
		return nil, err
	}
	fresh := lo.Without(ids, known...)

	candidates := make([]*models.Email, 0, len(fresh))
	for _, id := range fresh {
		msg, err := mailbox.GetFullMessage(ctx, id)
		if err != nil {
			// one broken message must not block the rest of the page
			s.logger.Warn("failed to fetch message",
				zap.Uint("user_id", user.ID),
				zap.String("message_id", id),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		candidates = append(candidates, emailFromMessage(user.ID, msg))
	}

	created := make([]models.Email, 0, len(candidates))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, email := range candidates {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "gmail_message_id"}},
				DoNothing: true,
			}).Create(email)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			created = append(created, *email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EmailsIngested.Add(float64(len(created)))
	s.logService.LogInfo(user.ID, models.LogModuleEmail, "fetch", "Email fetch completed", map[string]interface{}{
		"listed":  len(ids),
		"known":   len(known),
		"created": len(created),
	})

	return created, nil
}

func emailFromMessage(userID uint, msg *mail.Message) *models.Email {
	receivedAt := msg.ReceivedAt()
	if msg.InternalDate == 0 {
		receivedAt = time.Now().UTC()
	}
	return models.NewEmail(
		userID,
		msg.ID,
		msg.ThreadID,
		msg.Header("From"),
		msg.Header("Subject"),
		mail.ExtractBody(msg.Payload),
		receivedAt,
	)
}

// GetEmailByIDAndUserID retrieves an email owned by the user
func (s *EmailService) GetEmailByIDAndUserID(id, userID uint) (*models.Email, error) {
	var email models.Email
	if err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// EmailListOptions represents options for listing emails
type EmailListOptions struct {
	Decision   string // pending, approved, rejected
	Processing string // pending, processing, completed, failed
	Search     string
	Page       int
	Limit      int
}

// EmailListResult represents the result of listing emails
type EmailListResult struct {
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
	Emails []models.Email `json:"emails"`
}

// ListEmails lists a user's emails, newest first
func (s *EmailService) ListEmails(userID uint, opts EmailListOptions) (*EmailListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}

	query := s.db.Model(&models.Email{}).Where("user_id = ?", userID)
	if opts.Decision != "" {
		query = query.Where("decision_status = ?", opts.Decision)
	}
	if opts.Processing != "" {
		query = query.Where("processing_status = ?", opts.Processing)
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("subject LIKE ? OR sender LIKE ? OR ai_summary LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	emails := []models.Email{}
	if err := query.Order("received_at DESC, id DESC").
		Offset((opts.Page - 1) * opts.Limit).
		Limit(opts.Limit).
		Find(&emails).Error; err != nil {
		return nil, err
	}

	return &EmailListResult{
		Total:  total,
		Page:   opts.Page,
		Limit:  opts.Limit,
		Emails: emails,
	}, nil
}

// DeleteEmail permanently removes an email. Tasks keep their informational email id.
func (s *EmailService) DeleteEmail(id, userID uint) error {
	result := s.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Email{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEmailNotFound
	}
	return nil
}
