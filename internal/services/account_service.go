package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/mail"
	"gorm.io/gorm"
)

var (
	// ErrNoGoogleCredential indicates the user has not connected a Google account
	ErrNoGoogleCredential = errors.New("google account not connected")
	// ErrEncryptionFailed indicates token encryption failed
	ErrEncryptionFailed = errors.New("token encryption failed")
	// ErrDecryptionFailed indicates token decryption failed
	ErrDecryptionFailed = errors.New("token decryption failed")
)

// AccountService stores and reads the user's connected Google account credentials.
// Refresh tokens are kept AES-256-GCM encrypted on the user row.
type AccountService struct {
	db            *gorm.DB
	encryptionKey []byte // 32 bytes for AES-256
	logService    *LogService
}

// NewAccountService creates a new AccountService instance
func NewAccountService(db *gorm.DB, encryptionKey []byte) *AccountService {
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &AccountService{
		db:            db,
		encryptionKey: key,
		logService:    NewLogService(db),
	}
}

// UseLogService replaces the default audit writer with a shared one
func (s *AccountService) UseLogService(logs *LogService) *AccountService {
	if logs != nil {
		s.logService = logs
	}
	return s
}

// encryptToken encrypts a token using AES-256-GCM
func (s *AccountService) encryptToken(token string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	sealed := gcm.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decryptToken reverses encryptToken
func (s *AccountService) decryptToken(encrypted string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", ErrDecryptionFailed
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// GoogleGrant describes which APIs a stored refresh token was granted for
type GoogleGrant struct {
	RefreshToken string
	Gmail        bool
	Calendar     bool
}

// StoreGoogleGrant encrypts and saves the refresh token for every granted API.
// An empty refresh token leaves the stored credentials unchanged.
func (s *AccountService) StoreGoogleGrant(userID uint, grant GoogleGrant) error {
	if grant.RefreshToken == "" || (!grant.Gmail && !grant.Calendar) {
		return nil
	}

	encrypted, err := s.encryptToken(grant.RefreshToken)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if grant.Gmail {
		updates["gmail_token"] = encrypted
	}
	if grant.Calendar {
		updates["calendar_token"] = encrypted
	}

	result := s.db.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	s.logService.LogInfo(userID, models.LogModuleAccount, "google_connected", "Google account connected", map[string]interface{}{
		"gmail":    grant.Gmail,
		"calendar": grant.Calendar,
	})
	return nil
}

// DisconnectGoogle removes both stored refresh tokens
func (s *AccountService) DisconnectGoogle(userID uint) error {
	if err := s.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"gmail_token":    "",
		"calendar_token": "",
	}).Error; err != nil {
		return err
	}
	s.logService.LogInfo(userID, models.LogModuleAccount, "google_disconnected", "Google account disconnected", nil)
	return nil
}

// MailCredential returns the decrypted mailbox credential of a user
func (s *AccountService) MailCredential(user *models.User) (mail.Credential, error) {
	if !user.HasGmail() {
		return mail.Credential{}, ErrNoGoogleCredential
	}
	token, err := s.decryptToken(user.GmailToken)
	if err != nil {
		return mail.Credential{}, err
	}
	return mail.Credential{Address: user.Email, RefreshToken: token}, nil
}

// CalendarRefreshToken returns the decrypted calendar refresh token of a user
func (s *AccountService) CalendarRefreshToken(user *models.User) (string, error) {
	if !user.HasCalendar() {
		return "", ErrNoGoogleCredential
	}
	return s.decryptToken(user.CalendarToken)
}

// ListMailUsers returns active users with a stored mailbox credential
func (s *AccountService) ListMailUsers() ([]models.User, error) {
	var users []models.User
	if err := s.db.Where("is_active = ? AND gmail_token <> ?", true, "").Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
