package services

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates the user was not found
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists indicates the email address is already registered
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrInvalidCredentials indicates invalid login credentials
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordTooShort indicates the password is too short
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
	// ErrInvalidEmail indicates a malformed email address
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrUserInactive indicates the account has been disabled
	ErrUserInactive = errors.New("user is inactive")
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

// UserService handles user-related business logic
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a new UserService instance
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func normalizeEmail(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return "", ErrInvalidEmail
	}
	return address, nil
}

// CreateUser registers a password user
func (s *UserService) CreateUser(email, password, fullName string) (*models.User, error) {
	address, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	var existing models.User
	if err := s.db.Where("email = ?", address).First(&existing).Error; err == nil {
		return nil, ErrUserAlreadyExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	newUser := &models.User{
		Email:        address,
		PasswordHash: hashedPassword,
		FullName:     strings.TrimSpace(fullName),
		Role:         models.RoleExecutive,
		IsActive:     true,
		Preferences:  "{}",
	}
	if err := s.db.Create(newUser).Error; err != nil {
		return nil, err
	}

	return newUser, nil
}

// GetUserByID retrieves a user by ID
func (s *UserService) GetUserByID(id uint) (*models.User, error) {
	var foundUser models.User
	if err := s.db.First(&foundUser, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &foundUser, nil
}

// GetUserByEmail retrieves a user by email address
func (s *UserService) GetUserByEmail(email string) (*models.User, error) {
	var foundUser models.User
	if err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&foundUser).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &foundUser, nil
}

// ListUsers returns all users
func (s *UserService) ListUsers() ([]models.User, error) {
	var users []models.User
	if err := s.db.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateProfile changes the display name
func (s *UserService) UpdateProfile(id uint, fullName string) (*models.User, error) {
	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return nil, err
	}

	foundUser.FullName = strings.TrimSpace(fullName)
	if err := s.db.Model(foundUser).Update("full_name", foundUser.FullName).Error; err != nil {
		return nil, err
	}
	return foundUser, nil
}

// VerifyPassword checks the credentials of a password user and records the login
func (s *UserService) VerifyPassword(email, password string) (*models.User, error) {
	foundUser, err := s.GetUserByEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	// Google-only users have no password
	if foundUser.PasswordHash == "" || !ComparePassword(foundUser.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !foundUser.IsActive {
		return nil, ErrUserInactive
	}

	s.touchLastLogin(foundUser)
	return foundUser, nil
}

// LoginWithGoogle finds or creates the user behind a verified Google identity.
// An existing password user with the same email is linked to the Google subject.
func (s *UserService) LoginWithGoogle(identity *Identity) (*models.User, error) {
	address, err := normalizeEmail(identity.Email)
	if err != nil {
		return nil, err
	}

	var foundUser models.User
	err = s.db.Where("google_id = ?", identity.Subject).First(&foundUser).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.Where("email = ?", address).First(&foundUser).Error
	}

	switch {
	case err == nil:
		updates := map[string]interface{}{"google_id": identity.Subject}
		if foundUser.FullName == "" && identity.Name != "" {
			updates["full_name"] = identity.Name
			foundUser.FullName = identity.Name
		}
		if err := s.db.Model(&foundUser).Updates(updates).Error; err != nil {
			return nil, err
		}
		subject := identity.Subject
		foundUser.GoogleID = &subject
	case errors.Is(err, gorm.ErrRecordNotFound):
		subject := identity.Subject
		foundUser = models.User{
			Email:       address,
			FullName:    identity.Name,
			Role:        models.RoleExecutive,
			GoogleID:    &subject,
			IsActive:    true,
			Preferences: "{}",
		}
		if err := s.db.Create(&foundUser).Error; err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if !foundUser.IsActive {
		return nil, ErrUserInactive
	}
	s.touchLastLogin(&foundUser)
	return &foundUser, nil
}

func (s *UserService) touchLastLogin(u *models.User) {
	now := time.Now().UTC()
	if err := s.db.Model(u).Update("last_login", now).Error; err == nil {
		u.LastLogin = &now
	}
}

// ChangePassword changes a user's password
func (s *UserService) ChangePassword(id uint, oldPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return err
	}

	if !ComparePassword(foundUser.PasswordHash, oldPassword) {
		return ErrInvalidCredentials
	}

	return s.setPassword(foundUser, newPassword)
}

// ResetPassword resets a user's password (admin operation)
func (s *UserService) ResetPassword(id uint, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	foundUser, err := s.GetUserByID(id)
	if err != nil {
		return err
	}

	return s.setPassword(foundUser, newPassword)
}

func (s *UserService) setPassword(u *models.User, password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hashedPassword
	return s.db.Model(u).Update("password_hash", hashedPassword).Error
}

// IsPasswordHashed checks if a string looks like a bcrypt hash
func IsPasswordHashed(password string) bool {
	// bcrypt hashes start with $2a$, $2b$, or $2y$
	if len(password) < 4 {
		return false
	}
	return password[:4] == "$2a$" || password[:4] == "$2b$" || password[:4] == "$2y$"
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// ComparePassword compares a password with a hash
func ComparePassword(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}
