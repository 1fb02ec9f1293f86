package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"edubox-core/internal/model"
	"edubox-core/internal/repository"
)

// Account service errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrNotAdmin           = errors.New("user is not an admin")
	ErrPINNotSet          = errors.New("admin pin not set")
	ErrInvalidPIN         = errors.New("invalid admin pin")
	ErrEmailTaken         = repository.ErrEmailTaken
)

// AccountService handles registration, authentication and profile updates.
// Passwords and admin PINs are stored as bcrypt hashes.
type AccountService struct {
	users *repository.UserRepository
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(users *repository.UserRepository) *AccountService {
	return &AccountService{users: users}
}

// Register creates a new account with a hashed password.
func (s *AccountService) Register(ctx context.Context, name, email, password, role string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}
	if role != model.RoleAdmin {
		role = model.RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, strings.TrimSpace(name), email, string(hash), role)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("user_id", user.ID).Str("role", user.Role).Msg("account registered")
	return user, nil
}

// Authenticate checks credentials and returns the account. A missing account
// and a wrong password are indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GetProfile returns the account by id.
func (s *AccountService) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdateProfile updates the display name.
func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, name string) error {
	return s.users.UpdateName(ctx, userID, strings.TrimSpace(name))
}

// UpdatePassword replaces the password after verifying the current one.
func (s *AccountService) UpdatePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 6 {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, string(hash))
}

// SetAdminPIN stores the approval PIN for an admin account.
func (s *AccountService) SetAdminPIN(ctx context.Context, userID int64, pin string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role != model.RoleAdmin {
		return ErrNotAdmin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.users.SetAdminPIN(ctx, userID, string(hash))
}

// VerifyAdminPIN checks an admin's approval PIN.
func (s *AccountService) VerifyAdminPIN(ctx context.Context, userID int64, pin string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role != model.RoleAdmin {
		return ErrNotAdmin
	}
	if user.AdminPINHash == nil {
		return ErrPINNotSet
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.AdminPINHash), []byte(pin)) != nil {
		return ErrInvalidPIN
	}
	return nil
}

// SetLastSubject remembers the subject the user last opened.
func (s *AccountService) SetLastSubject(ctx context.Context, userID int64, subject string) error {
	return s.users.SetLastSubject(ctx, userID, subject)
}
