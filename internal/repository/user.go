package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

const userColumns = `id, name, email, password_hash, role, admin_pin_hash, xp, level, total_score, last_subject, created_at`

// UserRepository handles user account persistence.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.AdminPINHash,
		&u.XP,
		&u.Level,
		&u.TotalScore,
		&u.LastSubject,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user account. Emails are stored lowercase and must be
// unique.
func (r *UserRepository) Create(ctx context.Context, name, email, passwordHash, role string) (*model.User, error) {
	const query = `
		INSERT INTO users (name, email, password_hash, role)
		VALUES ($1, LOWER($2), $3, $4)
		RETURNING ` + userColumns

	user, err := scanUser(r.db.QueryRow(ctx, query, name, email, passwordHash, role))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by id. Returns ErrUserNotFound if missing.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = LOWER($1)`

	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// Exists checks if a user with the given id exists.
func (r *UserRepository) Exists(ctx context.Context, id int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// AddXP adds earned XP and recomputes the level in the same statement.
// Level is a pure derivation: xp / xpPerLevel.
func (r *UserRepository) AddXP(ctx context.Context, id int64, earned int64, xpPerLevel int64) (int, error) {
	const query = `
		UPDATE users
		SET xp = xp + $2, level = (xp + $2) / $3
		WHERE id = $1
		RETURNING level
	`

	var level int
	err := r.db.QueryRow(ctx, query, id, earned, xpPerLevel).Scan(&level)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to add xp: %w", err)
	}
	return level, nil
}

// RefreshTotalScore recomputes users.total_score from the all-time score
// events and returns the new total.
func (r *UserRepository) RefreshTotalScore(ctx context.Context, id int64) (int64, error) {
	const query = `
		UPDATE users
		SET total_score = (SELECT COALESCE(SUM(points), 0) FROM score_events WHERE user_id = $1)
		WHERE id = $1
		RETURNING total_score
	`

	var total int64
	err := r.db.QueryRow(ctx, query, id).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to refresh total score: %w", err)
	}
	return total, nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateName updates the display name.
func (r *UserRepository) UpdateName(ctx context.Context, id int64, name string) error {
	const query = `UPDATE users SET name = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, name)
	if err != nil {
		return fmt.Errorf("failed to update name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetAdminPIN stores the bcrypt hash of an admin's approval PIN.
func (r *UserRepository) SetAdminPIN(ctx context.Context, id int64, pinHash string) error {
	const query = `UPDATE users SET admin_pin_hash = $2 WHERE id = $1 AND role = 'admin'`

	tag, err := r.db.Exec(ctx, query, id, pinHash)
	if err != nil {
		return fmt.Errorf("failed to set admin pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetLastSubject remembers the subject a user last opened.
func (r *UserRepository) SetLastSubject(ctx context.Context, id int64, subject string) error {
	const query = `UPDATE users SET last_subject = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, subject)
	if err != nil {
		return fmt.Errorf("failed to set last subject: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
