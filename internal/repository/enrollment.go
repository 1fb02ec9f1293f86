package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// ErrEnrollmentNotFound is returned when a (user, subject) pair has no row.
var ErrEnrollmentNotFound = errors.New("enrollment not found")

const enrollmentColumns = `id, user_id, subject_id, amount, amount_pieces, paid,
	payment_method, payment_status, unlocked_via_reward, start_date, expiry_date, created_at`

// EnrollmentRepository handles enrollment rows. The UNIQUE (user_id,
// subject_id) constraint keeps one row per pair; renewals update that row in
// place instead of stacking a second one.
type EnrollmentRepository struct {
	db DBTX
}

// NewEnrollmentRepository creates a new EnrollmentRepository instance.
func NewEnrollmentRepository(db DBTX) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *EnrollmentRepository) WithTx(tx pgx.Tx) *EnrollmentRepository {
	return &EnrollmentRepository{db: tx}
}

func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	var e model.Enrollment
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.SubjectID,
		&e.Amount,
		&e.AmountPieces,
		&e.Paid,
		&e.PaymentMethod,
		&e.PaymentStatus,
		&e.UnlockedViaReward,
		&e.StartDate,
		&e.ExpiryDate,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Get retrieves the enrollment for a (user, subject) pair.
func (r *EnrollmentRepository) Get(ctx context.Context, userID, subjectID int64) (*model.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 AND subject_id = $2`

	enrollment, err := scanEnrollment(r.db.QueryRow(ctx, query, userID, subjectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return enrollment, nil
}

// Upsert inserts the enrollment for a (user, subject) pair, or overwrites
// the existing row in place. Renewals and method changes are updates of the
// one row, never a second row.
func (r *EnrollmentRepository) Upsert(ctx context.Context, e *model.Enrollment) (*model.Enrollment, error) {
	const query = `
		INSERT INTO enrollments (user_id, subject_id, amount, amount_pieces, paid,
			payment_method, payment_status, unlocked_via_reward, start_date, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, subject_id) DO UPDATE
		SET amount = EXCLUDED.amount,
			amount_pieces = EXCLUDED.amount_pieces,
			paid = EXCLUDED.paid,
			payment_method = EXCLUDED.payment_method,
			payment_status = EXCLUDED.payment_status,
			unlocked_via_reward = EXCLUDED.unlocked_via_reward,
			start_date = EXCLUDED.start_date,
			expiry_date = EXCLUDED.expiry_date
		RETURNING ` + enrollmentColumns

	upserted, err := scanEnrollment(r.db.QueryRow(ctx, query,
		e.UserID, e.SubjectID, e.Amount, e.AmountPieces, e.Paid,
		e.PaymentMethod, e.PaymentStatus, e.UnlockedViaReward, e.StartDate, e.ExpiryDate,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert enrollment: %w", err)
	}
	return upserted, nil
}

// MarkPaid flips the matching unpaid enrollment to paid and stamps its
// validity window. The paid and amount predicates keep a stale claim from
// restamping a row the user already activated another way; zero rows
// affected is a valid outcome the caller inspects.
func (r *EnrollmentRepository) MarkPaid(ctx context.Context, userID, subjectID, amount int64, start, expiry time.Time) (int64, error) {
	const query = `
		UPDATE enrollments
		SET paid = TRUE, payment_status = 'paid', start_date = $4, expiry_date = $5
		WHERE user_id = $1 AND subject_id = $2 AND amount = $3 AND paid = FALSE
	`

	tag, err := r.db.Exec(ctx, query, userID, subjectID, amount, start, expiry)
	if err != nil {
		return 0, fmt.Errorf("failed to mark enrollment paid: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkFailed records a rejected payment on the enrollment row.
func (r *EnrollmentRepository) MarkFailed(ctx context.Context, userID, subjectID int64) error {
	const query = `
		UPDATE enrollments
		SET payment_status = 'failed'
		WHERE user_id = $1 AND subject_id = $2 AND paid = FALSE
	`

	if _, err := r.db.Exec(ctx, query, userID, subjectID); err != nil {
		return fmt.Errorf("failed to mark enrollment failed: %w", err)
	}
	return nil
}

// ListByUser returns all of a user's enrollment rows, newest first.
func (r *EnrollmentRepository) ListByUser(ctx context.Context, userID int64) ([]model.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 ORDER BY created_at DESC`

	return r.list(ctx, query, userID)
}

// ListActive returns the user's paid, unexpired enrollments. A paid row
// with no expiry date is treated as expired, never active-forever. Callers
// prune expired rows first so the two steps stay observable in isolation.
func (r *EnrollmentRepository) ListActive(ctx context.Context, userID int64, now time.Time) ([]model.Enrollment, error) {
	const query = `
		SELECT ` + enrollmentColumns + `
		FROM enrollments
		WHERE user_id = $1 AND paid = TRUE AND expiry_date > $2
		ORDER BY created_at DESC
	`

	return r.list(ctx, query, userID, now)
}

// PruneExpired deletes the user's paid enrollments whose validity window has
// closed (or was never stamped) and returns how many were removed. Unpaid
// placeholder rows from the pending flow are left alone.
func (r *EnrollmentRepository) PruneExpired(ctx context.Context, userID int64, now time.Time) (int64, error) {
	const query = `
		DELETE FROM enrollments
		WHERE user_id = $1 AND paid = TRUE AND (expiry_date IS NULL OR expiry_date <= $2)
	`

	tag, err := r.db.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired enrollments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *EnrollmentRepository) list(ctx context.Context, query string, args ...any) ([]model.Enrollment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		err := rows.Scan(
			&e.ID, &e.UserID, &e.SubjectID, &e.Amount, &e.AmountPieces, &e.Paid,
			&e.PaymentMethod, &e.PaymentStatus, &e.UnlockedViaReward, &e.StartDate, &e.ExpiryDate, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}
