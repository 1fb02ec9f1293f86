package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// Payment errors.
var (
	ErrPendingNotFound      = errors.New("pending payment not found")
	ErrPendingNotOpen       = errors.New("pending payment already resolved")
	ErrReferenceAlreadyUsed = errors.New("payment reference already used")
)

const pendingColumns = `id, user_id, subject_id, amount, payment_method, reference, status, created_at`

// PaymentRepository handles payment records, the pending-approval queue and
// the admin audit trail.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository creates a new PaymentRepository instance.
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *PaymentRepository) WithTx(tx pgx.Tx) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

// InsertPayment records one payment attempt in the audit ledger.
func (r *PaymentRepository) InsertPayment(ctx context.Context, p *model.Payment) (int64, error) {
	const query = `
		INSERT INTO payments (user_id, subject_id, amount, method, reference, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRow(ctx, query, p.UserID, p.SubjectID, p.Amount, p.Method, p.Reference, p.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert payment: %w", err)
	}
	return id, nil
}

// SettleMatching moves the user's open payment rows matching a resolved
// claim (same subject and amount) to a terminal status and returns how many
// rows moved. Zero means no mirrored row existed and the caller inserts one.
func (r *PaymentRepository) SettleMatching(ctx context.Context, userID, subjectID, amount int64, status string) (int64, error) {
	const query = `
		UPDATE payments
		SET status = $4
		WHERE user_id = $1 AND subject_id = $2 AND amount = $3 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, userID, subjectID, amount, status)
	if err != nil {
		return 0, fmt.Errorf("failed to settle matching payments: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountReference counts how many payment or pending-payment rows carry the
// given reference. The offline validator treats any prior use as a duplicate.
func (r *PaymentRepository) CountReference(ctx context.Context, reference string) (int, error) {
	const query = `
		SELECT (SELECT COUNT(*) FROM payments WHERE reference = $1)
		     + (SELECT COUNT(*) FROM pending_payments WHERE reference = $1)
	`

	var count int
	if err := r.db.QueryRow(ctx, query, reference).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count reference uses: %w", err)
	}
	return count, nil
}

// CountReferenceByUser counts payment rows with the given reference submitted
// by one user, for the flood heuristic.
func (r *PaymentRepository) CountReferenceByUser(ctx context.Context, reference string, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM payments WHERE reference = $1 AND user_id = $2`

	var count int
	if err := r.db.QueryRow(ctx, query, reference, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count reference uses by user: %w", err)
	}
	return count, nil
}

// HasOpenPending reports whether the user already has an unresolved claim
// for the subject.
func (r *PaymentRepository) HasOpenPending(ctx context.Context, userID, subjectID int64) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM pending_payments
			WHERE user_id = $1 AND subject_id = $2 AND status = 'pending'
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, subjectID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check open pending payment: %w", err)
	}
	return exists, nil
}

func scanPending(row pgx.Row) (*model.PendingPayment, error) {
	var p model.PendingPayment
	err := row.Scan(&p.ID, &p.UserID, &p.SubjectID, &p.Amount, &p.PaymentMethod, &p.Reference, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertPending queues a payment claim for admin review.
func (r *PaymentRepository) InsertPending(ctx context.Context, p *model.PendingPayment) (*model.PendingPayment, error) {
	const query = `
		INSERT INTO pending_payments (user_id, subject_id, amount, payment_method, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + pendingColumns

	pending, err := scanPending(r.db.QueryRow(ctx, query, p.UserID, p.SubjectID, p.Amount, p.PaymentMethod, p.Reference))
	if err != nil {
		return nil, fmt.Errorf("failed to insert pending payment: %w", err)
	}
	return pending, nil
}

// GetPending retrieves one pending payment by id.
func (r *PaymentRepository) GetPending(ctx context.Context, id int64) (*model.PendingPayment, error) {
	const query = `SELECT ` + pendingColumns + ` FROM pending_payments WHERE id = $1`

	pending, err := scanPending(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("failed to get pending payment: %w", err)
	}
	return pending, nil
}

// ListPending returns the open review queue, oldest first.
func (r *PaymentRepository) ListPending(ctx context.Context) ([]model.PendingPayment, error) {
	const query = `SELECT ` + pendingColumns + ` FROM pending_payments WHERE status = 'pending' ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	defer rows.Close()

	var pendings []model.PendingPayment
	for rows.Next() {
		var p model.PendingPayment
		if err := rows.Scan(&p.ID, &p.UserID, &p.SubjectID, &p.Amount, &p.PaymentMethod, &p.Reference, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending payment: %w", err)
		}
		pendings = append(pendings, p)
	}
	return pendings, rows.Err()
}

// ResolvePending moves an open pending payment to a terminal status. The
// status guard in the WHERE clause makes double-approval a no-op at the SQL
// level; callers see ErrPendingNotOpen.
func (r *PaymentRepository) ResolvePending(ctx context.Context, id int64, status string) error {
	const query = `UPDATE pending_payments SET status = $2 WHERE id = $1 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to resolve pending payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPendingNotOpen
	}
	return nil
}

// InsertAudit records an admin action on a pending payment.
func (r *PaymentRepository) InsertAudit(ctx context.Context, pendingID int64, adminUserID *int64, action string, notes *string) error {
	const query = `
		INSERT INTO payment_audit (pending_id, admin_user_id, action, notes)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.db.Exec(ctx, query, pendingID, adminUserID, action, notes); err != nil {
		return fmt.Errorf("failed to insert payment audit: %w", err)
	}
	return nil
}

// TotalRevenue sums completed payments, optionally bounded by [from, to).
func (r *PaymentRepository) TotalRevenue(ctx context.Context, from, to *time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE status = 'completed'
			AND ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at < $2)
	`

	var total int64
	if err := r.db.QueryRow(ctx, query, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to total revenue: %w", err)
	}
	return total, nil
}

// SubjectSales is one row of the sales-by-subject report.
type SubjectSales struct {
	SubjectID int64
	Subject   string
	Count     int64
	Revenue   int64
}

// SalesBySubject breaks completed payments down per subject.
func (r *PaymentRepository) SalesBySubject(ctx context.Context) ([]SubjectSales, error) {
	const query = `
		SELECT s.id, s.name, COUNT(p.id), COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN subjects s ON s.id = p.subject_id
		WHERE p.status = 'completed'
		GROUP BY s.id, s.name
		ORDER BY SUM(p.amount) DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales by subject: %w", err)
	}
	defer rows.Close()

	var sales []SubjectSales
	for rows.Next() {
		var s SubjectSales
		if err := rows.Scan(&s.SubjectID, &s.Subject, &s.Count, &s.Revenue); err != nil {
			return nil, fmt.Errorf("failed to scan subject sales: %w", err)
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// MethodStats is one row of the payments-by-method report.
type MethodStats struct {
	Method string
	Count  int64
	Amount int64
}

// StatsByMethod breaks completed payments down per payment method.
func (r *PaymentRepository) StatsByMethod(ctx context.Context) ([]MethodStats, error) {
	const query = `
		SELECT method, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments
		WHERE status = 'completed'
		GROUP BY method
		ORDER BY COUNT(*) DESC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment stats: %w", err)
	}
	defer rows.Close()

	var stats []MethodStats
	for rows.Next() {
		var s MethodStats
		if err := rows.Scan(&s.Method, &s.Count, &s.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan payment stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
