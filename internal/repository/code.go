package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// Offline code errors.
var (
	ErrCodeNotFound = errors.New("offline code not found")
	ErrCodeRedeemed = errors.New("offline code already redeemed")
)

const codeColumns = `id, code, subject_id, amount, redeemed, redeemed_by, redeemed_at`

// CodeRepository handles single-use offline redemption codes.
type CodeRepository struct {
	db DBTX
}

// NewCodeRepository creates a new CodeRepository instance.
func NewCodeRepository(db DBTX) *CodeRepository {
	return &CodeRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *CodeRepository) WithTx(tx pgx.Tx) *CodeRepository {
	return &CodeRepository{db: tx}
}

// InsertBatch stores a freshly generated batch of codes.
func (r *CodeRepository) InsertBatch(ctx context.Context, codes []model.OfflineCode) error {
	const query = `
		INSERT INTO offline_codes (code, subject_id, amount)
		VALUES ($1, $2, $3)
	`

	for _, c := range codes {
		if _, err := r.db.Exec(ctx, query, c.Code, c.SubjectID, c.Amount); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("duplicate code %s: %w", c.Code, err)
			}
			return fmt.Errorf("failed to insert offline code: %w", err)
		}
	}
	return nil
}

// GetByCode retrieves a code by its token.
func (r *CodeRepository) GetByCode(ctx context.Context, code string) (*model.OfflineCode, error) {
	const query = `SELECT ` + codeColumns + ` FROM offline_codes WHERE code = $1`

	var c model.OfflineCode
	err := r.db.QueryRow(ctx, query, code).Scan(
		&c.ID, &c.Code, &c.SubjectID, &c.Amount, &c.Redeemed, &c.RedeemedBy, &c.RedeemedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get offline code: %w", err)
	}
	return &c, nil
}

// Redeem burns a code for a user. The redeemed guard lives in the WHERE
// clause, so two concurrent redemptions of the same code cannot both win.
func (r *CodeRepository) Redeem(ctx context.Context, code string, userID int64, at time.Time) (*model.OfflineCode, error) {
	const query = `
		UPDATE offline_codes
		SET redeemed = TRUE, redeemed_by = $2, redeemed_at = $3
		WHERE code = $1 AND redeemed = FALSE
		RETURNING ` + codeColumns

	var c model.OfflineCode
	err := r.db.QueryRow(ctx, query, code, userID, at).Scan(
		&c.ID, &c.Code, &c.SubjectID, &c.Amount, &c.Redeemed, &c.RedeemedBy, &c.RedeemedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a burnt code from a bogus one.
			if _, getErr := r.GetByCode(ctx, code); getErr == nil {
				return nil, ErrCodeRedeemed
			}
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to redeem offline code: %w", err)
	}
	return &c, nil
}

// RedemptionStats counts issued vs redeemed codes.
func (r *CodeRepository) RedemptionStats(ctx context.Context) (issued, redeemed int64, err error) {
	const query = `SELECT COUNT(*), COUNT(*) FILTER (WHERE redeemed) FROM offline_codes`

	if err := r.db.QueryRow(ctx, query).Scan(&issued, &redeemed); err != nil {
		return 0, 0, fmt.Errorf("failed to get redemption stats: %w", err)
	}
	return issued, redeemed, nil
}
