package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// ErrNoFreeUnlock is returned when a user has no unclaimed free unlock.
var ErrNoFreeUnlock = errors.New("no unclaimed free unlock")

// FreeUnlockRepository handles the 90-day streak subject grants.
type FreeUnlockRepository struct {
	db DBTX
}

// NewFreeUnlockRepository creates a new FreeUnlockRepository instance.
func NewFreeUnlockRepository(db DBTX) *FreeUnlockRepository {
	return &FreeUnlockRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *FreeUnlockRepository) WithTx(tx pgx.Tx) *FreeUnlockRepository {
	return &FreeUnlockRepository{db: tx}
}

// Grant issues a new unclaimed unlock to the user.
func (r *FreeUnlockRepository) Grant(ctx context.Context, userID int64) (int64, error) {
	const query = `INSERT INTO free_unlocks (user_id) VALUES ($1) RETURNING id`

	var id int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to grant free unlock: %w", err)
	}
	return id, nil
}

// ListUnclaimed returns the user's spendable unlocks, oldest first.
func (r *FreeUnlockRepository) ListUnclaimed(ctx context.Context, userID int64) ([]model.FreeUnlock, error) {
	const query = `
		SELECT id, user_id, claimed, claimed_subject_id, granted_at
		FROM free_unlocks
		WHERE user_id = $1 AND claimed = FALSE
		ORDER BY granted_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list free unlocks: %w", err)
	}
	defer rows.Close()

	var unlocks []model.FreeUnlock
	for rows.Next() {
		var u model.FreeUnlock
		if err := rows.Scan(&u.ID, &u.UserID, &u.Claimed, &u.ClaimedSubjectID, &u.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan free unlock: %w", err)
		}
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// ClaimOldest spends the user's oldest unclaimed unlock on a subject. The
// claimed guard in the WHERE clause prevents double-spending.
func (r *FreeUnlockRepository) ClaimOldest(ctx context.Context, userID, subjectID int64) error {
	const query = `
		UPDATE free_unlocks
		SET claimed = TRUE, claimed_subject_id = $2
		WHERE id = (
			SELECT id FROM free_unlocks
			WHERE user_id = $1 AND claimed = FALSE
			ORDER BY granted_at
			LIMIT 1
		) AND claimed = FALSE
	`

	tag, err := r.db.Exec(ctx, query, userID, subjectID)
	if err != nil {
		return fmt.Errorf("failed to claim free unlock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoFreeUnlock
	}
	return nil
}
