package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// AchievementRepository stores awarded badges. Awards are append-only;
// earning the same badge twice simply adds a second row.
type AchievementRepository struct {
	db DBTX
}

// NewAchievementRepository creates a new AchievementRepository instance.
func NewAchievementRepository(db DBTX) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *AchievementRepository) WithTx(tx pgx.Tx) *AchievementRepository {
	return &AchievementRepository{db: tx}
}

// Award records a badge for a user.
func (r *AchievementRepository) Award(ctx context.Context, userID int64, badge string) (int64, error) {
	const query = `INSERT INTO achievements (user_id, badge) VALUES ($1, $2) RETURNING id`

	var id int64
	if err := r.db.QueryRow(ctx, query, userID, badge).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to award badge: %w", err)
	}
	return id, nil
}

// ListByUser returns the user's badges, newest first.
func (r *AchievementRepository) ListByUser(ctx context.Context, userID int64) ([]model.Achievement, error) {
	const query = `
		SELECT id, user_id, badge, awarded_at
		FROM achievements
		WHERE user_id = $1
		ORDER BY awarded_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var achievements []model.Achievement
	for rows.Next() {
		var a model.Achievement
		if err := rows.Scan(&a.ID, &a.UserID, &a.Badge, &a.AwardedAt); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		achievements = append(achievements, a)
	}
	return achievements, rows.Err()
}
