package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// EngagementRepository handles the per-user daily engagement state and the
// confirmed-day history that backs the calendar view.
type EngagementRepository struct {
	db DBTX
}

// NewEngagementRepository creates a new EngagementRepository instance.
func NewEngagementRepository(db DBTX) *EngagementRepository {
	return &EngagementRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *EngagementRepository) WithTx(tx pgx.Tx) *EngagementRepository {
	return &EngagementRepository{db: tx}
}

// Get returns the user's engagement state. A user who has never engaged gets
// a zero-value record rather than an error.
func (r *EngagementRepository) Get(ctx context.Context, userID int64) (*model.EngagementRecord, error) {
	const query = `
		SELECT user_id, streak, last_login_date, last_confirmed_date,
		       quiz_count_today, quiz_count_date, monthly_awarded, ninety_awarded
		FROM daily_engagement
		WHERE user_id = $1
	`

	var rec model.EngagementRecord
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.Streak,
		&rec.LastLoginDate,
		&rec.LastConfirmedDate,
		&rec.QuizCountToday,
		&rec.QuizCountDate,
		&rec.MonthlyAwarded,
		&rec.NinetyAwarded,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.EngagementRecord{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get engagement: %w", err)
	}
	return &rec, nil
}

// IncrementQuizCount bumps today's quiz counter and returns the new count.
// The counter resets implicitly when the stored date is not today, so a
// count left over from yesterday never leaks into a new day.
func (r *EngagementRepository) IncrementQuizCount(ctx context.Context, userID int64, day time.Time) (int, error) {
	const query = `
		INSERT INTO daily_engagement (user_id, quiz_count_today, quiz_count_date)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET quiz_count_today = CASE
				WHEN daily_engagement.quiz_count_date = EXCLUDED.quiz_count_date
				THEN daily_engagement.quiz_count_today + 1
				ELSE 1
			END,
			quiz_count_date = EXCLUDED.quiz_count_date
		RETURNING quiz_count_today
	`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, day).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment quiz count: %w", err)
	}
	return count, nil
}

// RecordLogin writes the streak state produced by a daily login.
func (r *EngagementRepository) RecordLogin(ctx context.Context, userID int64, day time.Time, streak int, monthlyAwarded, ninetyAwarded bool) error {
	const query = `
		INSERT INTO daily_engagement (user_id, streak, last_login_date, monthly_awarded, ninety_awarded)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET streak = EXCLUDED.streak,
			last_login_date = EXCLUDED.last_login_date,
			monthly_awarded = EXCLUDED.monthly_awarded,
			ninety_awarded = EXCLUDED.ninety_awarded
	`

	if _, err := r.db.Exec(ctx, query, userID, streak, day, monthlyAwarded, ninetyAwarded); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// RecordConfirmation writes the streak state produced by confirming the
// daily quiz threshold.
func (r *EngagementRepository) RecordConfirmation(ctx context.Context, userID int64, day time.Time, streak int, monthlyAwarded, ninetyAwarded bool) error {
	const query = `
		INSERT INTO daily_engagement (user_id, streak, last_confirmed_date, monthly_awarded, ninety_awarded)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET streak = EXCLUDED.streak,
			last_confirmed_date = EXCLUDED.last_confirmed_date,
			monthly_awarded = EXCLUDED.monthly_awarded,
			ninety_awarded = EXCLUDED.ninety_awarded
	`

	if _, err := r.db.Exec(ctx, query, userID, streak, day, monthlyAwarded, ninetyAwarded); err != nil {
		return fmt.Errorf("failed to record confirmation: %w", err)
	}
	return nil
}

// InsertHistory marks a day as confirmed in the calendar history. Safe to
// call twice for the same day.
func (r *EngagementRepository) InsertHistory(ctx context.Context, userID int64, day time.Time, pieces int) error {
	const query = `
		INSERT INTO engagement_history (user_id, date, pieces_awarded)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, userID, day, pieces); err != nil {
		return fmt.Errorf("failed to insert engagement history: %w", err)
	}
	return nil
}

// History returns the confirmed days in [from, to], oldest first.
func (r *EngagementRepository) History(ctx context.Context, userID int64, from, to time.Time) ([]model.EngagementDay, error) {
	const query = `
		SELECT date, pieces_awarded
		FROM engagement_history
		WHERE user_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date
	`

	rows, err := r.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement history: %w", err)
	}
	defer rows.Close()

	var days []model.EngagementDay
	for rows.Next() {
		var d model.EngagementDay
		if err := rows.Scan(&d.Date, &d.Pieces); err != nil {
			return nil, fmt.Errorf("failed to scan engagement day: %w", err)
		}
		d.Finalized = true
		days = append(days, d)
	}
	return days, rows.Err()
}
