package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"edubox-core/internal/model"
)

// ErrNotRanked is returned when a user has no scores in the requested period.
var ErrNotRanked = errors.New("user not ranked")

// ScoreRepository handles the append-only score ledger. Every score lands in
// the all-time table and in the daily, weekly and monthly roll-up tables;
// leaderboards are aggregations over those rows, never mutations of a
// standings table.
type ScoreRepository struct {
	db DBTX
}

// NewScoreRepository creates a new ScoreRepository instance.
func NewScoreRepository(db DBTX) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// WithTx returns a copy of the repository bound to an open transaction.
func (r *ScoreRepository) WithTx(tx pgx.Tx) *ScoreRepository {
	return &ScoreRepository{db: tx}
}

// Record appends one score event across all four period tables. day, week
// and month are the period keys the event falls into.
func (r *ScoreRepository) Record(ctx context.Context, userID int64, username, subject string, points int64, day time.Time, week, month string) error {
	const allTime = `
		INSERT INTO score_events (user_id, username, subject, points)
		VALUES ($1, $2, $3, $4)
	`
	const daily = `
		INSERT INTO daily_scores (user_id, username, subject, points, date)
		VALUES ($1, $2, $3, $4, $5)
	`
	const weekly = `
		INSERT INTO weekly_scores (user_id, username, subject, points, week)
		VALUES ($1, $2, $3, $4, $5)
	`
	const monthly = `
		INSERT INTO monthly_scores (user_id, username, subject, points, month)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.db.Exec(ctx, allTime, userID, username, subject, points); err != nil {
		return fmt.Errorf("failed to record all-time score: %w", err)
	}
	if _, err := r.db.Exec(ctx, daily, userID, username, subject, points, day); err != nil {
		return fmt.Errorf("failed to record daily score: %w", err)
	}
	if _, err := r.db.Exec(ctx, weekly, userID, username, subject, points, week); err != nil {
		return fmt.Errorf("failed to record weekly score: %w", err)
	}
	if _, err := r.db.Exec(ctx, monthly, userID, username, subject, points, month); err != nil {
		return fmt.Errorf("failed to record monthly score: %w", err)
	}
	return nil
}

// leaderboardQuery builds the aggregation for one period table, optionally
// narrowed to a single subject. Ties on points break in favor of whoever
// scored first.
func leaderboardQuery(table, keyColumn string, bySubject bool) string {
	where := keyColumn + ` = $1`
	if bySubject {
		where += ` AND subject = $4`
	}
	return `
		SELECT username, SUM(points) AS points, COUNT(*) AS quiz_count
		FROM ` + table + `
		WHERE ` + where + `
		GROUP BY username
		ORDER BY points DESC, MIN(created_at) ASC
		LIMIT $2 OFFSET $3
	`
}

func (r *ScoreRepository) queryEntries(ctx context.Context, query string, args ...any) ([]model.LeaderboardEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Points, &e.QuizCount); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *ScoreRepository) periodEntries(ctx context.Context, table, keyColumn string, key any, subject string, limit, offset int) ([]model.LeaderboardEntry, error) {
	if subject == "" {
		return r.queryEntries(ctx, leaderboardQuery(table, keyColumn, false), key, limit, offset)
	}
	return r.queryEntries(ctx, leaderboardQuery(table, keyColumn, true), key, limit, offset, subject)
}

// DailyLeaderboard aggregates one calendar day. A non-empty subject narrows
// the board to that subject's events.
func (r *ScoreRepository) DailyLeaderboard(ctx context.Context, day time.Time, subject string, limit, offset int) ([]model.LeaderboardEntry, error) {
	return r.periodEntries(ctx, "daily_scores", "date", day, subject, limit, offset)
}

// WeeklyLeaderboard aggregates one ISO week key ("2025-W07").
func (r *ScoreRepository) WeeklyLeaderboard(ctx context.Context, week, subject string, limit, offset int) ([]model.LeaderboardEntry, error) {
	return r.periodEntries(ctx, "weekly_scores", "week", week, subject, limit, offset)
}

// MonthlyLeaderboard aggregates one month key ("2025-02").
func (r *ScoreRepository) MonthlyLeaderboard(ctx context.Context, month, subject string, limit, offset int) ([]model.LeaderboardEntry, error) {
	return r.periodEntries(ctx, "monthly_scores", "month", month, subject, limit, offset)
}

// AllTimeLeaderboard aggregates the full event history. A non-empty subject
// restricts the board to that subject's events.
func (r *ScoreRepository) AllTimeLeaderboard(ctx context.Context, subject string, limit, offset int) ([]model.LeaderboardEntry, error) {
	const overall = `
		SELECT username, SUM(points) AS points, COUNT(*) AS quiz_count
		FROM score_events
		GROUP BY username
		ORDER BY points DESC, MIN(created_at) ASC
		LIMIT $1 OFFSET $2
	`
	const bySubject = `
		SELECT username, SUM(points) AS points, COUNT(*) AS quiz_count
		FROM score_events
		WHERE subject = $3
		GROUP BY username
		ORDER BY points DESC, MIN(created_at) ASC
		LIMIT $1 OFFSET $2
	`

	if subject == "" {
		return r.queryEntries(ctx, overall, limit, offset)
	}
	return r.queryEntries(ctx, bySubject, limit, offset, subject)
}

// AllTimeRank returns a user's 1-based position and aggregate on the
// all-time board.
func (r *ScoreRepository) AllTimeRank(ctx context.Context, username string) (int, *model.LeaderboardEntry, error) {
	const query = `
		WITH standings AS (
			SELECT username, SUM(points) AS points, COUNT(*) AS quiz_count,
			       ROW_NUMBER() OVER (ORDER BY SUM(points) DESC, MIN(created_at) ASC) AS rank
			FROM score_events
			GROUP BY username
		)
		SELECT rank, username, points, quiz_count FROM standings WHERE username = $1
	`

	var (
		rank  int
		entry model.LeaderboardEntry
	)
	err := r.db.QueryRow(ctx, query, username).Scan(&rank, &entry.Username, &entry.Points, &entry.QuizCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrNotRanked
		}
		return 0, nil, fmt.Errorf("failed to get rank: %w", err)
	}
	return rank, &entry, nil
}
