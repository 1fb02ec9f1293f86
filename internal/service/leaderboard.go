package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"edubox-core/internal/config"
	"edubox-core/internal/model"
	"edubox-core/internal/pkg/db"
	"edubox-core/internal/repository"
)

// Leaderboard service errors
var (
	ErrUnknownPeriod        = errors.New("unknown leaderboard period")
	ErrUnknownMode          = errors.New("unknown leaderboard mode")
	ErrSubjectFilterMissing = errors.New("subject mode requires a subject")
	ErrNotRanked            = repository.ErrNotRanked
)

// BoardQuery selects one page of standings: a mode (overall, or narrowed to
// one subject), a period, and the page window. An empty mode is inferred
// from whether a subject is given.
type BoardQuery struct {
	Mode     string
	Subject  string
	Period   string
	Page     int
	PageSize int
}

// LeaderboardService serves the ranked standings. Standings are always
// computed from the append-only score tables, so a replayed or late event
// simply lands in its bucket and the next read reflects it.
type LeaderboardService struct {
	pool   *db.Pool
	users  *repository.UserRepository
	scores *repository.ScoreRepository
	cfg    config.LeaderboardConfig
	now    func() time.Time
}

// NewLeaderboardService creates a new LeaderboardService instance.
func NewLeaderboardService(pool *db.Pool, users *repository.UserRepository, scores *repository.ScoreRepository, cfg config.LeaderboardConfig) *LeaderboardService {
	return &LeaderboardService{
		pool:   pool,
		users:  users,
		scores: scores,
		cfg:    cfg,
		now:    time.Now,
	}
}

// SetClock overrides the service clock for tests.
func (s *LeaderboardService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordScore appends one quiz score: the all-time event plus the daily,
// weekly and monthly rows, and the user's denormalized total, all in one
// transaction.
func (s *LeaderboardService) RecordScore(ctx context.Context, userID int64, subject string, points int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = s.scores.WithTx(tx).Record(ctx, userID, user.Name, subject, points,
		dateOnly(now), weekKey(now), monthKey(now))
	if err != nil {
		return err
	}
	if _, err := s.users.WithTx(tx).RefreshTotalScore(ctx, userID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit score: %w", err)
	}
	return nil
}

// GetLeaderboard returns one page of standings. Mode and period are
// orthogonal: every period board exists both overall and per subject. page
// is 1-indexed.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, q BoardQuery) ([]model.LeaderboardEntry, error) {
	mode := q.Mode
	if mode == "" {
		mode = model.ModeOverall
		if q.Subject != "" {
			mode = model.ModeSubject
		}
	}

	var subject string
	switch mode {
	case model.ModeOverall:
		subject = ""
	case model.ModeSubject:
		if q.Subject == "" {
			return nil, ErrSubjectFilterMissing
		}
		subject = q.Subject
	default:
		return nil, ErrUnknownMode
	}

	page, pageSize := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	offset := (page - 1) * pageSize

	now := s.now()

	var (
		entries []model.LeaderboardEntry
		err     error
	)
	switch q.Period {
	case model.PeriodDaily:
		entries, err = s.scores.DailyLeaderboard(ctx, dateOnly(now), subject, pageSize, offset)
	case model.PeriodWeekly:
		entries, err = s.scores.WeeklyLeaderboard(ctx, weekKey(now), subject, pageSize, offset)
	case model.PeriodMonthly:
		entries, err = s.scores.MonthlyLeaderboard(ctx, monthKey(now), subject, pageSize, offset)
	case model.PeriodAllTime:
		entries, err = s.scores.AllTimeLeaderboard(ctx, subject, pageSize, offset)
	default:
		return nil, ErrUnknownPeriod
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Accuracy = Accuracy(entries[i].Points, entries[i].QuizCount)
	}
	return entries, nil
}

// GetUserRank returns the user's 1-based all-time position and aggregate.
func (s *LeaderboardService) GetUserRank(ctx context.Context, username string) (int, *model.LeaderboardEntry, error) {
	rank, entry, err := s.scores.AllTimeRank(ctx, username)
	if err != nil {
		return 0, nil, err
	}
	entry.Accuracy = Accuracy(entry.Points, entry.QuizCount)
	return rank, entry, nil
}

// Accuracy derives the display accuracy from total points and quiz count,
// treating 10 points as a perfect quiz. Capped at 100; a streak bonus can
// push the raw ratio past it.
func Accuracy(points, quizCount int64) int {
	if quizCount <= 0 {
		return 0
	}
	acc := math.Round(float64(points) / (float64(quizCount) * 10) * 100)
	if acc > 100 {
		return 100
	}
	return int(acc)
}

// RankTitle maps a 1-based leaderboard position to its display title.
func RankTitle(position int) string {
	switch {
	case position == 1:
		return "👑 Grand Champion"
	case position == 2:
		return "🥈 Elite Master"
	case position == 3:
		return "🥉 Bronze Warrior"
	case position <= 10:
		return "🏆 Top Performer"
	case position <= 25:
		return "🔥 Rising Hero"
	case position <= 50:
		return "📘 Dedicated Learner"
	default:
		return "🌱 Beginner Explorer"
	}
}
