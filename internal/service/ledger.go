package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"edubox-core/internal/config"
	"edubox-core/internal/model"
	"edubox-core/internal/pkg/db"
	"edubox-core/internal/pkg/lock"
	"edubox-core/internal/repository"
)

// Ledger service errors
var (
	ErrThresholdNotMet = errors.New("daily quiz threshold not met")
)

// xpPerLevel is the fixed XP cost of one level.
const xpPerLevel = 500

// LoginResult describes what a daily login earned. Counted is false when
// today's login was already recorded; nothing else in the result changed.
type LoginResult struct {
	Counted           bool
	Streak            int
	PointsAwarded     int64
	BonusAwarded      bool
	FreeUnlockGranted bool
}

// ConfirmResult describes what confirming the daily quiz threshold earned.
type ConfirmResult struct {
	Counted           bool
	Streak            int
	PiecesAwarded     int64
	BonusAwarded      bool
	FreeUnlockGranted bool
}

// LedgerService owns the daily engagement ledger: login streaks, quiz
// threshold confirmation, pieces, XP and badges. Every award path runs in
// one transaction under the user's lock, so a day is counted at most once no
// matter how often the client retries.
type LedgerService struct {
	pool          *db.Pool
	users         *repository.UserRepository
	pieces        *repository.PiecesRepository
	engagement    *repository.EngagementRepository
	scores        *repository.ScoreRepository
	unlocks       *repository.FreeUnlockRepository
	achievements  *repository.AchievementRepository
	notifications *repository.NotificationRepository
	userLock      *lock.UserLock
	rewards       config.RewardsConfig
	now           func() time.Time
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(
	pool *db.Pool,
	users *repository.UserRepository,
	pieces *repository.PiecesRepository,
	engagement *repository.EngagementRepository,
	scores *repository.ScoreRepository,
	unlocks *repository.FreeUnlockRepository,
	achievements *repository.AchievementRepository,
	notifications *repository.NotificationRepository,
	userLock *lock.UserLock,
	rewards config.RewardsConfig,
) *LedgerService {
	return &LedgerService{
		pool:          pool,
		users:         users,
		pieces:        pieces,
		engagement:    engagement,
		scores:        scores,
		unlocks:       unlocks,
		achievements:  achievements,
		notifications: notifications,
		userLock:      userLock,
		rewards:       rewards,
		now:           time.Now,
	}
}

// SetClock overrides the service clock. Tests use this to walk through
// calendar days.
func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
}

// RecordDailyLogin counts today as an app-open day. The first qualifying
// event of the day moves the streak; a second login the same day is a no-op.
// Login points land on all four leaderboard periods.
func (s *LedgerService) RecordDailyLogin(ctx context.Context, userID int64) (*LoginResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	now := s.now()
	today := dateOnly(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	engagement := s.engagement.WithTx(tx)
	rec, err := engagement.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sameDay(rec.LastLoginDate, today) {
		return &LoginResult{Counted: false, Streak: rec.Streak}, nil
	}

	streak, monthly, ninety := s.advanceStreak(rec, today)

	result := &LoginResult{Counted: true, Streak: streak, PointsAwarded: s.rewards.DailyLoginPoints}

	scores := s.scores.WithTx(tx)
	err = scores.Record(ctx, userID, user.Name, model.ScoreCategoryLogin,
		s.rewards.DailyLoginPoints, today, weekKey(now), monthKey(now))
	if err != nil {
		return nil, err
	}

	milestones, err := s.payMilestones(ctx, tx, user, today, now, streak, monthly, ninety)
	if err != nil {
		return nil, err
	}
	monthly, ninety = milestones.monthly, milestones.ninety
	result.BonusAwarded = milestones.bonusPaid
	result.FreeUnlockGranted = milestones.unlockGranted

	if err := engagement.RecordLogin(ctx, userID, today, streak, monthly, ninety); err != nil {
		return nil, err
	}
	if _, err := s.users.WithTx(tx).RefreshTotalScore(ctx, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit daily login: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Int("streak", streak).
		Bool("bonus", result.BonusAwarded).
		Msg("daily login recorded")

	return result, nil
}

// IncrementQuizCount bumps today's quiz counter and reports whether the
// daily threshold is now met. The counter is advisory until the client
// confirms the threshold.
func (s *LedgerService) IncrementQuizCount(ctx context.Context, userID int64) (int, bool, error) {
	count, err := s.engagement.IncrementQuizCount(ctx, userID, dateOnly(s.now()))
	if err != nil {
		return 0, false, err
	}
	return count, count >= s.rewards.QuizThreshold, nil
}

// ConfirmQuizThreshold finalizes today once enough quizzes are done: the day
// joins the streak, the calendar marks it, and the daily pieces are paid
// out. Idempotent per day.
func (s *LedgerService) ConfirmQuizThreshold(ctx context.Context, userID int64) (*ConfirmResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	now := s.now()
	today := dateOnly(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	engagement := s.engagement.WithTx(tx)
	rec, err := engagement.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sameDay(rec.LastConfirmedDate, today) {
		return &ConfirmResult{Counted: false, Streak: rec.Streak}, nil
	}

	count := 0
	if sameDay(rec.QuizCountDate, today) {
		count = rec.QuizCountToday
	}
	if count < s.rewards.QuizThreshold {
		return nil, ErrThresholdNotMet
	}

	streak, monthly, ninety := s.advanceStreak(rec, today)

	result := &ConfirmResult{Counted: true, Streak: streak, PiecesAwarded: s.rewards.DailyPieces}

	if _, err := s.pieces.WithTx(tx).Add(ctx, userID, s.rewards.DailyPieces); err != nil {
		return nil, err
	}
	if err := engagement.InsertHistory(ctx, userID, today, int(s.rewards.DailyPieces)); err != nil {
		return nil, err
	}

	milestones, err := s.payMilestones(ctx, tx, user, today, now, streak, monthly, ninety)
	if err != nil {
		return nil, err
	}
	monthly, ninety = milestones.monthly, milestones.ninety
	result.BonusAwarded = milestones.bonusPaid
	result.FreeUnlockGranted = milestones.unlockGranted

	if err := engagement.RecordConfirmation(ctx, userID, today, streak, monthly, ninety); err != nil {
		return nil, err
	}
	if result.BonusAwarded {
		if _, err := s.users.WithTx(tx).RefreshTotalScore(ctx, userID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit threshold confirmation: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Int("streak", streak).
		Int64("pieces", s.rewards.DailyPieces).
		Msg("quiz threshold confirmed")

	return result, nil
}

// advanceStreak computes the streak state for a qualifying event today. If
// login or confirmation already counted today, the streak holds; otherwise
// the gap from the most recent qualifying day decides extend-or-reset, and
// a reset forfeits the once-per-cycle bonus flags.
func (s *LedgerService) advanceStreak(rec *model.EngagementRecord, today time.Time) (streak int, monthly, ninety bool) {
	monthly, ninety = rec.MonthlyAwarded, rec.NinetyAwarded

	if sameDay(rec.LastLoginDate, today) || sameDay(rec.LastConfirmedDate, today) {
		return rec.Streak, monthly, ninety
	}

	last := latestDay(rec.LastLoginDate, rec.LastConfirmedDate)
	streak, reset := nextStreak(last, today, rec.Streak)
	if reset {
		monthly, ninety = false, false
	}
	return streak, monthly, ninety
}

// milestoneResult reports what payMilestones awarded and the resulting
// once-per-cycle flags.
type milestoneResult struct {
	monthly       bool
	ninety        bool
	bonusPaid     bool
	unlockGranted bool
}

// payMilestones pays the 30-day point bonus and grants the 90-day free
// unlock, each at most once per streak cycle.
func (s *LedgerService) payMilestones(ctx context.Context, tx repository.DBTX, user *model.User, today time.Time, now time.Time, streak int, monthly, ninety bool) (milestoneResult, error) {
	res := milestoneResult{monthly: monthly, ninety: ninety}

	if streak >= s.rewards.StreakBonusDays && !res.monthly {
		err := repository.NewScoreRepository(tx).Record(ctx, user.ID, user.Name,
			model.ScoreCategoryStreakBonus, s.rewards.StreakBonusPoints, today, weekKey(now), monthKey(now))
		if err != nil {
			return res, err
		}
		res.monthly = true
		res.bonusPaid = true
	}

	if streak >= s.rewards.FreeUnlockDays && !res.ninety {
		if _, err := repository.NewFreeUnlockRepository(tx).Grant(ctx, user.ID); err != nil {
			return res, err
		}
		res.ninety = true
		res.unlockGranted = true
	}

	return res, nil
}

// PiecesBalance returns the user's current pieces balance. A store failure
// degrades to zero so a balance badge never blocks the client; writes still
// fail loudly.
func (s *LedgerService) PiecesBalance(ctx context.Context, userID int64) int64 {
	balance, err := s.pieces.Balance(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("pieces balance lookup failed")
		return 0
	}
	return balance
}

// AddPieces credits pieces outside the daily cycle (promos, admin grants).
func (s *LedgerService) AddPieces(ctx context.Context, userID int64, amount int64) (int64, error) {
	return s.pieces.Add(ctx, userID, amount)
}

// DeductPieces debits pieces, failing when the balance is short.
func (s *LedgerService) DeductPieces(ctx context.Context, userID int64, amount int64) (int64, error) {
	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)
	return s.pieces.Deduct(ctx, userID, amount)
}

// AddXP credits earned XP and returns the (possibly unchanged) level.
func (s *LedgerService) AddXP(ctx context.Context, userID int64, earned int64) (int, error) {
	return s.users.AddXP(ctx, userID, earned, xpPerLevel)
}

// AwardBadge records a badge and drops a notification about it.
func (s *LedgerService) AwardBadge(ctx context.Context, userID int64, badge string) error {
	if _, err := s.achievements.Award(ctx, userID, badge); err != nil {
		return err
	}
	_, err := s.notifications.Insert(ctx, userID, "Badge earned", badge, nil)
	return err
}

// GetEngagementCalendar returns one cell per day of the given month, marking
// the days the user confirmed. A store failure degrades to an all-blank
// month rather than an error.
func (s *LedgerService) GetEngagementCalendar(ctx context.Context, userID int64, year int, month time.Month) []model.EngagementDay {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	confirmed, err := s.engagement.History(ctx, userID, first, last)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("engagement history lookup failed")
		confirmed = nil
	}

	byDay := make(map[time.Time]model.EngagementDay, len(confirmed))
	for _, d := range confirmed {
		byDay[dateOnly(d.Date)] = d
	}

	days := make([]model.EngagementDay, 0, last.Day())
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if cell, ok := byDay[d]; ok {
			cell.Date = d
			days = append(days, cell)
		} else {
			days = append(days, model.EngagementDay{Date: d})
		}
	}
	return days
}
