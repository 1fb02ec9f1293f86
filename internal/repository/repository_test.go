// Package repository tests run against a real PostgreSQL instance via
// testcontainers-go and are skipped when Docker is unavailable.
package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"edubox-core/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB creates a PostgreSQL container, applies the schema and returns
// a connection pool. Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, Migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return pool, cleanup
}

func createTestUser(t *testing.T, pool *pgxpool.Pool, name, email string) *model.User {
	t.Helper()
	user, err := NewUserRepository(pool).Create(context.Background(), name, email, "x", model.RoleUser)
	require.NoError(t, err)
	return user
}

func seededSubject(t *testing.T, pool *pgxpool.Pool, name string) *model.Subject {
	t.Helper()
	subject, err := NewSubjectRepository(pool).GetByName(context.Background(), name)
	require.NoError(t, err)
	return subject
}

func TestUserRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewUserRepository(pool)

	t.Run("create and get", func(t *testing.T) {
		user, err := repo.Create(ctx, "Ada", "Ada@Example.com", "hash", model.RoleUser)
		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", user.Email)
		assert.Equal(t, model.RoleUser, user.Role)

		got, err := repo.GetByEmail(ctx, "ADA@example.COM")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.Create(ctx, "Other", "ada@example.com", "hash", model.RoleUser)
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := repo.GetByID(ctx, 999999)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("xp and level", func(t *testing.T) {
		user := createTestUser(t, pool, "Leveler", "leveler@example.com")

		level, err := repo.AddXP(ctx, user.ID, 499, 500)
		require.NoError(t, err)
		assert.Equal(t, 0, level)

		level, err = repo.AddXP(ctx, user.ID, 1, 500)
		require.NoError(t, err)
		assert.Equal(t, 1, level)

		level, err = repo.AddXP(ctx, user.ID, 1500, 500)
		require.NoError(t, err)
		assert.Equal(t, 4, level)
	})

	t.Run("last subject", func(t *testing.T) {
		user := createTestUser(t, pool, "Reader", "reader@example.com")
		require.NoError(t, repo.SetLastSubject(ctx, user.ID, "Physics"))

		got, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastSubject)
		assert.Equal(t, "Physics", *got.LastSubject)
	})
}

func TestPiecesRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewPiecesRepository(pool)
	user := createTestUser(t, pool, "Pieces", "pieces@example.com")

	t.Run("zero balance without row", func(t *testing.T) {
		balance, err := repo.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})

	t.Run("add and deduct", func(t *testing.T) {
		balance, err := repo.Add(ctx, user.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(10), balance)

		balance, err = repo.Deduct(ctx, user.ID, 4)
		require.NoError(t, err)
		assert.Equal(t, int64(6), balance)
	})

	t.Run("insufficient", func(t *testing.T) {
		_, err := repo.Deduct(ctx, user.ID, 1000)
		assert.ErrorIs(t, err, ErrInsufficientPieces)

		balance, err := repo.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6), balance)
	})

	t.Run("concurrent deducts never overdraw", func(t *testing.T) {
		racer := createTestUser(t, pool, "Racer", "racer@example.com")
		_, err := repo.Add(ctx, racer.ID, 10)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.Deduct(ctx, racer.ID, 3)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrInsufficientPieces)
			}
		}
		assert.Equal(t, 3, wins)

		balance, err := repo.Balance(ctx, racer.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), balance)
	})
}

func TestEngagementRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewEngagementRepository(pool)
	user := createTestUser(t, pool, "Streak", "streak@example.com")

	day1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	t.Run("empty record for new user", func(t *testing.T) {
		rec, err := repo.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, rec.Streak)
		assert.Nil(t, rec.LastLoginDate)
	})

	t.Run("quiz count resets on a new day", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			count, err := repo.IncrementQuizCount(ctx, user.ID, day1)
			require.NoError(t, err)
			assert.Equal(t, i, count)
		}

		count, err := repo.IncrementQuizCount(ctx, user.ID, day2)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("login state round-trips", func(t *testing.T) {
		require.NoError(t, repo.RecordLogin(ctx, user.ID, day1, 5, true, false))

		rec, err := repo.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, rec.Streak)
		require.NotNil(t, rec.LastLoginDate)
		assert.True(t, rec.MonthlyAwarded)
		assert.False(t, rec.NinetyAwarded)
	})

	t.Run("history is idempotent per day", func(t *testing.T) {
		require.NoError(t, repo.InsertHistory(ctx, user.ID, day1, 2))
		require.NoError(t, repo.InsertHistory(ctx, user.ID, day1, 2))
		require.NoError(t, repo.InsertHistory(ctx, user.ID, day2, 2))

		days, err := repo.History(ctx, user.ID, day1, day2)
		require.NoError(t, err)
		require.Len(t, days, 2)
		assert.Equal(t, 2, days[0].Pieces)
		assert.True(t, days[0].Finalized)
	})
}

func TestScoreRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewScoreRepository(pool)

	alice := createTestUser(t, pool, "alice", "alice@example.com")
	bob := createTestUser(t, pool, "bob", "bob@example.com")
	cara := createTestUser(t, pool, "cara", "cara@example.com")

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	week, month := "2025-W11", "2025-03"

	record := func(u *model.User, subject string, points int64) {
		require.NoError(t, repo.Record(ctx, u.ID, u.Name, subject, points, day, week, month))
	}

	record(alice, "Maths", 10)
	record(alice, "Physics", 8)
	record(bob, "Maths", 20)
	record(cara, "Maths", 10)
	record(cara, "Maths", 8) // ties cara with alice on 18 but later

	t.Run("all time ordering and tie-break", func(t *testing.T) {
		entries, err := repo.AllTimeLeaderboard(ctx, "", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		// bob leads on 20; alice and cara tie on 18, alice scored first.
		assert.Equal(t, "bob", entries[0].Username)
		assert.Equal(t, "alice", entries[1].Username)
		assert.Equal(t, "cara", entries[2].Username)
		assert.Equal(t, int64(18), entries[1].Points)
		assert.Equal(t, int64(2), entries[1].QuizCount)
	})

	t.Run("subject filter", func(t *testing.T) {
		entries, err := repo.AllTimeLeaderboard(ctx, "Maths", 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "bob", entries[0].Username)
		assert.Equal(t, "cara", entries[1].Username)
		assert.Equal(t, int64(18), entries[1].Points)
		assert.Equal(t, "alice", entries[2].Username)
		assert.Equal(t, int64(10), entries[2].Points)
	})

	t.Run("pagination", func(t *testing.T) {
		entries, err := repo.AllTimeLeaderboard(ctx, "", 2, 0)
		require.NoError(t, err)
		assert.Len(t, entries, 2)

		entries, err = repo.AllTimeLeaderboard(ctx, "", 2, 2)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "cara", entries[0].Username)
	})

	t.Run("period tables", func(t *testing.T) {
		daily, err := repo.DailyLeaderboard(ctx, day, "", 10, 0)
		require.NoError(t, err)
		assert.Len(t, daily, 3)

		weekly, err := repo.WeeklyLeaderboard(ctx, week, "", 10, 0)
		require.NoError(t, err)
		assert.Len(t, weekly, 3)

		other, err := repo.MonthlyLeaderboard(ctx, "2025-04", "", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("period tables filter by subject", func(t *testing.T) {
		// Alice's Physics event must not leak onto the Maths boards.
		weekly, err := repo.WeeklyLeaderboard(ctx, week, "Maths", 10, 0)
		require.NoError(t, err)
		require.Len(t, weekly, 3)
		assert.Equal(t, "bob", weekly[0].Username)
		assert.Equal(t, "alice", weekly[2].Username)
		assert.Equal(t, int64(10), weekly[2].Points)

		daily, err := repo.DailyLeaderboard(ctx, day, "Physics", 10, 0)
		require.NoError(t, err)
		require.Len(t, daily, 1)
		assert.Equal(t, "alice", daily[0].Username)
		assert.Equal(t, int64(8), daily[0].Points)

		monthly, err := repo.MonthlyLeaderboard(ctx, month, "Chemistry", 10, 0)
		require.NoError(t, err)
		assert.Empty(t, monthly)
	})

	t.Run("user rank", func(t *testing.T) {
		rank, entry, err := repo.AllTimeRank(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, rank)
		assert.Equal(t, int64(18), entry.Points)

		_, _, err = repo.AllTimeRank(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotRanked)
	})
}

func TestEnrollmentRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewEnrollmentRepository(pool)
	user := createTestUser(t, pool, "Student", "student@example.com")
	maths := seededSubject(t, pool, "Maths")
	physics := seededSubject(t, pool, "Physics")

	now := time.Now().UTC()
	past := now.AddDate(0, -1, 0)
	future := now.AddDate(0, 3, 0)

	t.Run("upsert keeps one row per pair", func(t *testing.T) {
		first, err := repo.Upsert(ctx, &model.Enrollment{
			UserID: user.ID, SubjectID: maths.ID, Amount: 3000,
			PaymentMethod: model.MethodManual, PaymentStatus: model.StatusPending,
		})
		require.NoError(t, err)

		second, err := repo.Upsert(ctx, &model.Enrollment{
			UserID: user.ID, SubjectID: maths.ID, Amount: 3000, Paid: true,
			PaymentMethod: model.MethodOnline, PaymentStatus: model.StatusPaid,
			StartDate: &now, ExpiryDate: &future,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.Paid)

		all, err := repo.ListByUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("prune then list active", func(t *testing.T) {
		_, err := repo.Upsert(ctx, &model.Enrollment{
			UserID: user.ID, SubjectID: physics.ID, Paid: true,
			PaymentMethod: model.MethodFree, PaymentStatus: model.StatusPaid,
			StartDate: &past, ExpiryDate: &past,
		})
		require.NoError(t, err)

		pruned, err := repo.PruneExpired(ctx, user.ID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		active, err := repo.ListActive(ctx, user.ID, now)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, maths.ID, active[0].SubjectID)
	})

	t.Run("missing expiry counts as expired", func(t *testing.T) {
		// Paid row with no expiry: excluded from the active set and pruned.
		_, err := repo.Upsert(ctx, &model.Enrollment{
			UserID: user.ID, SubjectID: physics.ID, Paid: true,
			PaymentMethod: model.MethodOfflineLocal, PaymentStatus: model.StatusPaid,
			StartDate: &past,
		})
		require.NoError(t, err)

		active, err := repo.ListActive(ctx, user.ID, now)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, maths.ID, active[0].SubjectID)

		pruned, err := repo.PruneExpired(ctx, user.ID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)
	})

	t.Run("prune spares unpaid placeholders", func(t *testing.T) {
		_, err := repo.Upsert(ctx, &model.Enrollment{
			UserID: user.ID, SubjectID: physics.ID, Amount: 3000,
			PaymentMethod: model.MethodManual, PaymentStatus: model.StatusPending,
		})
		require.NoError(t, err)

		pruned, err := repo.PruneExpired(ctx, user.ID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(0), pruned)

		got, err := repo.Get(ctx, user.ID, physics.ID)
		require.NoError(t, err)
		assert.False(t, got.Paid)
	})

	t.Run("mark paid only touches the matching unpaid row", func(t *testing.T) {
		// No row at all: zero affected, no error.
		affected, err := repo.MarkPaid(ctx, user.ID, 999999, 3000, now, future)
		require.NoError(t, err)
		assert.Equal(t, int64(0), affected)

		// Wrong amount: the placeholder from the previous subtest stays put.
		affected, err = repo.MarkPaid(ctx, user.ID, physics.ID, 5000, now, future)
		require.NoError(t, err)
		assert.Equal(t, int64(0), affected)

		// Matching amount flips it.
		affected, err = repo.MarkPaid(ctx, user.ID, physics.ID, 3000, now, future)
		require.NoError(t, err)
		assert.Equal(t, int64(1), affected)

		// Already paid: a second approval cannot restamp the window.
		affected, err = repo.MarkPaid(ctx, user.ID, physics.ID, 3000, now, future)
		require.NoError(t, err)
		assert.Equal(t, int64(0), affected)
	})
}

func TestCodeRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewCodeRepository(pool)
	user := createTestUser(t, pool, "Redeemer", "redeemer@example.com")

	codes := []model.OfflineCode{
		{Code: "EDU-AAAA-BBBB-CCCC", Amount: 3000},
		{Code: "EDU-DDDD-EEEE-FFFF", Amount: 3000},
	}
	require.NoError(t, repo.InsertBatch(ctx, codes))

	t.Run("redeem once", func(t *testing.T) {
		burnt, err := repo.Redeem(ctx, "EDU-AAAA-BBBB-CCCC", user.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, burnt.Redeemed)
		require.NotNil(t, burnt.RedeemedBy)
		assert.Equal(t, user.ID, *burnt.RedeemedBy)
	})

	t.Run("second redemption fails", func(t *testing.T) {
		_, err := repo.Redeem(ctx, "EDU-AAAA-BBBB-CCCC", user.ID, time.Now())
		assert.ErrorIs(t, err, ErrCodeRedeemed)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := repo.Redeem(ctx, "EDU-XXXX-XXXX-XXXX", user.ID, time.Now())
		assert.ErrorIs(t, err, ErrCodeNotFound)
	})

	t.Run("concurrent redemptions have one winner", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = repo.Redeem(ctx, "EDU-DDDD-EEEE-FFFF", user.ID, time.Now())
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("stats", func(t *testing.T) {
		issued, redeemed, err := repo.RedemptionStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), issued)
		assert.Equal(t, int64(2), redeemed)
	})
}

func TestPaymentRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewPaymentRepository(pool)
	user := createTestUser(t, pool, "Payer", "payer@example.com")
	maths := seededSubject(t, pool, "Maths")

	ref := "EDU-REF-0001"

	t.Run("pending lifecycle", func(t *testing.T) {
		pending, err := repo.InsertPending(ctx, &model.PendingPayment{
			UserID: user.ID, SubjectID: maths.ID, Amount: 3000,
			PaymentMethod: model.MethodManual, Reference: &ref,
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, pending.Status)

		open, err := repo.HasOpenPending(ctx, user.ID, maths.ID)
		require.NoError(t, err)
		assert.True(t, open)

		require.NoError(t, repo.ResolvePending(ctx, pending.ID, model.StatusPaid))

		// A resolved claim cannot be resolved again.
		err = repo.ResolvePending(ctx, pending.ID, model.StatusFailed)
		assert.ErrorIs(t, err, ErrPendingNotOpen)

		open, err = repo.HasOpenPending(ctx, user.ID, maths.ID)
		require.NoError(t, err)
		assert.False(t, open)
	})

	t.Run("reference counting spans both ledgers", func(t *testing.T) {
		count, err := repo.CountReference(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, 1, count) // the pending row

		_, err = repo.InsertPayment(ctx, &model.Payment{
			UserID: user.ID, SubjectID: &maths.ID, Amount: 3000,
			Method: model.MethodManual, Reference: &ref, Status: model.PaymentCompleted,
		})
		require.NoError(t, err)

		count, err = repo.CountReference(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("revenue aggregates", func(t *testing.T) {
		total, err := repo.TotalRevenue(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), total)

		sales, err := repo.SalesBySubject(ctx)
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, "Maths", sales[0].Subject)
		assert.Equal(t, int64(3000), sales[0].Revenue)

		stats, err := repo.StatsByMethod(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, model.MethodManual, stats[0].Method)
	})
}

func TestFreeUnlockRepository(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewFreeUnlockRepository(pool)
	user := createTestUser(t, pool, "Unlocker", "unlocker@example.com")
	maths := seededSubject(t, pool, "Maths")

	t.Run("claim without grant", func(t *testing.T) {
		err := repo.ClaimOldest(ctx, user.ID, maths.ID)
		assert.ErrorIs(t, err, ErrNoFreeUnlock)
	})

	t.Run("grant then claim oldest", func(t *testing.T) {
		_, err := repo.Grant(ctx, user.ID)
		require.NoError(t, err)

		unclaimed, err := repo.ListUnclaimed(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, unclaimed, 1)

		require.NoError(t, repo.ClaimOldest(ctx, user.ID, maths.ID))

		unclaimed, err = repo.ListUnclaimed(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, unclaimed)

		err = repo.ClaimOldest(ctx, user.ID, maths.ID)
		assert.ErrorIs(t, err, ErrNoFreeUnlock)
	})
}
