// Package main is the admin and operations entry point for the EduBox
// ledger core.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"edubox-core/internal/config"
	"edubox-core/internal/pkg/db"
	"edubox-core/internal/pkg/lock"
	"edubox-core/internal/repository"
	"edubox-core/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	app := newApp(dbPool, cfg)

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("Command failed")
	}
}

// app wires the repositories and services once for every subcommand.
type app struct {
	accounts    *service.AccountService
	ledger      *service.LedgerService
	leaderboard *service.LeaderboardService
	enrollment  *service.EnrollmentService
	analytics   *service.AnalyticsService
	validator   *service.ReferenceValidator
	subjects    *repository.SubjectRepository
	boards      config.LeaderboardConfig
}

func newApp(dbPool *db.Pool, cfg *config.Config) *app {
	userRepo := repository.NewUserRepository(dbPool.Pool)
	subjectRepo := repository.NewSubjectRepository(dbPool.Pool)
	enrollmentRepo := repository.NewEnrollmentRepository(dbPool.Pool)
	paymentRepo := repository.NewPaymentRepository(dbPool.Pool)
	piecesRepo := repository.NewPiecesRepository(dbPool.Pool)
	engagementRepo := repository.NewEngagementRepository(dbPool.Pool)
	scoreRepo := repository.NewScoreRepository(dbPool.Pool)
	codeRepo := repository.NewCodeRepository(dbPool.Pool)
	unlockRepo := repository.NewFreeUnlockRepository(dbPool.Pool)
	achievementRepo := repository.NewAchievementRepository(dbPool.Pool)
	notificationRepo := repository.NewNotificationRepository(dbPool.Pool)

	userLock := lock.NewUserLock()

	return &app{
		accounts: service.NewAccountService(userRepo),
		ledger: service.NewLedgerService(
			dbPool, userRepo, piecesRepo, engagementRepo, scoreRepo,
			unlockRepo, achievementRepo, notificationRepo, userLock, cfg.Rewards,
		),
		leaderboard: service.NewLeaderboardService(dbPool, userRepo, scoreRepo, cfg.Leaderboard),
		enrollment: service.NewEnrollmentService(
			dbPool, userRepo, subjectRepo, enrollmentRepo, paymentRepo,
			piecesRepo, codeRepo, unlockRepo, notificationRepo, userLock, cfg.Pricing,
		),
		analytics: service.NewAnalyticsService(paymentRepo, codeRepo),
		validator: service.NewReferenceValidator(paymentRepo, subjectRepo),
		subjects:  subjectRepo,
		boards:    cfg.Leaderboard,
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "migrate":
		// Migrations already ran above; this command exists so operators
		// can run them without doing anything else.
		return nil
	case "register-admin":
		return a.registerAdmin(ctx, args)
	case "generate-codes":
		return a.generateCodes(ctx, args)
	case "pending":
		return a.listPending(ctx)
	case "approve":
		return a.resolvePending(ctx, args, true)
	case "reject":
		return a.resolvePending(ctx, args, false)
	case "leaderboard":
		return a.showLeaderboard(ctx, args)
	case "revenue":
		return a.showRevenue(ctx)
	case "validate-ref":
		return a.validateReference(ctx, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) registerAdmin(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register-admin", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	pin := fs.String("pin", "", "approval PIN")
	fs.Parse(args)

	admin, err := a.accounts.Register(ctx, *name, *email, *password, "admin")
	if err != nil {
		return err
	}
	if *pin != "" {
		if err := a.accounts.SetAdminPIN(ctx, admin.ID, *pin); err != nil {
			return err
		}
	}
	fmt.Printf("admin %d registered (%s)\n", admin.ID, admin.Email)
	return nil
}

func (a *app) generateCodes(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate-codes", flag.ExitOnError)
	count := fs.Int("count", 50, "number of codes")
	subject := fs.String("subject", "", "restrict codes to a subject name")
	amount := fs.Int64("amount", 0, "naira value recorded on redemption")
	fs.Parse(args)

	var subjectID *int64
	if *subject != "" {
		s, err := a.subjects.GetByName(ctx, *subject)
		if err != nil {
			return err
		}
		subjectID = &s.ID
	}

	codes, err := a.enrollment.GenerateOfflineCodes(ctx, *count, subjectID, *amount)
	if err != nil {
		return err
	}
	for _, c := range codes {
		fmt.Println(c.Code)
	}
	return nil
}

func (a *app) listPending(ctx context.Context) error {
	pendings, err := a.enrollment.ListPendingPayments(ctx)
	if err != nil {
		return err
	}
	if len(pendings) == 0 {
		fmt.Println("no pending payments")
		return nil
	}
	for _, p := range pendings {
		ref := "-"
		if p.Reference != nil {
			ref = *p.Reference
		}
		fmt.Printf("#%d user=%d subject=%d amount=%d method=%s ref=%s since=%s\n",
			p.ID, p.UserID, p.SubjectID, p.Amount, p.PaymentMethod, ref,
			p.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (a *app) resolvePending(ctx context.Context, args []string, approve bool) error {
	name := "reject"
	if approve {
		name = "approve"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	admin := fs.Int64("admin", 0, "admin user id")
	pin := fs.String("pin", "", "admin approval PIN")
	id := fs.Int64("id", 0, "pending payment id")
	notes := fs.String("notes", "", "review notes")
	fs.Parse(args)

	var n *string
	if *notes != "" {
		n = notes
	}

	if approve {
		return a.enrollment.ApprovePendingPayment(ctx, *admin, *pin, *id, n)
	}
	return a.enrollment.RejectPendingPayment(ctx, *admin, *pin, *id, n)
}

func (a *app) showLeaderboard(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	mode := fs.String("mode", "", "overall | subject (inferred when empty)")
	period := fs.String("period", "allTime", "daily | weekly | monthly | allTime")
	subject := fs.String("subject", "", "subject filter")
	page := fs.Int("page", 1, "1-indexed page")
	size := fs.Int("size", 0, "page size")
	fs.Parse(args)

	pageSize := *size
	if pageSize <= 0 {
		pageSize = a.boards.DefaultPageSize
	}

	entries, err := a.leaderboard.GetLeaderboard(ctx, service.BoardQuery{
		Mode:     *mode,
		Subject:  *subject,
		Period:   *period,
		Page:     *page,
		PageSize: pageSize,
	})
	if err != nil {
		return err
	}
	for i, e := range entries {
		position := (*page-1)*pageSize + i + 1
		fmt.Printf("%3d. %-24s %6d pts  %3d%%  %s\n",
			position, e.Username, e.Points, e.Accuracy, service.RankTitle(position))
	}
	return nil
}

func (a *app) showRevenue(ctx context.Context) error {
	report, err := a.analytics.Report(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("total revenue: ₦%d\n", report.TotalRevenue)
	fmt.Println("by subject:")
	for _, s := range report.BySubject {
		fmt.Printf("  %-16s %4d sales  ₦%d\n", s.Subject, s.Count, s.Revenue)
	}
	fmt.Println("by method:")
	for _, m := range report.ByMethod {
		fmt.Printf("  %-16s %4d payments  ₦%d\n", m.Method, m.Count, m.Amount)
	}
	fmt.Printf("offline codes: %d issued, %d redeemed\n", report.CodesIssued, report.CodesRedeemed)
	return nil
}

func (a *app) validateReference(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate-ref", flag.ExitOnError)
	ref := fs.String("ref", "", "payment reference to check")
	fs.Parse(args)

	result, err := a.validator.ValidatePaymentReference(ctx, *ref, service.ValidationOpts{})
	if err != nil {
		return err
	}
	fmt.Printf("ok=%v score=%d issues=%v\n", result.OK, result.Score, result.Issues)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: eduboxd <command> [flags]

commands:
  migrate          apply the database schema
  register-admin   create an admin account (-name -email -password -pin)
  generate-codes   mint offline codes (-count -subject -amount)
  pending          list the payment review queue
  approve          approve a pending payment (-admin -pin -id [-notes])
  reject           reject a pending payment (-admin -pin -id [-notes])
  leaderboard      show standings (-mode -period -subject -page -size)
  revenue          show the revenue report
  validate-ref     run the reference validator (-ref)`)
}
