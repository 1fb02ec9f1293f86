package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"edubox-core/internal/config"
	"edubox-core/internal/model"
	"edubox-core/internal/pkg/db"
	"edubox-core/internal/pkg/lock"
	"edubox-core/internal/repository"
)

// Enrollment service errors
var (
	ErrAlreadyActive       = errors.New("enrollment already active")
	ErrUnknownMethod       = errors.New("unknown payment method")
	ErrDuplicatePending    = errors.New("a pending payment for this subject already exists")
	ErrCodeSubjectMismatch = errors.New("code is restricted to another subject")
	ErrSubjectRequired     = errors.New("code is not subject-restricted; a subject is required")
	ErrInsufficientPieces  = repository.ErrInsufficientPieces
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// EnrollmentService owns the enrollment state machine: instant unlocks
// (free, pieces, offline_local, code, free_unlock) and the admin-approved
// pending path (manual, online). All multi-row transitions run in one
// transaction under the user's lock.
type EnrollmentService struct {
	pool          *db.Pool
	users         *repository.UserRepository
	subjects      *repository.SubjectRepository
	enrollments   *repository.EnrollmentRepository
	payments      *repository.PaymentRepository
	pieces        *repository.PiecesRepository
	codes         *repository.CodeRepository
	unlocks       *repository.FreeUnlockRepository
	notifications *repository.NotificationRepository
	userLock      *lock.UserLock
	pricing       config.PricingConfig
	now           func() time.Time
}

// NewEnrollmentService creates a new EnrollmentService instance.
func NewEnrollmentService(
	pool *db.Pool,
	users *repository.UserRepository,
	subjects *repository.SubjectRepository,
	enrollments *repository.EnrollmentRepository,
	payments *repository.PaymentRepository,
	pieces *repository.PiecesRepository,
	codes *repository.CodeRepository,
	unlocks *repository.FreeUnlockRepository,
	notifications *repository.NotificationRepository,
	userLock *lock.UserLock,
	pricing config.PricingConfig,
) *EnrollmentService {
	return &EnrollmentService{
		pool:          pool,
		users:         users,
		subjects:      subjects,
		enrollments:   enrollments,
		payments:      payments,
		pieces:        pieces,
		codes:         codes,
		unlocks:       unlocks,
		notifications: notifications,
		userLock:      userLock,
		pricing:       pricing,
		now:           time.Now,
	}
}

// SetClock overrides the service clock for tests.
func (s *EnrollmentService) SetClock(now func() time.Time) {
	s.now = now
}

// PiecesCost converts a naira price to pieces at the fixed exchange rate,
// rounding up so the app never undercharges.
func PiecesCost(price int64, nairaPerPiece float64) int64 {
	if price <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(price) / nairaPerPiece))
}

// window returns the validity window for a grant issued now.
func (s *EnrollmentService) window(now time.Time) (start, expiry time.Time) {
	return now, now.AddDate(0, s.pricing.EnrollmentMonths, 0)
}

// isActive reports whether an enrollment row is paid and unexpired. A paid
// row with no expiry date counts as expired, so old rows heal via renewal
// instead of living forever.
func isActive(e *model.Enrollment, now time.Time) bool {
	return e.Paid && e.ExpiryDate != nil && e.ExpiryDate.After(now)
}

// Enroll runs the state machine for one (user, subject, method) request.
// Free subjects enroll regardless of method. pieces and offline_local grant
// instantly; manual and online queue a pending claim for admin review. An
// unexpired paid enrollment short-circuits with ErrAlreadyActive; an expired
// or pending row is overwritten in place.
func (s *EnrollmentService) Enroll(ctx context.Context, userID, subjectID int64, method string) (*model.Enrollment, error) {
	subject, err := s.subjects.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	now := s.now()

	renewing := false
	if existing, err := s.enrollments.Get(ctx, userID, subjectID); err == nil {
		if isActive(existing, now) {
			return nil, ErrAlreadyActive
		}
		renewing = existing.Paid
	} else if !errors.Is(err, repository.ErrEnrollmentNotFound) {
		return nil, err
	}

	if subject.IsFree || subject.Price == 0 {
		// A date-only renewal of a lapsed grant is stamped as such; no new
		// money or pieces moved.
		method := model.MethodFree
		if renewing {
			method = model.MethodRenew
		}
		return s.grant(ctx, userID, subject, 0, 0, method, false)
	}

	switch method {
	case model.MethodPieces:
		return s.enrollWithPieces(ctx, userID, subject)
	case model.MethodOfflineLocal:
		return s.grantPaid(ctx, userID, subject, model.MethodOfflineLocal, nil)
	case model.MethodManual, model.MethodOnline:
		if _, err := s.submitPending(ctx, userID, subject, subject.Price, method, nil); err != nil {
			return nil, err
		}
		return s.enrollments.Get(ctx, userID, subjectID)
	default:
		return nil, ErrUnknownMethod
	}
}

// enrollWithPieces spends the pieces cost of the subject and grants an
// active enrollment, atomically.
func (s *EnrollmentService) enrollWithPieces(ctx context.Context, userID int64, subject *model.Subject) (*model.Enrollment, error) {
	cost := PiecesCost(subject.Price, s.pricing.NairaPerPiece)
	now := s.now()
	start, expiry := s.window(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.pieces.WithTx(tx).Deduct(ctx, userID, cost); err != nil {
		if errors.Is(err, repository.ErrInsufficientPieces) {
			balance, balErr := s.pieces.Balance(ctx, userID)
			if balErr == nil {
				return nil, fmt.Errorf("need %d pieces, have %d: %w", cost, balance, err)
			}
		}
		return nil, err
	}

	_, err = s.payments.WithTx(tx).InsertPayment(ctx, &model.Payment{
		UserID:    userID,
		SubjectID: &subject.ID,
		Amount:    subject.Price,
		Method:    model.MethodPieces,
		Status:    model.PaymentCompleted,
	})
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.WithTx(tx).Upsert(ctx, &model.Enrollment{
		UserID:        userID,
		SubjectID:     subject.ID,
		Amount:        subject.Price,
		AmountPieces:  cost,
		Paid:          true,
		PaymentMethod: model.MethodPieces,
		PaymentStatus: model.StatusPaid,
		StartDate:     &start,
		ExpiryDate:    &expiry,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pieces enrollment: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("subject", subject.Name).
		Int64("pieces", cost).
		Msg("enrollment paid with pieces")

	return enrollment, nil
}

// grant writes an active enrollment without touching the payments ledger.
func (s *EnrollmentService) grant(ctx context.Context, userID int64, subject *model.Subject, amount, amountPieces int64, method string, viaReward bool) (*model.Enrollment, error) {
	start, expiry := s.window(s.now())
	return s.enrollments.Upsert(ctx, &model.Enrollment{
		UserID:            userID,
		SubjectID:         subject.ID,
		Amount:            amount,
		AmountPieces:      amountPieces,
		Paid:              true,
		PaymentMethod:     method,
		PaymentStatus:     model.StatusPaid,
		UnlockedViaReward: viaReward,
		StartDate:         &start,
		ExpiryDate:        &expiry,
	})
}

// grantPaid writes an active enrollment and a completed payment in one
// transaction. Used by the instant methods that carry revenue.
func (s *EnrollmentService) grantPaid(ctx context.Context, userID int64, subject *model.Subject, method string, reference *string) (*model.Enrollment, error) {
	now := s.now()
	start, expiry := s.window(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = s.payments.WithTx(tx).InsertPayment(ctx, &model.Payment{
		UserID:    userID,
		SubjectID: &subject.ID,
		Amount:    subject.Price,
		Method:    method,
		Reference: reference,
		Status:    model.PaymentCompleted,
	})
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.WithTx(tx).Upsert(ctx, &model.Enrollment{
		UserID:        userID,
		SubjectID:     subject.ID,
		Amount:        subject.Price,
		Paid:          true,
		PaymentMethod: method,
		PaymentStatus: model.StatusPaid,
		StartDate:     &start,
		ExpiryDate:    &expiry,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit enrollment: %w", err)
	}
	return enrollment, nil
}

// SubmitManualPayment queues a bank-transfer claim for admin review.
func (s *EnrollmentService) SubmitManualPayment(ctx context.Context, userID, subjectID int64, amount int64, reference string) (*model.PendingPayment, error) {
	return s.submitWithCheck(ctx, userID, subjectID, amount, model.MethodManual, &reference)
}

// SubmitOnlinePayment queues an online-gateway claim for admin review. A
// missing reference gets a generated one so the claim stays traceable.
func (s *EnrollmentService) SubmitOnlinePayment(ctx context.Context, userID, subjectID int64, amount int64, reference string) (*model.PendingPayment, error) {
	if reference == "" {
		reference = "EDU-" + strings.ToUpper(uuid.NewString()[:13])
	}
	return s.submitWithCheck(ctx, userID, subjectID, amount, model.MethodOnline, &reference)
}

func (s *EnrollmentService) submitWithCheck(ctx context.Context, userID, subjectID int64, amount int64, method string, reference *string) (*model.PendingPayment, error) {
	subject, err := s.subjects.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	now := s.now()
	if existing, err := s.enrollments.Get(ctx, userID, subjectID); err == nil {
		if isActive(existing, now) {
			return nil, ErrAlreadyActive
		}
	} else if !errors.Is(err, repository.ErrEnrollmentNotFound) {
		return nil, err
	}

	return s.submitPending(ctx, userID, subject, amount, method, reference)
}

// submitPending writes the pending claim and the placeholder enrollment in
// one transaction. Caller holds the user lock.
func (s *EnrollmentService) submitPending(ctx context.Context, userID int64, subject *model.Subject, amount int64, method string, reference *string) (*model.PendingPayment, error) {
	open, err := s.payments.HasOpenPending(ctx, userID, subject.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrDuplicatePending
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	payments := s.payments.WithTx(tx)
	pending, err := payments.InsertPending(ctx, &model.PendingPayment{
		UserID:        userID,
		SubjectID:     subject.ID,
		Amount:        amount,
		PaymentMethod: method,
		Reference:     reference,
	})
	if err != nil {
		return nil, err
	}

	// Mirror the claim on the payments ledger so open claims are visible
	// there too; resolution flips this row instead of inserting a second.
	_, err = payments.InsertPayment(ctx, &model.Payment{
		UserID:    userID,
		SubjectID: &subject.ID,
		Amount:    amount,
		Method:    method,
		Reference: reference,
		Status:    model.PaymentPending,
	})
	if err != nil {
		return nil, err
	}

	_, err = s.enrollments.WithTx(tx).Upsert(ctx, &model.Enrollment{
		UserID:        userID,
		SubjectID:     subject.ID,
		Amount:        amount,
		PaymentMethod: method,
		PaymentStatus: model.StatusPending,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pending payment: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("subject", subject.Name).
		Str("method", method).
		Msg("payment claim queued for review")

	return pending, nil
}

// ListPendingPayments returns the open admin review queue, oldest first.
func (s *EnrollmentService) ListPendingPayments(ctx context.Context) ([]model.PendingPayment, error) {
	return s.payments.ListPending(ctx)
}

// ApprovePendingPayment resolves a claim in the user's favor: the pending
// row closes, the enrollment activates with a fresh window, a completed
// payment lands in the revenue ledger, and the user is notified. The admin's
// PIN is verified first.
func (s *EnrollmentService) ApprovePendingPayment(ctx context.Context, adminID int64, pin string, pendingID int64, notes *string) error {
	if err := s.verifyAdmin(ctx, adminID, pin); err != nil {
		return err
	}

	pending, err := s.payments.GetPending(ctx, pendingID)
	if err != nil {
		return err
	}

	now := s.now()
	start, expiry := s.window(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	payments := s.payments.WithTx(tx)
	if err := payments.ResolvePending(ctx, pendingID, model.StatusPaid); err != nil {
		return err
	}

	// Only the matching unpaid enrollment gets the fresh window. Zero rows
	// means the user already activated the subject some other way; the
	// claim still settles on the payments ledger below.
	_, err = s.enrollments.WithTx(tx).MarkPaid(ctx, pending.UserID, pending.SubjectID, pending.Amount, start, expiry)
	if err != nil {
		return err
	}

	settled, err := payments.SettleMatching(ctx, pending.UserID, pending.SubjectID, pending.Amount, model.PaymentCompleted)
	if err != nil {
		return err
	}
	if settled == 0 {
		_, err = payments.InsertPayment(ctx, &model.Payment{
			UserID:    pending.UserID,
			SubjectID: &pending.SubjectID,
			Amount:    pending.Amount,
			Method:    pending.PaymentMethod,
			Reference: pending.Reference,
			Status:    model.PaymentCompleted,
		})
		if err != nil {
			return err
		}
	}
	if err := payments.InsertAudit(ctx, pendingID, &adminID, model.AuditApproved, notes); err != nil {
		return err
	}
	_, err = s.notifications.WithTx(tx).Insert(ctx, pending.UserID,
		"Payment approved", "Your enrollment is now active.", nil)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit approval: %w", err)
	}

	log.Info().
		Int64("admin_id", adminID).
		Int64("pending_id", pendingID).
		Int64("user_id", pending.UserID).
		Msg("pending payment approved")

	return nil
}

// RejectPendingPayment resolves a claim against the user: the pending row
// closes, the enrollment is marked failed, a failed payment is recorded for
// the audit trail, and the user is notified.
func (s *EnrollmentService) RejectPendingPayment(ctx context.Context, adminID int64, pin string, pendingID int64, notes *string) error {
	if err := s.verifyAdmin(ctx, adminID, pin); err != nil {
		return err
	}

	pending, err := s.payments.GetPending(ctx, pendingID)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	payments := s.payments.WithTx(tx)
	if err := payments.ResolvePending(ctx, pendingID, model.StatusFailed); err != nil {
		return err
	}
	if err := s.enrollments.WithTx(tx).MarkFailed(ctx, pending.UserID, pending.SubjectID); err != nil {
		return err
	}
	settled, err := payments.SettleMatching(ctx, pending.UserID, pending.SubjectID, pending.Amount, model.PaymentFailed)
	if err != nil {
		return err
	}
	if settled == 0 {
		_, err = payments.InsertPayment(ctx, &model.Payment{
			UserID:    pending.UserID,
			SubjectID: &pending.SubjectID,
			Amount:    pending.Amount,
			Method:    pending.PaymentMethod,
			Reference: pending.Reference,
			Status:    model.PaymentFailed,
		})
		if err != nil {
			return err
		}
	}
	if err := payments.InsertAudit(ctx, pendingID, &adminID, model.AuditRejected, notes); err != nil {
		return err
	}
	_, err = s.notifications.WithTx(tx).Insert(ctx, pending.UserID,
		"Payment rejected", "Your payment claim could not be verified.", nil)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rejection: %w", err)
	}

	log.Info().
		Int64("admin_id", adminID).
		Int64("pending_id", pendingID).
		Int64("user_id", pending.UserID).
		Msg("pending payment rejected")

	return nil
}

// verifyAdmin checks the caller is an admin and their PIN matches.
func (s *EnrollmentService) verifyAdmin(ctx context.Context, adminID int64, pin string) error {
	admin, err := s.users.GetByID(ctx, adminID)
	if err != nil {
		return err
	}
	if admin.Role != model.RoleAdmin {
		return ErrNotAdmin
	}
	if admin.AdminPINHash == nil {
		return ErrPINNotSet
	}
	if bcrypt.CompareHashAndPassword([]byte(*admin.AdminPINHash), []byte(pin)) != nil {
		return ErrInvalidPIN
	}
	return nil
}

// RedeemOfflineCode burns a single-use code and activates an enrollment. A
// subject-restricted code ignores the caller's subject unless they conflict;
// an unrestricted code needs the caller to name one.
func (s *EnrollmentService) RedeemOfflineCode(ctx context.Context, userID int64, code string, subjectID *int64) (*model.Enrollment, error) {
	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	now := s.now()
	start, expiry := s.window(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	burnt, err := s.codes.WithTx(tx).Redeem(ctx, strings.ToUpper(strings.TrimSpace(code)), userID, now)
	if err != nil {
		return nil, err
	}

	var targetID int64
	switch {
	case burnt.SubjectID != nil && subjectID != nil && *burnt.SubjectID != *subjectID:
		return nil, ErrCodeSubjectMismatch
	case burnt.SubjectID != nil:
		targetID = *burnt.SubjectID
	case subjectID != nil:
		targetID = *subjectID
	default:
		return nil, ErrSubjectRequired
	}

	subject, err := s.subjects.WithTx(tx).GetByID(ctx, targetID)
	if err != nil {
		return nil, err
	}

	_, err = s.payments.WithTx(tx).InsertPayment(ctx, &model.Payment{
		UserID:    userID,
		SubjectID: &subject.ID,
		Amount:    burnt.Amount,
		Method:    model.MethodCode,
		Reference: &burnt.Code,
		Status:    model.PaymentCompleted,
	})
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.WithTx(tx).Upsert(ctx, &model.Enrollment{
		UserID:        userID,
		SubjectID:     subject.ID,
		Amount:        burnt.Amount,
		Paid:          true,
		PaymentMethod: model.MethodCode,
		PaymentStatus: model.StatusPaid,
		StartDate:     &start,
		ExpiryDate:    &expiry,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit code redemption: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("code", burnt.Code).
		Str("subject", subject.Name).
		Msg("offline code redeemed")

	return enrollment, nil
}

// GenerateOfflineCodes mints a batch of unredeemed codes in the
// EDU-XXXX-XXXX-XXXX format. Collisions with existing codes surface as an
// insert error; the caller can simply retry.
func (s *EnrollmentService) GenerateOfflineCodes(ctx context.Context, count int, subjectID *int64, amount int64) ([]model.OfflineCode, error) {
	codes := make([]model.OfflineCode, 0, count)
	for i := 0; i < count; i++ {
		codes = append(codes, model.OfflineCode{
			Code:      makeCode(),
			SubjectID: subjectID,
			Amount:    amount,
		})
	}
	if err := s.codes.InsertBatch(ctx, codes); err != nil {
		return nil, err
	}

	log.Info().Int("count", count).Msg("offline codes generated")
	return codes, nil
}

func makeCode() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return fmt.Sprintf("EDU-%s-%s-%s", buf[0:4], buf[4:8], buf[8:12])
}

// ActiveEnrollments prunes the user's expired rows and returns the live
// ones. The prune and the read stay two separate steps so each is
// observable on its own.
func (s *EnrollmentService) ActiveEnrollments(ctx context.Context, userID int64) ([]model.Enrollment, error) {
	now := s.now()
	pruned, err := s.enrollments.PruneExpired(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if pruned > 0 {
		log.Debug().Int64("user_id", userID).Int64("pruned", pruned).Msg("expired enrollments removed")
	}
	return s.enrollments.ListActive(ctx, userID, now)
}

// FreeUnlocks returns the user's unclaimed 90-day streak grants.
func (s *EnrollmentService) FreeUnlocks(ctx context.Context, userID int64) ([]model.FreeUnlock, error) {
	return s.unlocks.ListUnclaimed(ctx, userID)
}

// ClaimFreeUnlock spends the user's oldest unclaimed 90-day grant on a
// subject, activating a reward enrollment.
func (s *EnrollmentService) ClaimFreeUnlock(ctx context.Context, userID, subjectID int64) (*model.Enrollment, error) {
	subject, err := s.subjects.GetByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	s.userLock.Lock(userID)
	defer s.userLock.Unlock(userID)

	now := s.now()
	if existing, err := s.enrollments.Get(ctx, userID, subjectID); err == nil {
		if isActive(existing, now) {
			return nil, ErrAlreadyActive
		}
	} else if !errors.Is(err, repository.ErrEnrollmentNotFound) {
		return nil, err
	}

	start, expiry := s.window(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.unlocks.WithTx(tx).ClaimOldest(ctx, userID, subjectID); err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.WithTx(tx).Upsert(ctx, &model.Enrollment{
		UserID:            userID,
		SubjectID:         subject.ID,
		Paid:              true,
		PaymentMethod:     model.MethodFreeUnlock,
		PaymentStatus:     model.StatusPaid,
		UnlockedViaReward: true,
		StartDate:         &start,
		ExpiryDate:        &expiry,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit free unlock claim: %w", err)
	}

	log.Info().
		Int64("user_id", userID).
		Str("subject", subject.Name).
		Msg("free unlock claimed")

	return enrollment, nil
}
