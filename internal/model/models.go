// Package model defines the data models for the EduBox ledger core.
package model

import "time"

// User represents a learner (or admin) account.
type User struct {
	ID           int64     `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	AdminPINHash *string   `db:"admin_pin_hash"`
	XP           int64     `db:"xp"`
	Level        int       `db:"level"`
	TotalScore   int64     `db:"total_score"`
	LastSubject  *string   `db:"last_subject"`
	CreatedAt    time.Time `db:"created_at"`
}

// Subject is a catalog entry. Prices are integer naira.
type Subject struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Price       int64  `db:"price"`
	IsFree      bool   `db:"is_free"`
	Track       string `db:"track"`
	Category    string `db:"category"`
}

// Enrollment ties a user to a subject with payment state and a validity
// window. At most one row exists per (user, subject); renewals update the
// row in place.
type Enrollment struct {
	ID                int64      `db:"id"`
	UserID            int64      `db:"user_id"`
	SubjectID         int64      `db:"subject_id"`
	Amount            int64      `db:"amount"`
	AmountPieces      int64      `db:"amount_pieces"`
	Paid              bool       `db:"paid"`
	PaymentMethod     string     `db:"payment_method"`
	PaymentStatus     string     `db:"payment_status"`
	UnlockedViaReward bool       `db:"unlocked_via_reward"`
	StartDate         *time.Time `db:"start_date"`
	ExpiryDate        *time.Time `db:"expiry_date"`
	CreatedAt         time.Time  `db:"created_at"`
}

// PendingPayment is an unverified manual/online payment claim awaiting
// admin approval.
type PendingPayment struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	SubjectID     int64     `db:"subject_id"`
	Amount        int64     `db:"amount"`
	PaymentMethod string    `db:"payment_method"`
	Reference     *string   `db:"reference"`
	Status        string    `db:"status"`
	CreatedAt     time.Time `db:"created_at"`
}

// Payment is an audit record of a payment attempt.
type Payment struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	SubjectID *int64    `db:"subject_id"`
	Amount    int64     `db:"amount"`
	Method    string    `db:"method"`
	Reference *string   `db:"reference"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

// PaymentAudit records an admin approve/reject action on a pending payment.
type PaymentAudit struct {
	ID          int64     `db:"id"`
	PendingID   int64     `db:"pending_id"`
	AdminUserID *int64    `db:"admin_user_id"`
	Action      string    `db:"action"`
	Notes       *string   `db:"notes"`
	CreatedAt   time.Time `db:"created_at"`
}

// OfflineCode is a single-use redemption token, optionally restricted to a
// subject. NULL subject means the code unlocks any subject.
type OfflineCode struct {
	ID         int64      `db:"id"`
	Code       string     `db:"code"`
	SubjectID  *int64     `db:"subject_id"`
	Amount     int64      `db:"amount"`
	Redeemed   bool       `db:"redeemed"`
	RedeemedBy *int64     `db:"redeemed_by"`
	RedeemedAt *time.Time `db:"redeemed_at"`
}

// EngagementRecord is the per-user daily engagement state: one streak
// counter, the last day the app was opened, the last day the quiz threshold
// was confirmed, and the one-time bonus flags for the current streak cycle.
type EngagementRecord struct {
	UserID            int64      `db:"user_id"`
	Streak            int        `db:"streak"`
	LastLoginDate     *time.Time `db:"last_login_date"`
	LastConfirmedDate *time.Time `db:"last_confirmed_date"`
	QuizCountToday    int        `db:"quiz_count_today"`
	QuizCountDate     *time.Time `db:"quiz_count_date"`
	MonthlyAwarded    bool       `db:"monthly_awarded"`
	NinetyAwarded     bool       `db:"ninety_awarded"`
}

// EngagementDay is one calendar cell: whether the day was confirmed and how
// many pieces it earned.
type EngagementDay struct {
	Date      time.Time
	Finalized bool
	Pieces    int
}

// ScoreEvent is one append-only leaderboard score insertion.
type ScoreEvent struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Username  string    `db:"username"`
	Subject   string    `db:"subject"`
	Points    int64     `db:"points"`
	CreatedAt time.Time `db:"created_at"`
}

// LeaderboardEntry is an aggregated leaderboard row.
type LeaderboardEntry struct {
	Username  string `db:"username"`
	Points    int64  `db:"points"`
	QuizCount int64  `db:"quiz_count"`
	Accuracy  int    `db:"accuracy"`
}

// Achievement is an awarded badge. Duplicate badge names are allowed.
type Achievement struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Badge     string    `db:"badge"`
	AwardedAt time.Time `db:"awarded_at"`
}

// FreeUnlock is a claimable subject grant earned by a 90-day streak.
type FreeUnlock struct {
	ID               int64     `db:"id"`
	UserID           int64     `db:"user_id"`
	Claimed          bool      `db:"claimed"`
	ClaimedSubjectID *int64    `db:"claimed_subject_id"`
	GrantedAt        time.Time `db:"granted_at"`
}

// Notification is a stored user-visible message; delivery is the UI's job.
type Notification struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	Data      []byte    `db:"data"`
	Read      bool      `db:"read"`
	CreatedAt time.Time `db:"created_at"`
}

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Payment methods for enrollments.
const (
	MethodFree         = "free"
	MethodPieces       = "pieces"
	MethodOfflineLocal = "offline_local"
	MethodCode         = "code"
	MethodManual       = "manual"
	MethodOnline       = "online"
	MethodRenew        = "renew"
	MethodFreeUnlock   = "free_unlock"
)

// Enrollment / pending payment statuses.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

// Payment row statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Audit actions.
const (
	AuditApproved = "approved"
	AuditRejected = "rejected"
)

// Score event categories for ledger-issued points.
const (
	ScoreCategoryLogin       = "Login"
	ScoreCategoryStreakBonus = "30-day streak bonus"
)

// Leaderboard periods.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "allTime"
)

// Leaderboard modes.
const (
	ModeOverall = "overall"
	ModeSubject = "subject"
)
