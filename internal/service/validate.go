package service

import (
	"context"
	"strings"

	"edubox-core/internal/repository"
)

// Validation issue codes, stable identifiers the client maps to messages.
const (
	IssueEmpty          = "empty"
	IssueMissingPrefix  = "missing_prefix"
	IssueBadLength      = "bad_length"
	IssueAlreadyUsed    = "reference_already_used"
	IssueLowEntropy     = "low_entropy"
	IssueRepeatedByUser = "repeated_by_user"
	IssueAmountMismatch = "amount_mismatch"
)

// ValidationResult is the advisory verdict on a payment reference. Each
// issue costs 25 points off a 100 score; the result never blocks submission
// by itself.
type ValidationResult struct {
	OK     bool
	Issues []string
	Score  int
}

// ValidationOpts carries the optional context checks.
type ValidationOpts struct {
	UserID    *int64
	SubjectID *int64
	Amount    *int64
}

// ReferenceValidator runs the offline heuristics over a manual payment
// reference before it enters the review queue: format, length, entropy,
// prior use, per-user repetition and amount match.
type ReferenceValidator struct {
	payments *repository.PaymentRepository
	subjects *repository.SubjectRepository
}

// NewReferenceValidator creates a new ReferenceValidator instance.
func NewReferenceValidator(payments *repository.PaymentRepository, subjects *repository.SubjectRepository) *ReferenceValidator {
	return &ReferenceValidator{payments: payments, subjects: subjects}
}

// ValidatePaymentReference scores one reference. An empty reference
// short-circuits to score 0.
func (v *ReferenceValidator) ValidatePaymentReference(ctx context.Context, reference string, opts ValidationOpts) (*ValidationResult, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return &ValidationResult{OK: false, Issues: []string{IssueEmpty}, Score: 0}, nil
	}

	var issues []string

	if !strings.HasPrefix(ref, "EDU-") {
		issues = append(issues, IssueMissingPrefix)
	}

	if len(ref) < 8 || len(ref) > 64 {
		issues = append(issues, IssueBadLength)
	}

	used, err := v.payments.CountReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if used > 0 {
		issues = append(issues, IssueAlreadyUsed)
	}

	if !hasLetter(ref) || !hasDigit(ref) {
		issues = append(issues, IssueLowEntropy)
	}

	if opts.UserID != nil {
		repeats, err := v.payments.CountReferenceByUser(ctx, ref, *opts.UserID)
		if err != nil {
			return nil, err
		}
		if repeats > 1 {
			issues = append(issues, IssueRepeatedByUser)
		}
	}

	if opts.Amount != nil && opts.SubjectID != nil {
		subject, err := v.subjects.GetByID(ctx, *opts.SubjectID)
		if err != nil {
			return nil, err
		}
		if *opts.Amount != subject.Price {
			issues = append(issues, IssueAmountMismatch)
		}
	}

	return &ValidationResult{
		OK:     len(issues) == 0,
		Issues: issues,
		Score:  referenceScore(len(issues)),
	}, nil
}

// referenceScore maps an issue count to the 0..100 score.
func referenceScore(issues int) int {
	score := 100 - issues*25
	if score < 0 {
		return 0
	}
	return score
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
