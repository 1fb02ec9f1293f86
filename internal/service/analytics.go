package service

import (
	"context"
	"time"

	"edubox-core/internal/repository"
)

// RevenueReport is the admin dashboard summary.
type RevenueReport struct {
	TotalRevenue  int64
	BySubject     []repository.SubjectSales
	ByMethod      []repository.MethodStats
	CodesIssued   int64
	CodesRedeemed int64
}

// AnalyticsService serves the admin reporting queries. Everything here is a
// read over the payments and codes ledgers.
type AnalyticsService struct {
	payments *repository.PaymentRepository
	codes    *repository.CodeRepository
}

// NewAnalyticsService creates a new AnalyticsService instance.
func NewAnalyticsService(payments *repository.PaymentRepository, codes *repository.CodeRepository) *AnalyticsService {
	return &AnalyticsService{payments: payments, codes: codes}
}

// TotalRevenue sums completed payments, optionally bounded by [from, to).
func (s *AnalyticsService) TotalRevenue(ctx context.Context, from, to *time.Time) (int64, error) {
	return s.payments.TotalRevenue(ctx, from, to)
}

// SalesBySubject breaks revenue down per subject.
func (s *AnalyticsService) SalesBySubject(ctx context.Context) ([]repository.SubjectSales, error) {
	return s.payments.SalesBySubject(ctx)
}

// PaymentStats breaks completed payments down per method.
func (s *AnalyticsService) PaymentStats(ctx context.Context) ([]repository.MethodStats, error) {
	return s.payments.StatsByMethod(ctx)
}

// CodeRedemptions counts issued vs redeemed offline codes.
func (s *AnalyticsService) CodeRedemptions(ctx context.Context) (issued, redeemed int64, err error) {
	return s.codes.RedemptionStats(ctx)
}

// Report assembles the full dashboard in one call.
func (s *AnalyticsService) Report(ctx context.Context) (*RevenueReport, error) {
	total, err := s.payments.TotalRevenue(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	bySubject, err := s.payments.SalesBySubject(ctx)
	if err != nil {
		return nil, err
	}
	byMethod, err := s.payments.StatsByMethod(ctx)
	if err != nil {
		return nil, err
	}
	issued, redeemed, err := s.codes.RedemptionStats(ctx)
	if err != nil {
		return nil, err
	}

	return &RevenueReport{
		TotalRevenue:  total,
		BySubject:     bySubject,
		ByMethod:      byMethod,
		CodesIssued:   issued,
		CodesRedeemed: redeemed,
	}, nil
}
