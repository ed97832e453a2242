package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// ReportDateLayout is the layout of the from/to query parameters.
const ReportDateLayout = "2006-01-02"

// ReportService builds the admin sales report.
type ReportService struct {
	store ReportStore
}

// NewReportService creates a new report service
func NewReportService(store ReportStore) *ReportService {
	return &ReportService{store: store}
}

// SalesSummary totals a sales report.
type SalesSummary struct {
	Orders      int             `json:"orders"`
	Gross       decimal.Decimal `json:"gross"`
	Discounts   decimal.Decimal `json:"discounts"`
	DeliveryFee decimal.Decimal `json:"delivery_fees"`
	Net         decimal.Decimal `json:"net"`
}

// SalesReport is per-day sales for [From, To).
type SalesReport struct {
	From    time.Time         `json:"from"`
	To      time.Time         `json:"to"`
	Days    []models.SalesDay `json:"days"`
	Summary SalesSummary      `json:"summary"`
}

// ParseRange parses YYYY-MM-DD bounds. An empty to means one day after from;
// an empty from means 30 days before to.
func ParseRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	var (
		start, end time.Time
		err        error
	)
	if to != "" {
		end, err = time.ParseInLocation(ReportDateLayout, to, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date: %w", err)
		}
	}
	if from != "" {
		start, err = time.ParseInLocation(ReportDateLayout, from, time.UTC)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date: %w", err)
		}
	}

	switch {
	case start.IsZero() && end.IsZero():
		end = now.UTC().Truncate(24*time.Hour).AddDate(0, 0, 1)
		start = end.AddDate(0, 0, -30)
	case start.IsZero():
		start = end.AddDate(0, 0, -30)
	case end.IsZero():
		end = start.AddDate(0, 0, 1)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be before to")
	}
	return start, end, nil
}

// Sales aggregates orders placed in [from, to), excluding failed payments
// and cancelled orders.
func (s *ReportService) Sales(ctx context.Context, from, to time.Time) (*SalesReport, error) {
	days, err := s.store.SalesByDay(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sales: %w", err)
	}

	report := &SalesReport{From: from, To: to, Days: days}
	sum := &report.Summary
	for _, d := range days {
		sum.Orders += d.Orders
		sum.Gross = sum.Gross.Add(d.Gross)
		sum.Discounts = sum.Discounts.Add(d.Discounts)
		sum.DeliveryFee = sum.DeliveryFee.Add(d.DeliveryFee)
		sum.Net = sum.Net.Add(d.Net)
	}
	return report, nil
}
