package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	couponFilterCapacity = 100_000
	couponFilterFPR      = 0.001
)

// CouponService applies, removes and administers coupons.
type CouponService struct {
	store  CouponStore
	carts  CartStore
	cart   *CartService
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewCouponService creates a new coupon service
func NewCouponService(store CouponStore, carts CartStore, cart *CartService) *CouponService {
	return &CouponService{
		store:  store,
		carts:  carts,
		cart:   cart,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// CouponApplication is the result of applying a coupon to the cart.
type CouponApplication struct {
	Code     string          `json:"code"`
	Discount decimal.Decimal `json:"discount"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`
}

// LoadFilter builds the known-codes filter from the store.
func (s *CouponService) LoadFilter(ctx context.Context) error {
	codes, err := s.store.ListCouponCodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list coupon codes: %w", err)
	}

	filter := bloom.NewWithEstimates(couponFilterCapacity, couponFilterFPR)
	for _, code := range codes {
		filter.AddString(NormalizeCode(code))
	}

	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()

	s.logger.Info("Coupon filter loaded", zap.Int("codes", len(codes)))
	return nil
}

// mayExist reports false only for codes that were certainly never created.
func (s *CouponService) mayExist(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.filter == nil {
		return true
	}
	return s.filter.TestString(code)
}

// Apply validates code against the current cart and makes it the cart's
// single active coupon, replacing any previous one.
func (s *CouponService) Apply(ctx context.Context, userID int64, code string) (*CouponApplication, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.Apply")
	defer span.End()

	code = NormalizeCode(code)
	coupon, err := s.lookup(ctx, code)
	if err != nil {
		s.reject(err)
		return nil, err
	}

	_, lines, err := s.cart.priceCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrCartEmpty
	}

	subtotal := BuildQuote(lines, nil, decimal.Zero).Subtotal
	if err := ValidateCoupon(coupon, subtotal, s.now()); err != nil {
		s.reject(err)
		return nil, err
	}
	if err := s.checkUsage(ctx, coupon, userID); err != nil {
		s.reject(err)
		return nil, err
	}

	if err := s.carts.SetAppliedCoupon(ctx, userID, coupon.Code); err != nil {
		return nil, fmt.Errorf("failed to store applied coupon: %w", err)
	}

	quote := BuildQuote(lines, coupon, s.cart.deliveryFee)
	util.CouponAppliedTotal.Inc()
	s.logger.Info("Coupon applied",
		zap.Int64("user_id", userID),
		zap.String("code", coupon.Code),
		zap.String("discount", quote.Discount.String()))

	return &CouponApplication{
		Code:     coupon.Code,
		Discount: quote.Discount,
		Subtotal: quote.Subtotal,
		Total:    quote.Total,
	}, nil
}

// Remove drops the cart's active coupon.
func (s *CouponService) Remove(ctx context.Context, userID int64) error {
	if err := s.carts.ClearAppliedCoupon(ctx, userID); err != nil {
		return fmt.Errorf("failed to remove applied coupon: %w", err)
	}
	return nil
}

// ListAvailable returns active coupons whose validity window contains now.
func (s *CouponService) ListAvailable(ctx context.Context) ([]models.Coupon, error) {
	return s.store.ListValidCoupons(ctx, s.now())
}

// CreateCouponRequest is the admin payload for a new coupon.
type CreateCouponRequest struct {
	Code          string           `json:"code" binding:"required"`
	DiscountType  string           `json:"discount_type" binding:"required,oneof=percentage flat"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount"`
	ValidFrom     time.Time        `json:"valid_from" binding:"required"`
	ValidUntil    time.Time        `json:"valid_until" binding:"required"`
	UsageLimit    int              `json:"usage_limit"`
	MinPurchase   decimal.Decimal  `json:"min_purchase"`
}

// Create validates and stores a coupon.
func (s *CouponService) Create(ctx context.Context, req CreateCouponRequest) (*models.Coupon, error) {
	c := &models.Coupon{
		Code:          NormalizeCode(req.Code),
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		UsageLimit:    req.UsageLimit,
		MinPurchase:   req.MinPurchase,
		IsActive:      true,
	}
	if req.MaxDiscount != nil {
		c.MaxDiscount = decimal.NullDecimal{Decimal: *req.MaxDiscount, Valid: true}
	}
	if err := ValidateCouponDefinition(c); err != nil {
		return nil, err
	}

	if err := s.store.CreateCoupon(ctx, c); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.filter != nil {
		s.filter.AddString(c.Code)
	}
	s.mu.Unlock()

	s.logger.Info("Coupon created", zap.String("code", c.Code), zap.Int64("coupon_id", c.ID))
	return c, nil
}

// List returns every coupon for the admin dashboard.
func (s *CouponService) List(ctx context.Context) ([]models.Coupon, error) {
	return s.store.ListCoupons(ctx)
}

// Deactivate disables a coupon. Its code stays reserved.
func (s *CouponService) Deactivate(ctx context.Context, id int64) error {
	found, err := s.store.DeactivateCoupon(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate coupon: %w", err)
	}
	if !found {
		return ErrCouponNotFound
	}
	return nil
}

func (s *CouponService) lookup(ctx context.Context, code string) (*models.Coupon, error) {
	if code == "" || !s.mayExist(code) {
		return nil, ErrCouponNotFound
	}
	c, err := s.store.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	if c == nil {
		return nil, ErrCouponNotFound
	}
	return c, nil
}

func (s *CouponService) checkUsage(ctx context.Context, c *models.Coupon, userID int64) error {
	if c.UsageLimit <= 0 {
		return nil
	}
	used, err := s.store.CountCouponUsage(ctx, c.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to count coupon usage: %w", err)
	}
	if used >= c.UsageLimit {
		return ErrCouponUsageLimit
	}
	return nil
}

func (s *CouponService) reject(err error) {
	reason := "error"
	switch {
	case errors.Is(err, ErrCouponNotFound):
		reason = "not_found"
	case errors.Is(err, ErrCouponExpired):
		reason = "expired"
	case errors.Is(err, ErrBelowMinimum):
		reason = "below_minimum"
	case errors.Is(err, ErrCouponInactive):
		reason = "inactive"
	case errors.Is(err, ErrCouponUsageLimit):
		reason = "usage_limit"
	}
	util.CouponRejectedTotal.WithLabelValues(reason).Inc()
}
