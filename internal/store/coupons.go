package store

import (
	"context"
	"database/sql"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
)

// GetCouponByCode retrieves a coupon by its normalized code
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c, "SELECT * FROM coupons WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountCouponUsage counts how many orders userID has placed with the coupon
func (s *Store) CountCouponUsage(ctx context.Context, couponID, userID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2", couponID, userID)
	return n, err
}

// CreateCoupon creates a new coupon
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
		INSERT INTO coupons (code, discount_type, discount_value, max_discount, valid_from, valid_until,
			usage_limit, min_purchase, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := s.db.QueryRowxContext(ctx, query,
		c.Code, c.DiscountType, c.DiscountValue, c.MaxDiscount, c.ValidFrom, c.ValidUntil,
		c.UsageLimit, c.MinPurchase, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
	if isUniqueViolation(err) {
		return service.ErrCouponExists
	}
	return err
}

// ListCoupons returns every coupon, newest first
func (s *Store) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	coupons := []models.Coupon{}
	err := s.db.SelectContext(ctx, &coupons, "SELECT * FROM coupons ORDER BY created_at DESC")
	return coupons, err
}

// ListValidCoupons returns active coupons whose window contains now
func (s *Store) ListValidCoupons(ctx context.Context, now time.Time) ([]models.Coupon, error) {
	coupons := []models.Coupon{}
	err := s.db.SelectContext(ctx, &coupons,
		`SELECT * FROM coupons WHERE is_active AND valid_from <= $1 AND valid_until >= $1
		 ORDER BY valid_until`, now)
	return coupons, err
}

// DeactivateCoupon disables a coupon; false means no such coupon
func (s *Store) DeactivateCoupon(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE coupons SET is_active = FALSE WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListCouponCodes returns every coupon code ever created
func (s *Store) ListCouponCodes(ctx context.Context) ([]string, error) {
	codes := []string{}
	err := s.db.SelectContext(ctx, &codes, "SELECT code FROM coupons")
	return codes, err
}
