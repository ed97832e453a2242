package service

import (
	"strings"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// QuoteLine is a priced cart line.
type QuoteLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Quote is the server-computed price breakdown for a checkout.
type Quote struct {
	Lines       []QuoteLine     `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	CouponCode  string          `json:"coupon_code,omitempty"`
}

// NormalizeCode upper-cases and trims a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCoupon checks that coupon c may be applied to a cart with the given
// subtotal at time now. Per-user usage is checked separately because it
// needs the ledger of past usages.
func ValidateCoupon(c *models.Coupon, subtotal decimal.Decimal, now time.Time) error {
	if c == nil {
		return ErrCouponNotFound
	}
	if !c.IsActive {
		return ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return ErrCouponExpired
	}
	if subtotal.LessThan(c.MinPurchase) {
		return ErrBelowMinimum
	}
	return nil
}

// ComputeDiscount returns the discount coupon c grants on subtotal. The result
// never exceeds the subtotal.
func ComputeDiscount(c *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if c == nil || !subtotal.IsPositive() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountPercentage:
		discount = subtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
			discount = c.MaxDiscount.Decimal
		}
	case models.DiscountFlat:
		discount = c.DiscountValue
	default:
		return decimal.Zero
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	return discount.Round(2)
}

// CalculateTotal returns subtotal + deliveryFee - discount, never below zero.
func CalculateTotal(subtotal, deliveryFee, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Add(deliveryFee).Sub(discount)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// ValidateCouponDefinition checks the invariants an admin-created coupon must hold.
func ValidateCouponDefinition(c *models.Coupon) error {
	switch {
	case NormalizeCode(c.Code) == "":
		return ErrInvalidCoupon
	case !c.ValidFrom.Before(c.ValidUntil):
		return ErrInvalidCoupon
	case c.MinPurchase.IsNegative() || c.UsageLimit < 0:
		return ErrInvalidCoupon
	}

	switch c.DiscountType {
	case models.DiscountPercentage:
		if !c.DiscountValue.IsPositive() || c.DiscountValue.GreaterThan(hundred) {
			return ErrInvalidCoupon
		}
		if !c.MaxDiscount.Valid || !c.MaxDiscount.Decimal.IsPositive() {
			return ErrInvalidCoupon
		}
	case models.DiscountFlat:
		if !c.DiscountValue.IsPositive() {
			return ErrInvalidCoupon
		}
	default:
		return ErrInvalidCoupon
	}
	return nil
}

// ValidateOfferDefinition checks an admin-created offer.
func ValidateOfferDefinition(o *models.Offer) error {
	if o.Scope != models.OfferScopeProduct && o.Scope != models.OfferScopeCategory {
		return ErrInvalidOffer
	}
	if o.TargetID <= 0 || !o.ValidFrom.Before(o.ValidUntil) {
		return ErrInvalidOffer
	}
	if !o.DiscountPercent.IsPositive() || !o.DiscountPercent.LessThan(hundred) {
		return ErrInvalidOffer
	}
	return nil
}

// EffectivePrice applies the best offer valid at now to the product's list price.
func EffectivePrice(p *models.Product, offers []models.Offer, now time.Time) decimal.Decimal {
	best := decimal.Zero
	for _, o := range offers {
		if !o.IsActive || now.Before(o.ValidFrom) || now.After(o.ValidUntil) {
			continue
		}
		applies := (o.Scope == models.OfferScopeProduct && o.TargetID == p.ID) ||
			(o.Scope == models.OfferScopeCategory && o.TargetID == p.CategoryID)
		if applies && o.DiscountPercent.GreaterThan(best) {
			best = o.DiscountPercent
		}
	}
	if best.IsZero() {
		return p.Price
	}
	return p.Price.Sub(p.Price.Mul(best).Div(hundred)).Round(2)
}

// BuildQuote prices lines and applies an already validated coupon.
func BuildQuote(lines []QuoteLine, coupon *models.Coupon, deliveryFee decimal.Decimal) Quote {
	q := Quote{
		Lines:       make([]QuoteLine, 0, len(lines)),
		Subtotal:    decimal.Zero,
		DeliveryFee: deliveryFee,
		Discount:    decimal.Zero,
	}
	for _, l := range lines {
		l.LineTotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		q.Subtotal = q.Subtotal.Add(l.LineTotal)
		q.Lines = append(q.Lines, l)
	}
	if coupon != nil {
		q.Discount = ComputeDiscount(coupon, q.Subtotal)
		q.CouponCode = coupon.Code
	}
	q.Total = CalculateTotal(q.Subtotal, q.DeliveryFee, q.Discount)
	return q
}
