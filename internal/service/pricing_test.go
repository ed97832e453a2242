package service

import (
	"errors"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func percentage(value, max string) *models.Coupon {
	return &models.Coupon{
		Code:          "PCT",
		DiscountType:  models.DiscountPercentage,
		DiscountValue: dec(value),
		MaxDiscount:   decimal.NullDecimal{Decimal: dec(max), Valid: true},
	}
}

func flat(value string) *models.Coupon {
	return &models.Coupon{Code: "FLAT", DiscountType: models.DiscountFlat, DiscountValue: dec(value)}
}

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   *models.Coupon
		subtotal string
		want     string
	}{
		{"no coupon", nil, "460", "0"},
		{"percentage under cap", percentage("10", "100"), "460", "46"},
		{"percentage capped", percentage("50", "100"), "460", "100"},
		{"flat", flat("50"), "460", "50"},
		{"flat capped at subtotal", flat("600"), "460", "460"},
		{"rounded to paise", percentage("15", "100"), "99.99", "15"},
		{"empty cart", flat("50"), "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDiscount(tt.coupon, dec(tt.subtotal))
			assert.True(t, dec(tt.want).Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestCalculateTotal(t *testing.T) {
	assert.True(t, dec("450").Equal(CalculateTotal(dec("460"), dec("40"), dec("50"))))
	assert.True(t, decimal.Zero.Equal(CalculateTotal(dec("10"), dec("0"), dec("25"))))
}

func TestBuildQuote(t *testing.T) {
	lines := []QuoteLine{
		{ProductID: 1, Name: "Linen Shirt", Size: "M", Quantity: 2, UnitPrice: dec("200")},
		{ProductID: 2, Name: "Socks", Quantity: 1, UnitPrice: dec("60")},
	}

	q := BuildQuote(lines, flat("50"), dec("40"))

	assert.True(t, dec("460").Equal(q.Subtotal))
	assert.True(t, dec("50").Equal(q.Discount))
	assert.True(t, dec("450").Equal(q.Total))
	assert.True(t, dec("400").Equal(q.Lines[0].LineTotal))
	assert.Equal(t, "FLAT", q.CouponCode)

	plain := BuildQuote(lines, nil, dec("40"))
	assert.True(t, dec("500").Equal(plain.Total))
	assert.Empty(t, plain.CouponCode)
}

func TestValidateCoupon(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	valid := func() *models.Coupon {
		c := flat("50")
		c.IsActive = true
		c.ValidFrom = now.Add(-time.Hour)
		c.ValidUntil = now.Add(time.Hour)
		c.MinPurchase = dec("300")
		return c
	}

	tests := []struct {
		name     string
		mutate   func(c *models.Coupon) *models.Coupon
		subtotal string
		want     error
	}{
		{"valid", func(c *models.Coupon) *models.Coupon { return c }, "460", nil},
		{"missing", func(c *models.Coupon) *models.Coupon { return nil }, "460", ErrCouponNotFound},
		{"inactive", func(c *models.Coupon) *models.Coupon { c.IsActive = false; return c }, "460", ErrCouponInactive},
		{"not started", func(c *models.Coupon) *models.Coupon { c.ValidFrom = now.Add(time.Minute); return c }, "460", ErrCouponExpired},
		{"expired", func(c *models.Coupon) *models.Coupon { c.ValidUntil = now.Add(-time.Minute); return c }, "460", ErrCouponExpired},
		{"ends now", func(c *models.Coupon) *models.Coupon { c.ValidUntil = now; return c }, "460", nil},
		{"below minimum", func(c *models.Coupon) *models.Coupon { return c }, "299.99", ErrBelowMinimum},
		{"at minimum", func(c *models.Coupon) *models.Coupon { return c }, "300", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoupon(tt.mutate(valid()), dec(tt.subtotal), now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestValidateCouponDefinition(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 1, 0)
	base := func(c *models.Coupon) *models.Coupon {
		c.ValidFrom, c.ValidUntil = from, until
		return c
	}

	assert.NoError(t, ValidateCouponDefinition(base(flat("50"))))
	assert.NoError(t, ValidateCouponDefinition(base(percentage("10", "200"))))

	noCap := base(percentage("10", "0"))
	noCap.MaxDiscount = decimal.NullDecimal{}
	assert.ErrorIs(t, ValidateCouponDefinition(noCap), ErrInvalidCoupon)
	assert.ErrorIs(t, ValidateCouponDefinition(base(percentage("120", "100"))), ErrInvalidCoupon)
	assert.ErrorIs(t, ValidateCouponDefinition(base(flat("0"))), ErrInvalidCoupon)

	reversed := flat("50")
	reversed.ValidFrom, reversed.ValidUntil = until, from
	assert.ErrorIs(t, ValidateCouponDefinition(reversed), ErrInvalidCoupon)

	blank := base(flat("50"))
	blank.Code = "  "
	assert.ErrorIs(t, ValidateCouponDefinition(blank), ErrInvalidCoupon)

	negative := base(flat("50"))
	negative.UsageLimit = -1
	assert.ErrorIs(t, ValidateCouponDefinition(negative), ErrInvalidCoupon)
}

func TestEffectivePrice(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	p := &models.Product{ID: 7, CategoryID: 3, Price: dec("1000")}
	offer := func(scope string, target int64, pct string) models.Offer {
		return models.Offer{
			Scope: scope, TargetID: target, DiscountPercent: dec(pct),
			ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour), IsActive: true,
		}
	}

	assert.True(t, dec("1000").Equal(EffectivePrice(p, nil, now)))

	best := []models.Offer{
		offer(models.OfferScopeProduct, 7, "10"),
		offer(models.OfferScopeCategory, 3, "20"),
		offer(models.OfferScopeProduct, 8, "50"),
	}
	assert.True(t, dec("800").Equal(EffectivePrice(p, best, now)))

	expired := offer(models.OfferScopeProduct, 7, "40")
	expired.ValidUntil = now.Add(-time.Minute)
	inactive := offer(models.OfferScopeCategory, 3, "40")
	inactive.IsActive = false
	assert.True(t, dec("1000").Equal(EffectivePrice(p, []models.Offer{expired, inactive}, now)))
}

func TestValidateOfferDefinition(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ok := &models.Offer{Scope: models.OfferScopeCategory, TargetID: 3, DiscountPercent: dec("15"), ValidFrom: from, ValidUntil: from.AddDate(0, 0, 7)}
	assert.NoError(t, ValidateOfferDefinition(ok))

	for name, mutate := range map[string]func(o models.Offer) models.Offer{
		"scope":   func(o models.Offer) models.Offer { o.Scope = "brand"; return o },
		"target":  func(o models.Offer) models.Offer { o.TargetID = 0; return o },
		"window":  func(o models.Offer) models.Offer { o.ValidUntil = o.ValidFrom; return o },
		"zero":    func(o models.Offer) models.Offer { o.DiscountPercent = decimal.Zero; return o },
		"hundred": func(o models.Offer) models.Offer { o.DiscountPercent = dec("100"); return o },
	} {
		o := mutate(*ok)
		assert.ErrorIs(t, ValidateOfferDefinition(&o), ErrInvalidOffer, name)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE50", NormalizeCode("  save50 "))
}
