package service

import (
	"context"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAddress(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	a, err := h.addresses.Create(ctx, customer, &AddressRequest{
		Name: " Asha ", Phone: "9876543210", Line1: "12 MG Road", City: "Bengaluru", State: "KA", Pincode: "560001",
	})
	require.NoError(t, err)
	assert.Equal(t, "Asha", a.Name)
	assert.Equal(t, customer, a.UserID)

	_, err = h.addresses.Create(ctx, customer, &AddressRequest{Name: "Asha", Line1: "12 MG Road", City: "Bengaluru", Pincode: "5600"})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	list, err := h.addresses.List(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOffers(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	now := time.Now()
	req := &OfferRequest{
		Name: "Monsoon sale", Scope: models.OfferScopeCategory, TargetID: 3, DiscountPercent: dec("20"),
		ValidFrom: now, ValidUntil: now.Add(72 * time.Hour),
	}

	o, err := h.offers.Create(ctx, req)
	require.NoError(t, err)
	assert.True(t, o.IsActive)

	req.DiscountPercent = dec("0")
	_, err = h.offers.Create(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidOffer)

	require.NoError(t, h.offers.Deactivate(ctx, o.ID))
	assert.ErrorIs(t, h.offers.Deactivate(ctx, 404), ErrOfferNotFound)

	all, err := h.offers.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}
