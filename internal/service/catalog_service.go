package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AddressService manages a customer's saved delivery addresses.
type AddressService struct {
	store AddressStore
}

// NewAddressService creates a new address service
func NewAddressService(store AddressStore) *AddressService {
	return &AddressService{store: store}
}

// AddressRequest is a new delivery address.
type AddressRequest struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone" binding:"required"`
	Line1   string `json:"line1" binding:"required"`
	Line2   string `json:"line2"`
	City    string `json:"city" binding:"required"`
	State   string `json:"state" binding:"required"`
	Pincode string `json:"pincode" binding:"required"`
}

// Create saves an address for userID.
func (s *AddressService) Create(ctx context.Context, userID int64, req *AddressRequest) (*models.Address, error) {
	a := &models.Address{
		UserID:  userID,
		Name:    strings.TrimSpace(req.Name),
		Phone:   strings.TrimSpace(req.Phone),
		Line1:   strings.TrimSpace(req.Line1),
		Line2:   strings.TrimSpace(req.Line2),
		City:    strings.TrimSpace(req.City),
		State:   strings.TrimSpace(req.State),
		Pincode: strings.TrimSpace(req.Pincode),
	}
	if a.Name == "" || a.Line1 == "" || a.City == "" || len(a.Pincode) != 6 {
		return nil, ErrInvalidAddress
	}
	if err := s.store.CreateAddress(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}
	return a, nil
}

// List returns the caller's addresses.
func (s *AddressService) List(ctx context.Context, userID int64) ([]models.Address, error) {
	return s.store.ListAddresses(ctx, userID)
}

// OfferService manages product and category offers.
type OfferService struct {
	store  OfferStore
	logger *zap.Logger
}

// NewOfferService creates a new offer service
func NewOfferService(store OfferStore) *OfferService {
	return &OfferService{store: store, logger: util.GetLogger()}
}

// OfferRequest is the admin payload for a new offer.
type OfferRequest struct {
	Name            string          `json:"name" binding:"required"`
	Scope           string          `json:"scope" binding:"required,oneof=product category"`
	TargetID        int64           `json:"target_id" binding:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	ValidFrom       time.Time       `json:"valid_from" binding:"required"`
	ValidUntil      time.Time       `json:"valid_until" binding:"required"`
}

// Create validates and stores an offer.
func (s *OfferService) Create(ctx context.Context, req *OfferRequest) (*models.Offer, error) {
	o := &models.Offer{
		Name:            strings.TrimSpace(req.Name),
		Scope:           req.Scope,
		TargetID:        req.TargetID,
		DiscountPercent: req.DiscountPercent,
		ValidFrom:       req.ValidFrom,
		ValidUntil:      req.ValidUntil,
		IsActive:        true,
	}
	if err := ValidateOfferDefinition(o); err != nil {
		return nil, err
	}
	if err := s.store.CreateOffer(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	s.logger.Info("Offer created",
		zap.Int64("offer_id", o.ID),
		zap.String("scope", o.Scope),
		zap.Int64("target_id", o.TargetID))
	return o, nil
}

// List returns every offer.
func (s *OfferService) List(ctx context.Context) ([]models.Offer, error) {
	return s.store.ListOffers(ctx)
}

// Deactivate disables an offer.
func (s *OfferService) Deactivate(ctx context.Context, id int64) error {
	found, err := s.store.DeactivateOffer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate offer: %w", err)
	}
	if !found {
		return ErrOfferNotFound
	}
	return nil
}
