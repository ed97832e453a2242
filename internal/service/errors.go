package service

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors. The API layer maps these to status codes and error codes.
var (
	ErrCouponNotFound      = errors.New("coupon not found")
	ErrCouponExpired       = errors.New("coupon is not valid at this time")
	ErrBelowMinimum        = errors.New("cart subtotal is below the coupon minimum purchase")
	ErrCouponInactive      = errors.New("coupon is no longer active")
	ErrCouponUsageLimit    = errors.New("coupon usage limit reached")
	ErrCouponExists        = errors.New("coupon code already exists")
	ErrInvalidCoupon       = errors.New("invalid coupon definition")
	ErrInvalidOffer        = errors.New("invalid offer definition")
	ErrOfferNotFound       = errors.New("offer not found")
	ErrCartEmpty           = errors.New("cart is empty")
	ErrCartInvalid         = errors.New("cart has unavailable items")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrProductNotFound     = errors.New("product not found")
	ErrAddressNotFound     = errors.New("address not found")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidTransition   = errors.New("order status transition not allowed")
	ErrInvalidStatus       = errors.New("unknown order status")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidPayment      = errors.New("unsupported payment method")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentInProgress   = errors.New("payment verification already in progress")
	ErrPaymentNotRetryable = errors.New("order payment cannot be retried")
	ErrInvalidSignature    = errors.New("payment signature verification failed")
	ErrRefundedToWallet    = errors.New("order could not be placed; payment credited to wallet")
)

// Cart line issue reasons
const (
	IssueInactive          = "inactive"
	IssueInsufficientStock = "insufficient_stock"
)

// LineIssue describes why a cart line blocks checkout.
type LineIssue struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Reason    string `json:"reason"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// CartValidationError lists every cart line that blocks checkout.
type CartValidationError struct {
	Issues []LineIssue
}

func (e *CartValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, fmt.Sprintf("product %d: %s", is.ProductID, is.Reason))
	}
	return fmt.Sprintf("%s (%s)", ErrCartInvalid.Error(), strings.Join(parts, ", "))
}

func (e *CartValidationError) Unwrap() error {
	return ErrCartInvalid
}
