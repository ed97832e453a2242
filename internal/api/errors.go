package api

import (
	"errors"
	"net/http"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order. ErrRefundedToWallet wraps its cause, so it
// comes first.
var errorTable = []errorMapping{
	{service.ErrRefundedToWallet, http.StatusConflict, "refunded_to_wallet"},
	{service.ErrCartInvalid, http.StatusConflict, "cart_invalid"},
	{service.ErrCartEmpty, http.StatusBadRequest, "cart_empty"},
	{service.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{service.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{service.ErrCouponNotFound, http.StatusNotFound, "coupon_not_found"},
	{service.ErrCouponExpired, http.StatusBadRequest, "coupon_expired"},
	{service.ErrBelowMinimum, http.StatusBadRequest, "below_minimum"},
	{service.ErrCouponInactive, http.StatusBadRequest, "coupon_inactive"},
	{service.ErrCouponUsageLimit, http.StatusBadRequest, "usage_limit_reached"},
	{service.ErrCouponExists, http.StatusConflict, "coupon_exists"},
	{service.ErrInvalidCoupon, http.StatusBadRequest, "invalid_coupon"},
	{service.ErrInvalidOffer, http.StatusBadRequest, "invalid_offer"},
	{service.ErrOfferNotFound, http.StatusNotFound, "offer_not_found"},
	{service.ErrAddressNotFound, http.StatusNotFound, "address_not_found"},
	{service.ErrInvalidAddress, http.StatusBadRequest, "invalid_address"},
	{service.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
	{service.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{service.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{service.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{service.ErrInvalidPayment, http.StatusBadRequest, "invalid_payment_method"},
	{service.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{service.ErrPaymentInProgress, http.StatusConflict, "payment_in_progress"},
	{service.ErrPaymentNotRetryable, http.StatusConflict, "payment_not_retryable"},
	{service.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
}

// writeError renders err as {"error": code, "details": message}.
func writeError(c *gin.Context, err error) {
	for _, m := range errorTable {
		if !errors.Is(err, m.err) {
			continue
		}
		body := gin.H{"error": m.code, "details": err.Error()}
		var cve *service.CartValidationError
		if errors.As(err, &cve) {
			body["issues"] = cve.Issues
		}
		c.JSON(m.status, body)
		return
	}

	util.GetLogger().Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"details": "something went wrong, please try again",
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"details": err.Error(),
	})
}
