package service

import (
	"context"
	"errors"
	"testing"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *checkoutFixture) initiate(t *testing.T) *InitiatePaymentResponse {
	t.Helper()
	resp, err := f.payments.InitiateOrderPayment(context.Background(), customer, &InitiatePaymentRequest{AddressID: f.address})
	require.NoError(t, err)
	return resp
}

func (f *checkoutFixture) verify(userID int64, gatewayOrderID, paymentID string) (*models.Order, error) {
	return f.payments.VerifyOrderPayment(context.Background(), userID, &VerifyPaymentRequest{
		RazorpayOrderID:   gatewayOrderID,
		RazorpayPaymentID: paymentID,
		RazorpaySignature: f.sign(gatewayOrderID, paymentID),
	})
}

func (f *checkoutFixture) applyCoupon(t *testing.T, c models.Coupon) models.Coupon {
	t.Helper()
	c = f.coupon(c)
	_, err := f.coupons.Apply(context.Background(), customer, c.Code)
	require.NoError(t, err)
	return c
}

func TestInitiateOrderPayment(t *testing.T) {
	f := newCheckout(t)
	f.applyCoupon(t, models.Coupon{Code: "SAVE50", DiscountType: models.DiscountFlat, DiscountValue: dec("50")})

	resp := f.initiate(t)

	assert.Equal(t, int64(45000), resp.Amount)
	assert.Equal(t, "INR", resp.Currency)
	assert.Equal(t, "rzp_test_key", resp.KeyID)

	p := f.store.payment(resp.RazorpayOrderID)
	assert.Equal(t, models.PaymentPurposeOrder, p.Purpose)
	assert.Equal(t, models.GatewayStatusCreated, p.Status)
	assert.True(t, dec("450").Equal(p.Amount))
	assert.Nil(t, p.OrderID)

	// nothing is reserved until the payment is verified
	assert.Equal(t, 5, f.store.product(f.shirt).Stock)
	assert.Zero(t, f.store.orderCount())
}

func TestInitiateOrderPaymentRejectsCart(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	f.store.setStock(f.shirt, 1)

	_, err := f.payments.InitiateOrderPayment(ctx, customer, &InitiatePaymentRequest{AddressID: f.address})
	var cve *CartValidationError
	assert.True(t, errors.As(err, &cve), "got %v", err)

	f.cart.Clear(ctx, customer)
	_, err = f.payments.InitiateOrderPayment(ctx, customer, &InitiatePaymentRequest{AddressID: f.address})
	assert.ErrorIs(t, err, ErrCartEmpty)
}

func TestVerifyOrderPayment(t *testing.T) {
	f := newCheckout(t)
	c := f.applyCoupon(t, models.Coupon{Code: "SAVE50", DiscountType: models.DiscountFlat, DiscountValue: dec("50"), UsageLimit: 1})
	resp := f.initiate(t)

	order, err := f.verify(customer, resp.RazorpayOrderID, "pay_001")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentMethodRazorpay, order.PaymentMethod)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.True(t, dec("450").Equal(order.TotalAmount))
	assert.Equal(t, 3, f.store.product(f.shirt).Stock)
	assert.Equal(t, 1, f.store.usageCount(c.ID, customer))

	p := f.store.payment(resp.RazorpayOrderID)
	assert.Equal(t, models.GatewayStatusPaid, p.Status)
	assert.Equal(t, "pay_001", p.GatewayPaymentID)
	require.NotNil(t, p.OrderID)
	assert.Equal(t, order.ID, *p.OrderID)

	lines, err := f.cart.Lines(context.Background(), customer)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderPlaced))
}

func TestVerifyOrderPaymentIsIdempotent(t *testing.T) {
	f := newCheckout(t)
	resp := f.initiate(t)

	first, err := f.verify(customer, resp.RazorpayOrderID, "pay_001")
	require.NoError(t, err)
	second, err := f.verify(customer, resp.RazorpayOrderID, "pay_001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// without the cached key the payment row still answers
	f.redis.forgetKeys()
	third, err := f.verify(customer, resp.RazorpayOrderID, "pay_001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Len(t, third.Items, 2)

	assert.Equal(t, 1, f.store.orderCount())
	assert.Equal(t, 3, f.store.product(f.shirt).Stock)
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderPlaced))
}

func TestVerifyOrderPaymentInvalidSignature(t *testing.T) {
	f := newCheckout(t)
	resp := f.initiate(t)

	_, err := f.payments.VerifyOrderPayment(context.Background(), customer, &VerifyPaymentRequest{
		RazorpayOrderID:   resp.RazorpayOrderID,
		RazorpayPaymentID: "pay_001",
		RazorpaySignature: f.sign(resp.RazorpayOrderID, "pay_002"),
	})
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, f.store.orderCount())
	assert.Equal(t, models.GatewayStatusCreated, f.store.payment(resp.RazorpayOrderID).Status)
}

func TestVerifyOrderPaymentRefundsToWallet(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	resp := f.initiate(t)

	// stock sold out between opening the checkout and the capture
	f.store.setStock(f.shirt, 1)

	_, err := f.verify(customer, resp.RazorpayOrderID, "pay_001")
	require.ErrorIs(t, err, ErrRefundedToWallet)
	var cve *CartValidationError
	assert.True(t, errors.As(err, &cve), "got %v", err)

	assert.Zero(t, f.store.orderCount())
	assert.Equal(t, 1, f.store.product(f.shirt).Stock)
	assert.Equal(t, models.GatewayStatusRefundedToWallet, f.store.payment(resp.RazorpayOrderID).Status)

	balance, err := f.wallet.Balance(ctx, customer)
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(balance), "balance %s", balance)

	_, err = f.verify(customer, resp.RazorpayOrderID, "pay_001")
	assert.ErrorIs(t, err, ErrRefundedToWallet)
	balance, err = f.wallet.Balance(ctx, customer)
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(balance), "balance %s", balance)
	assert.Equal(t, 1, f.events.count(models.EventTypeWalletCredited))
}

func TestVerifyOrderPaymentInProgress(t *testing.T) {
	f := newCheckout(t)
	resp := f.initiate(t)
	_, ok, err := f.redis.AcquireLock(context.Background(), "payment:"+resp.RazorpayOrderID, 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.verify(customer, resp.RazorpayOrderID, "pay_001")
	assert.ErrorIs(t, err, ErrPaymentInProgress)
	assert.Zero(t, f.store.orderCount())
}

func TestVerifyOrderPaymentKeepsForeignLock(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	resp := f.initiate(t)
	key := "payment:" + resp.RazorpayOrderID

	order, err := f.verify(customer, resp.RazorpayOrderID, "pay_001")
	require.NoError(t, err)
	require.NotNil(t, order)

	// the verifier's release is done; a stale token must not free a newer holder
	token, ok, err := f.redis.AcquireLock(ctx, key, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.redis.ReleaseLock(ctx, key, "stale"))

	_, ok, err = f.redis.AcquireLock(ctx, key, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.redis.ReleaseLock(ctx, key, token))
	_, ok, err = f.redis.AcquireLock(ctx, key, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInitiateOrderPaymentFailsWhenCouponUnreadable(t *testing.T) {
	f := newCheckout(t)
	f.applyCoupon(t, models.Coupon{Code: "SAVE50", DiscountType: models.DiscountFlat, DiscountValue: dec("50")})
	f.redis.failAppliedCoupon(errors.New("redis: connection reset"))

	resp, err := f.payments.InitiateOrderPayment(context.Background(), customer, &InitiatePaymentRequest{AddressID: f.address})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load applied coupon")
	assert.Nil(t, resp)
	assert.Zero(t, f.gateway.n)
}

func TestVerifyOrderPaymentOwnership(t *testing.T) {
	f := newCheckout(t)
	resp := f.initiate(t)

	_, err := f.verify(2, resp.RazorpayOrderID, "pay_001")
	assert.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = f.verify(customer, "order_unknown", "pay_001")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestRecordFailedPayment(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	c := f.applyCoupon(t, models.Coupon{Code: "SAVE50", DiscountType: models.DiscountFlat, DiscountValue: dec("50"), UsageLimit: 1})
	resp := f.initiate(t)

	req := &FailedPaymentRequest{RazorpayOrderID: resp.RazorpayOrderID, Reason: "payment dismissed"}
	order, err := f.payments.RecordFailedPayment(ctx, customer, req)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusFailed, order.PaymentStatus)
	assert.False(t, order.StockHeld)
	assert.True(t, dec("450").Equal(order.TotalAmount))
	assert.Equal(t, "SAVE50", order.CouponCode)

	assert.Equal(t, 5, f.store.product(f.shirt).Stock)
	assert.Zero(t, f.store.usageCount(c.ID, customer))
	assert.Equal(t, models.GatewayStatusFailed, f.store.payment(resp.RazorpayOrderID).Status)

	again, err := f.payments.RecordFailedPayment(ctx, customer, req)
	require.NoError(t, err)
	assert.Equal(t, order.ID, again.ID)
	assert.Equal(t, 1, f.store.orderCount())
	assert.Equal(t, 1, f.events.count(models.EventTypePaymentFailed))

	lines, err := f.cart.Lines(ctx, customer)
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = f.orders.AdminUpdateStatus(ctx, order.ID, models.OrderStatusShipped)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelFailedOrderReleasesNothing(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	resp := f.initiate(t)
	order, err := f.payments.RecordFailedPayment(ctx, customer, &FailedPaymentRequest{RazorpayOrderID: resp.RazorpayOrderID})
	require.NoError(t, err)

	cancelled, err := f.orders.Cancel(ctx, customer, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, cancelled.PaymentStatus)
	assert.Equal(t, 5, f.store.product(f.shirt).Stock)
	assert.Empty(t, f.store.ledgerFor(customer))
}

func TestRetryOrderPayment(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	c := f.applyCoupon(t, models.Coupon{Code: "SAVE50", DiscountType: models.DiscountFlat, DiscountValue: dec("50"), UsageLimit: 1})
	first := f.initiate(t)
	failed, err := f.payments.RecordFailedPayment(ctx, customer, &FailedPaymentRequest{RazorpayOrderID: first.RazorpayOrderID})
	require.NoError(t, err)

	// the customer keeps shopping before retrying
	_, err = f.cart.Add(ctx, customer, AddItemRequest{ProductID: f.socks, Quantity: 1})
	require.NoError(t, err)

	retry, err := f.payments.RetryOrderPayment(ctx, customer, failed.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.RazorpayOrderID, retry.RazorpayOrderID)
	assert.Equal(t, int64(45000), retry.Amount)
	p := f.store.payment(retry.RazorpayOrderID)
	assert.Equal(t, models.PaymentPurposeOrderRetry, p.Purpose)
	require.NotNil(t, p.OrderID)
	assert.Equal(t, failed.ID, *p.OrderID)

	paid, err := f.verify(customer, retry.RazorpayOrderID, "pay_retry")
	require.NoError(t, err)
	assert.Equal(t, failed.ID, paid.ID)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.True(t, paid.StockHeld)
	assert.Equal(t, 3, f.store.product(f.shirt).Stock)
	assert.Equal(t, 9, f.store.product(f.socks).Stock)
	assert.Equal(t, 1, f.store.usageCount(c.ID, customer))
	assert.Equal(t, 1, f.store.orderCount())
	assert.Equal(t, 1, f.redis.quantity(customer, f.socks, ""))

	_, err = f.payments.RetryOrderPayment(ctx, customer, failed.ID)
	assert.ErrorIs(t, err, ErrPaymentNotRetryable)
}

func TestLateCaptureAfterRetryRefunds(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	first := f.initiate(t)
	failed, err := f.payments.RecordFailedPayment(ctx, customer, &FailedPaymentRequest{RazorpayOrderID: first.RazorpayOrderID})
	require.NoError(t, err)
	retry, err := f.payments.RetryOrderPayment(ctx, customer, failed.ID)
	require.NoError(t, err)
	_, err = f.verify(customer, retry.RazorpayOrderID, "pay_retry")
	require.NoError(t, err)

	// the first attempt is captured after all
	_, err = f.verify(customer, first.RazorpayOrderID, "pay_first")
	require.ErrorIs(t, err, ErrRefundedToWallet)
	assert.ErrorIs(t, err, ErrPaymentNotRetryable)

	balance, err := f.wallet.Balance(ctx, customer)
	require.NoError(t, err)
	assert.True(t, dec("500").Equal(balance), "balance %s", balance)
	assert.Equal(t, 3, f.store.product(f.shirt).Stock)
}

func TestRetryOrderPaymentRejects(t *testing.T) {
	f := newCheckout(t)
	ctx := context.Background()
	order, err := f.place(models.PaymentMethodCOD)
	require.NoError(t, err)

	_, err = f.payments.RetryOrderPayment(ctx, customer, order.ID)
	assert.ErrorIs(t, err, ErrPaymentNotRetryable)

	_, err = f.payments.RetryOrderPayment(ctx, 2, order.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
