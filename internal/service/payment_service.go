package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PaymentService runs the two-phase gateway checkout.
type PaymentService struct {
	tx       TxRunner
	payments PaymentStore
	orders   *OrderService
	locks    LockStore
	gateway  PaymentGateway
	currency string
	lockTTL  time.Duration
	keyTTL   time.Duration
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	tx TxRunner,
	payments PaymentStore,
	orders *OrderService,
	locks LockStore,
	gateway PaymentGateway,
	currency string,
	lockTTL, keyTTL time.Duration,
) *PaymentService {
	return &PaymentService{
		tx:       tx,
		payments: payments,
		orders:   orders,
		locks:    locks,
		gateway:  gateway,
		currency: currency,
		lockTTL:  lockTTL,
		keyTTL:   keyTTL,
		logger:   util.GetLogger(),
	}
}

// InitiatePaymentRequest starts a gateway checkout of the cart.
type InitiatePaymentRequest struct {
	AddressID      int64  `json:"address_id" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// InitiatePaymentResponse is what the storefront opens the hosted checkout with.
type InitiatePaymentResponse struct {
	RazorpayOrderID string `json:"razorpayOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	KeyID           string `json:"keyId"`
}

// VerifyPaymentRequest is the hosted checkout success callback.
type VerifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id" binding:"required"`
	RazorpayPaymentID string `json:"razorpay_payment_id" binding:"required"`
	RazorpaySignature string `json:"razorpay_signature" binding:"required"`
}

// FailedPaymentRequest reports a dismissed or failed hosted checkout.
type FailedPaymentRequest struct {
	RazorpayOrderID string `json:"razorpay_order_id" binding:"required"`
	Reason          string `json:"reason"`
}

// checkoutSnapshot is stored with a gateway order so verification charges
// exactly what was quoted.
type checkoutSnapshot struct {
	Quote          Quote          `json:"quote"`
	Address        models.Address `json:"address"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func (q Quote) cartLines() []models.CartLine {
	lines := make([]models.CartLine, 0, len(q.Lines))
	for _, l := range q.Lines {
		lines = append(lines, models.CartLine{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity})
	}
	return lines
}

// InitiateOrderPayment quotes the cart server-side and opens a gateway order
// for its total.
func (ps *PaymentService) InitiateOrderPayment(ctx context.Context, userID int64, req *InitiatePaymentRequest) (*InitiatePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.InitiateOrderPayment")
	defer span.End()

	address, err := ps.orders.resolveAddress(ctx, userID, req.AddressID)
	if err != nil {
		return nil, err
	}

	cart := ps.orders.cart
	items, lines, err := cart.priceCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrCartEmpty
	}
	if err := CheckCartLines(items); err != nil {
		return nil, err
	}
	coupon, err := cart.appliedCoupon(ctx, userID, lines)
	if err != nil {
		return nil, err
	}
	quote := BuildQuote(lines, coupon, cart.deliveryFee)
	if !quote.Total.IsPositive() {
		return nil, ErrInvalidAmount
	}

	snapshot, err := json.Marshal(checkoutSnapshot{Quote: quote, Address: *address, IdempotencyKey: req.IdempotencyKey})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkout snapshot: %w", err)
	}

	receipt := fmt.Sprintf("cart-%d-%d", userID, time.Now().Unix())
	gwOrder, err := ps.gateway.CreateOrder(ctx, quote.Total, ps.currency, receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	payment := &models.Payment{
		UserID:         userID,
		Purpose:        models.PaymentPurposeOrder,
		GatewayOrderID: gwOrder.ID,
		Amount:         quote.Total,
		Currency:       ps.currency,
		Status:         models.GatewayStatusCreated,
		Quote:          snapshot,
	}
	if err := ps.payments.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	ps.logger.Info("Gateway checkout initiated",
		zap.Int64("user_id", userID),
		zap.String("gateway_order_id", gwOrder.ID),
		zap.String("amount", quote.Total.String()))

	return &InitiatePaymentResponse{
		RazorpayOrderID: gwOrder.ID,
		Amount:          gwOrder.Amount,
		Currency:        gwOrder.Currency,
		KeyID:           ps.gateway.KeyID(),
	}, nil
}

// VerifyOrderPayment settles a captured gateway payment into an order. It
// is idempotent per gateway payment.
func (ps *PaymentService) VerifyOrderPayment(ctx context.Context, userID int64, req *VerifyPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyOrderPayment")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.WithLabelValues(models.PaymentMethodRazorpay).Observe(time.Since(start).Seconds())
	}()

	if !ps.gateway.VerifyPaymentSignature(req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature) {
		util.PaymentVerificationsTotal.WithLabelValues("invalid_signature").Inc()
		ps.logger.Warn("Payment signature mismatch",
			zap.Int64("user_id", userID),
			zap.String("gateway_order_id", req.RazorpayOrderID))
		return nil, ErrInvalidSignature
	}

	idemKey := "verify:" + req.RazorpayPaymentID
	if order, ok := ps.verifiedOrder(ctx, userID, idemKey); ok {
		util.PaymentVerificationsTotal.WithLabelValues("duplicate").Inc()
		return order, nil
	}

	release, err := ps.lock(ctx, req.RazorpayOrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := ps.ownedPayment(ctx, userID, req.RazorpayOrderID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.GatewayStatusPaid:
		if payment.OrderID == nil {
			return nil, ErrPaymentNotFound
		}
		util.PaymentVerificationsTotal.WithLabelValues("duplicate").Inc()
		return ps.loadOrder(ctx, *payment.OrderID)
	case models.GatewayStatusRefundedToWallet:
		return nil, ErrRefundedToWallet
	}

	var order *models.Order
	settle := payment.OrderID != nil
	switch {
	case payment.Purpose == models.PaymentPurposeWalletTopUp:
		return nil, ErrPaymentNotFound
	case settle:
		// the order was recorded as failed earlier and is settled in place
		order, err = ps.settleFailedOrder(ctx, payment, req.RazorpayPaymentID)
	default:
		order, err = ps.checkoutFromSnapshot(ctx, payment, req.RazorpayPaymentID)
	}
	if err != nil {
		util.PaymentVerificationsTotal.WithLabelValues("refunded").Inc()
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, ps.refundToWallet(ctx, payment, req.RazorpayPaymentID, err)
	}

	util.PaymentVerificationsTotal.WithLabelValues("paid").Inc()
	if err := ps.locks.SetIdempotencyKey(ctx, idemKey, order.ID, ps.keyTTL); err != nil {
		ps.logger.Warn("Failed to store verification key", zap.String("key", idemKey), zap.Error(err))
	}
	ps.orders.publishPlaced(ctx, order)
	if !settle {
		ps.orders.cart.Clear(ctx, userID)
	}
	return order, nil
}

// checkoutFromSnapshot commits the checkout with the quoted prices.
func (ps *PaymentService) checkoutFromSnapshot(ctx context.Context, payment *models.Payment, gatewayPaymentID string) (*models.Order, error) {
	var snap checkoutSnapshot
	if err := json.Unmarshal(payment.Quote, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode checkout snapshot: %w", err)
	}

	return ps.orders.commitCheckout(ctx, &checkoutPlan{
		userID:         payment.UserID,
		address:        snap.Address,
		method:         models.PaymentMethodRazorpay,
		paymentStatus:  models.PaymentStatusPaid,
		idempotencyKey: snap.IdempotencyKey,
		lines:          snap.Quote.cartLines(),
		lockedQuote:    &snap.Quote,
		holdStock:      true,
		consumeCoupon:  true,
		afterCreate:    markPayment(payment.GatewayOrderID, models.GatewayStatusPaid, gatewayPaymentID),
	})
}

// settleFailedOrder takes stock and consumes the coupon for an order whose
// first payment attempt failed, then marks it paid.
func (ps *PaymentService) settleFailedOrder(ctx context.Context, payment *models.Payment, gatewayPaymentID string) (*models.Order, error) {
	var order *models.Order
	err := ps.tx.InTx(ctx, func(tx CheckoutTx) error {
		o, err := tx.GetOrderForUpdate(ctx, *payment.OrderID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if o == nil {
			return ErrOrderNotFound
		}
		if o.Status != models.OrderStatusPending || o.PaymentStatus != models.PaymentStatusFailed {
			return ErrPaymentNotRetryable
		}

		items, err := tx.GetOrderItems(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		o.Items = items

		lines := itemLines(items)
		_, cartItems, err := lockLines(ctx, tx, lines)
		if err != nil {
			return err
		}
		if err := CheckCartLines(cartItems); err != nil {
			return err
		}
		if err := reserveStock(ctx, tx, lines); err != nil {
			return err
		}
		if o.CouponCode != "" {
			if err := consumeCoupon(ctx, tx, o.CouponCode, o.UserID, o.ID); err != nil {
				return err
			}
		}

		o.PaymentStatus = models.PaymentStatusPaid
		o.StockHeld = true
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		order = o
		return markPayment(payment.GatewayOrderID, models.GatewayStatusPaid, gatewayPaymentID)(ctx, tx, o)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// refundToWallet credits a captured payment that could not become an order.
func (ps *PaymentService) refundToWallet(ctx context.Context, payment *models.Payment, gatewayPaymentID string, cause error) error {
	var credited bool
	err := ps.tx.InTx(ctx, func(tx CheckoutTx) error {
		p, err := tx.GetPaymentForUpdate(ctx, payment.GatewayOrderID)
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		if p == nil {
			return ErrPaymentNotFound
		}
		ref := gatewayPaymentID
		credited, err = tx.AppendWalletTransaction(ctx, &models.WalletTransaction{
			UserID:      p.UserID,
			Type:        models.WalletCredit,
			Amount:      p.Amount,
			Description: "Refund for payment " + gatewayPaymentID,
			OrderID:     p.OrderID,
			Reference:   &ref,
		})
		if err != nil {
			return fmt.Errorf("failed to credit wallet: %w", err)
		}
		p.Status = models.GatewayStatusRefundedToWallet
		p.GatewayPaymentID = gatewayPaymentID
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		ps.logger.Error("Failed to refund captured payment to wallet",
			zap.String("gateway_order_id", payment.GatewayOrderID),
			zap.String("gateway_payment_id", gatewayPaymentID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return fmt.Errorf("checkout failed after capture: %w", cause)
	}

	ps.logger.Warn("Captured payment refunded to wallet",
		zap.Int64("user_id", payment.UserID),
		zap.String("gateway_order_id", payment.GatewayOrderID),
		zap.String("amount", payment.Amount.String()),
		zap.NamedError("cause", cause))
	if credited {
		util.WalletCreditsTotal.WithLabelValues("payment_refund").Inc()
		ps.orders.publishWallet(ctx, models.EventTypeWalletCredited, payment.UserID, payment.Amount, payment.OrderID,
			"Refund for payment "+gatewayPaymentID)
	}
	return fmt.Errorf("%w: %w", ErrRefundedToWallet, cause)
}

// RecordFailedPayment stores an order for a gateway checkout that did not
// complete. The order holds no stock and consumes no coupon.
func (ps *PaymentService) RecordFailedPayment(ctx context.Context, userID int64, req *FailedPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RecordFailedPayment")
	defer span.End()

	release, err := ps.lock(ctx, req.RazorpayOrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := ps.ownedPayment(ctx, userID, req.RazorpayOrderID)
	if err != nil {
		return nil, err
	}
	if payment.Purpose == models.PaymentPurposeWalletTopUp {
		return nil, ErrPaymentNotFound
	}
	if payment.OrderID != nil {
		return ps.loadOrder(ctx, *payment.OrderID)
	}
	if payment.Status != models.GatewayStatusCreated {
		return nil, ErrPaymentNotRetryable
	}

	var snap checkoutSnapshot
	if err := json.Unmarshal(payment.Quote, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode checkout snapshot: %w", err)
	}

	order, err := ps.orders.commitCheckout(ctx, &checkoutPlan{
		userID:        userID,
		address:       snap.Address,
		method:        models.PaymentMethodRazorpay,
		paymentStatus: models.PaymentStatusFailed,
		lines:         snap.Quote.cartLines(),
		lockedQuote:   &snap.Quote,
		afterCreate:   markPayment(payment.GatewayOrderID, models.GatewayStatusFailed, ""),
	})
	if err != nil {
		return nil, err
	}

	util.OrdersFailedTotal.WithLabelValues("payment_failed").Inc()
	ps.logger.Warn("Payment failed; order recorded",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_order_id", req.RazorpayOrderID),
		zap.String("reason", req.Reason))

	event := &models.PaymentFailedEvent{
		BaseEvent:      newBaseEvent(models.EventTypePaymentFailed),
		OrderID:        order.ID,
		UserID:         userID,
		GatewayOrderID: req.RazorpayOrderID,
		Amount:         order.TotalAmount,
		Reason:         req.Reason,
	}
	if err := ps.orders.events.PublishPaymentFailed(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}

	ps.orders.cart.Clear(ctx, userID)
	return order, nil
}

// RetryOrderPayment opens a new gateway order for an order whose payment failed.
func (ps *PaymentService) RetryOrderPayment(ctx context.Context, userID, orderID int64) (*InitiatePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RetryOrderPayment")
	defer span.End()

	order, err := ps.orders.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	if order.PaymentStatus != models.PaymentStatusFailed || order.Status != models.OrderStatusPending {
		return nil, ErrPaymentNotRetryable
	}

	gwOrder, err := ps.gateway.CreateOrder(ctx, order.TotalAmount, ps.currency, "order-"+strconv.FormatInt(order.ID, 10))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	payment := &models.Payment{
		UserID:         userID,
		OrderID:        &order.ID,
		Purpose:        models.PaymentPurposeOrderRetry,
		GatewayOrderID: gwOrder.ID,
		Amount:         order.TotalAmount,
		Currency:       ps.currency,
		Status:         models.GatewayStatusCreated,
	}
	if err := ps.payments.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	ps.logger.Info("Payment retry initiated",
		zap.Int64("order_id", order.ID),
		zap.String("gateway_order_id", gwOrder.ID))

	return &InitiatePaymentResponse{
		RazorpayOrderID: gwOrder.ID,
		Amount:          gwOrder.Amount,
		Currency:        gwOrder.Currency,
		KeyID:           ps.gateway.KeyID(),
	}, nil
}

// markPayment returns a hook that updates the locked payment row for the
// order just written.
func markPayment(gatewayOrderID, status, gatewayPaymentID string) func(ctx context.Context, tx CheckoutTx, o *models.Order) error {
	return func(ctx context.Context, tx CheckoutTx, o *models.Order) error {
		p, err := tx.GetPaymentForUpdate(ctx, gatewayOrderID)
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		if p == nil {
			return ErrPaymentNotFound
		}
		p.Status = status
		p.OrderID = &o.ID
		if gatewayPaymentID != "" {
			p.GatewayPaymentID = gatewayPaymentID
		}
		return tx.UpdatePayment(ctx, p)
	}
}

func (ps *PaymentService) lock(ctx context.Context, gatewayOrderID string) (func(), error) {
	key := "payment:" + gatewayOrderID
	token, acquired, err := ps.locks.AcquireLock(ctx, key, ps.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire payment lock: %w", err)
	}
	if !acquired {
		return nil, ErrPaymentInProgress
	}
	return func() {
		if err := ps.locks.ReleaseLock(context.Background(), key, token); err != nil {
			ps.logger.Warn("Failed to release payment lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (ps *PaymentService) ownedPayment(ctx context.Context, userID int64, gatewayOrderID string) (*models.Payment, error) {
	payment, err := ps.payments.GetPaymentByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil || payment.UserID != userID {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (ps *PaymentService) verifiedOrder(ctx context.Context, userID int64, key string) (*models.Order, bool) {
	value, found, err := ps.locks.GetIdempotencyKey(ctx, key)
	if err != nil || !found {
		return nil, false
	}
	orderID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, false
	}
	order, err := ps.loadOrder(ctx, orderID)
	if err != nil || order.UserID != userID {
		return nil, false
	}
	return order, true
}

func (ps *PaymentService) loadOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := ps.orders.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	items, err := ps.orders.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}
