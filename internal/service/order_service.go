package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService handles checkout and the order lifecycle
type OrderService struct {
	tx        TxRunner
	orders    OrderReader
	catalog   CatalogStore
	addresses AddressStore
	cart      *CartService
	events    EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	tx TxRunner,
	orders OrderReader,
	catalog CatalogStore,
	addresses AddressStore,
	cart *CartService,
	events EventPublisher,
) *OrderService {
	return &OrderService{
		tx:        tx,
		orders:    orders,
		catalog:   catalog,
		addresses: addresses,
		cart:      cart,
		events:    events,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// PlaceOrderRequest represents a request to check out the cart
type PlaceOrderRequest struct {
	AddressID      int64  `json:"address_id" binding:"required"`
	PaymentMethod  string `json:"payment_method" binding:"required"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// OrderDetail is an order with the statuses it may move to next.
type OrderDetail struct {
	*models.Order
	AllowedStatuses []string `json:"allowed_statuses"`
}

// OrderPage is one page of an order listing.
type OrderPage struct {
	Orders []models.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

// checkoutPlan describes one run of the checkout transaction.
type checkoutPlan struct {
	userID         int64
	address        models.Address
	method         string
	paymentStatus  string
	idempotencyKey string
	lines          []models.CartLine
	couponCode     string

	// lockedQuote fixes prices to what the customer was charged.
	lockedQuote *Quote
	// holdStock runs the stock gate and decrements stock.
	holdStock bool
	// consumeCoupon validates the coupon under lock and records usage.
	consumeCoupon bool
	// afterCreate runs inside the transaction once the order has an id.
	afterCreate func(ctx context.Context, tx CheckoutTx, o *models.Order) error
}

// PlaceOrder checks out the caller's cart with cod or wallet.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int64, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.WithLabelValues(req.PaymentMethod).Observe(time.Since(start).Seconds())
	}()

	if req.PaymentMethod != models.PaymentMethodCOD && req.PaymentMethod != models.PaymentMethodWallet {
		return nil, ErrInvalidPayment
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
	}

	address, err := s.resolveAddress(ctx, userID, req.AddressID)
	if err != nil {
		return nil, err
	}

	lines, err := s.cart.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrCartEmpty
	}
	code, err := s.cart.carts.GetAppliedCoupon(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied coupon: %w", err)
	}

	paymentStatus := models.PaymentStatusPending
	if req.PaymentMethod == models.PaymentMethodWallet {
		paymentStatus = models.PaymentStatusPaid
	}

	order, err := s.commitCheckout(ctx, &checkoutPlan{
		userID:         userID,
		address:        *address,
		method:         req.PaymentMethod,
		paymentStatus:  paymentStatus,
		idempotencyKey: req.IdempotencyKey,
		lines:          lines,
		couponCode:     code,
		holdStock:      true,
		consumeCoupon:  true,
	})
	if err != nil {
		if req.IdempotencyKey != "" {
			// a concurrent request with the same key may have won the insert
			if existing, lookupErr := s.orders.GetOrderByIdempotencyKey(ctx, userID, req.IdempotencyKey); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	s.publishPlaced(ctx, order)
	s.cart.Clear(ctx, userID)
	return order, nil
}

// commitCheckout runs the checkout transaction described by plan.
func (s *OrderService) commitCheckout(ctx context.Context, plan *checkoutPlan) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.commitCheckout")
	defer span.End()

	var offers []models.Offer
	if plan.lockedQuote == nil {
		var err error
		offers, err = s.catalog.ListActiveOffers(ctx, s.now())
		if err != nil {
			return nil, fmt.Errorf("failed to load offers: %w", err)
		}
	}

	var order *models.Order
	err := s.tx.InTx(ctx, func(tx CheckoutTx) error {
		products, items, err := lockLines(ctx, tx, plan.lines)
		if err != nil {
			return err
		}
		if plan.holdStock {
			if err := CheckCartLines(items); err != nil {
				return err
			}
		}

		quote, coupon, err := s.priceLocked(ctx, tx, plan, products, offers)
		if err != nil {
			return err
		}

		if plan.method == models.PaymentMethodWallet {
			if err := tx.LockWallet(ctx, plan.userID); err != nil {
				return fmt.Errorf("failed to lock wallet: %w", err)
			}
			balance, err := tx.WalletBalance(ctx, plan.userID)
			if err != nil {
				return fmt.Errorf("failed to read wallet balance: %w", err)
			}
			if balance.LessThan(quote.Total) {
				return ErrInsufficientBalance
			}
		}

		if plan.holdStock {
			if err := reserveStock(ctx, tx, plan.lines); err != nil {
				return err
			}
		}

		order = &models.Order{
			UserID:          plan.userID,
			DeliveryAddress: models.AddressSnapshot(plan.address),
			PaymentMethod:   plan.method,
			PaymentStatus:   plan.paymentStatus,
			Status:          models.OrderStatusPending,
			Subtotal:        quote.Subtotal,
			DeliveryFee:     quote.DeliveryFee,
			DiscountAmount:  quote.Discount,
			TotalAmount:     quote.Total,
			CouponCode:      quote.CouponCode,
			StockHeld:       plan.holdStock,
			IdempotencyKey:  plan.idempotencyKey,
			Items:           make([]models.OrderItem, 0, len(quote.Lines)),
		}
		for _, l := range quote.Lines {
			order.Items = append(order.Items, models.OrderItem{
				ProductID:   l.ProductID,
				ProductName: l.Name,
				Size:        l.Size,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
			})
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		if coupon != nil && plan.consumeCoupon {
			if err := tx.RecordCouponUsage(ctx, coupon.ID, plan.userID, order.ID); err != nil {
				return fmt.Errorf("failed to record coupon usage: %w", err)
			}
		}

		if plan.method == models.PaymentMethodWallet && order.TotalAmount.IsPositive() {
			ref := "order:" + strconv.FormatInt(order.ID, 10)
			if _, err := tx.AppendWalletTransaction(ctx, &models.WalletTransaction{
				UserID:      plan.userID,
				Type:        models.WalletDebit,
				Amount:      order.TotalAmount,
				Description: fmt.Sprintf("Payment for order #%d", order.ID),
				OrderID:     &order.ID,
				Reference:   &ref,
			}); err != nil {
				return fmt.Errorf("failed to debit wallet: %w", err)
			}
		}

		if plan.afterCreate != nil {
			return plan.afterCreate(ctx, tx, order)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// priceLocked prices the plan's lines. With a locked quote the charged
// prices stand and only coupon usage is re-checked.
func (s *OrderService) priceLocked(ctx context.Context, tx CheckoutTx, plan *checkoutPlan, products map[int64]*models.Product, offers []models.Offer) (Quote, *models.Coupon, error) {
	var coupon *models.Coupon
	code := plan.couponCode
	if plan.lockedQuote != nil {
		code = plan.lockedQuote.CouponCode
	}
	if code != "" && (plan.consumeCoupon || plan.lockedQuote == nil) {
		c, err := tx.LockCoupon(ctx, code)
		if err != nil {
			return Quote{}, nil, fmt.Errorf("failed to lock coupon: %w", err)
		}
		if c == nil {
			return Quote{}, nil, ErrCouponNotFound
		}
		coupon = c
	}

	var quote Quote
	if plan.lockedQuote != nil {
		quote = *plan.lockedQuote
	} else {
		now := s.now()
		lines := make([]QuoteLine, 0, len(plan.lines))
		for _, l := range plan.lines {
			p := products[l.ProductID]
			if p == nil {
				return Quote{}, nil, ErrProductNotFound
			}
			lines = append(lines, QuoteLine{
				ProductID: l.ProductID,
				Name:      p.Name,
				Size:      l.Size,
				Quantity:  l.Quantity,
				UnitPrice: EffectivePrice(p, offers, now),
			})
		}
		quote = BuildQuote(lines, nil, s.cart.deliveryFee)
	}

	if coupon == nil {
		return quote, nil, nil
	}
	if plan.lockedQuote == nil {
		if err := ValidateCoupon(coupon, quote.Subtotal, s.now()); err != nil {
			return Quote{}, nil, err
		}
		quote = BuildQuote(quote.Lines, coupon, quote.DeliveryFee)
	}
	if plan.consumeCoupon {
		if err := checkCouponUsage(ctx, tx, coupon, plan.userID); err != nil {
			return Quote{}, nil, err
		}
	}
	return quote, coupon, nil
}

// publishPlaced records metrics and publishes events once an order has been
// paid for or committed as cod.
func (s *OrderService) publishPlaced(ctx context.Context, order *models.Order) {
	util.OrdersPlacedTotal.WithLabelValues(order.PaymentMethod).Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("payment_method", order.PaymentMethod),
		zap.String("total", order.TotalAmount.String()))

	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, models.OrderItemData{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	event := &models.OrderPlacedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:       order.ID,
		UserID:        order.UserID,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount,
		Items:         items,
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	if order.PaymentMethod == models.PaymentMethodWallet && order.TotalAmount.IsPositive() {
		util.WalletDebitsTotal.Inc()
		s.publishWallet(ctx, models.EventTypeWalletDebited, order.UserID, order.TotalAmount, &order.ID,
			fmt.Sprintf("Payment for order #%d", order.ID))
	}
}

// Cancel cancels a pending order on behalf of its owner.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID int64, reason string) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderStatusCancelled, reason, ownedBy(userID))
}

// RequestReturn returns a delivered order on behalf of its owner.
func (s *OrderService) RequestReturn(ctx context.Context, userID, orderID int64, reason string) (*models.Order, error) {
	return s.transition(ctx, orderID, models.OrderStatusReturned, reason, ownedBy(userID))
}

// AdminUpdateStatus moves an order along any legal transition.
func (s *OrderService) AdminUpdateStatus(ctx context.Context, orderID int64, status string) (*models.Order, error) {
	if !models.IsKnownStatus(status) {
		return nil, ErrInvalidStatus
	}
	return s.transition(ctx, orderID, status, "", nil)
}

func ownedBy(userID int64) func(*models.Order) error {
	return func(o *models.Order) error {
		if o.UserID != userID {
			return ErrOrderNotFound
		}
		return nil
	}
}

type transitionResult struct {
	from     string
	refunded decimal.Decimal
}

// transition applies one lifecycle step under a row lock on the order.
func (s *OrderService) transition(ctx context.Context, orderID int64, to, reason string, authorize func(*models.Order) error) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.transition")
	defer span.End()

	var (
		order *models.Order
		res   transitionResult
	)
	err := s.tx.InTx(ctx, func(tx CheckoutTx) error {
		o, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}
		if o == nil {
			return ErrOrderNotFound
		}
		if authorize != nil {
			if err := authorize(o); err != nil {
				return err
			}
		}
		if !models.CanTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
		}
		if to == models.OrderStatusShipped && o.PaymentStatus == models.PaymentStatusFailed {
			return fmt.Errorf("%w: payment for order %d failed", ErrInvalidTransition, o.ID)
		}

		items, err := tx.GetOrderItems(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("failed to load order items: %w", err)
		}
		o.Items = items
		res.from = o.Status

		if models.ReleasesStock(to) {
			if o.StockHeld {
				if err := releaseStock(ctx, tx, items); err != nil {
					return err
				}
				o.StockHeld = false
			}
			if o.PaymentStatus == models.PaymentStatusPaid && o.TotalAmount.IsPositive() {
				ref := "refund:" + strconv.FormatInt(o.ID, 10)
				inserted, err := tx.AppendWalletTransaction(ctx, &models.WalletTransaction{
					UserID:      o.UserID,
					Type:        models.WalletCredit,
					Amount:      o.TotalAmount,
					Description: fmt.Sprintf("Refund for order #%d", o.ID),
					OrderID:     &o.ID,
					Reference:   &ref,
				})
				if err != nil {
					return fmt.Errorf("failed to refund to wallet: %w", err)
				}
				if inserted {
					res.refunded = o.TotalAmount
				}
				o.PaymentStatus = models.PaymentStatusRefunded
			}
			o.CancelReason = reason
		}
		if to == models.OrderStatusDelivered && o.PaymentMethod == models.PaymentMethodCOD {
			o.PaymentStatus = models.PaymentStatusPaid
		}

		o.Status = to
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrderStatusTransitionsTotal.WithLabelValues(res.from, to).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", order.ID),
		zap.String("from", res.from),
		zap.String("to", to))

	event := &models.OrderStatusChangedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:       order.ID,
		UserID:        order.UserID,
		From:          res.from,
		To:            to,
		PaymentStatus: order.PaymentStatus,
		Reason:        reason,
	}
	if err := s.events.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}

	if res.refunded.IsPositive() {
		util.WalletCreditsTotal.WithLabelValues("refund").Inc()
		s.publishWallet(ctx, models.EventTypeWalletCredited, order.UserID, res.refunded, &order.ID,
			fmt.Sprintf("Refund for order #%d", order.ID))
	}
	return order, nil
}

// GetOrder returns an order with its items. Customers only see their own.
func (s *OrderService) GetOrder(ctx context.Context, userID int64, isAdmin bool, orderID int64) (*OrderDetail, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || (!isAdmin && order.UserID != userID) {
		return nil, ErrOrderNotFound
	}

	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &OrderDetail{Order: order, AllowedStatuses: models.AllowedStatuses(order.Status)}, nil
}

// ListUserOrders returns the caller's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, limit int) (*OrderPage, error) {
	page, limit = normalizePage(page, limit)
	orders, total, err := s.orders.ListOrdersByUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: page, Limit: limit}, nil
}

// ListOrders returns all orders for the admin dashboard, optionally
// filtered by status.
func (s *OrderService) ListOrders(ctx context.Context, status string, page, limit int) (*OrderPage, error) {
	if status != "" && !models.IsKnownStatus(status) {
		return nil, ErrInvalidStatus
	}
	page, limit = normalizePage(page, limit)
	orders, total, err := s.orders.ListOrders(ctx, status, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: page, Limit: limit}, nil
}

func (s *OrderService) resolveAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	address, err := s.addresses.GetAddress(ctx, userID, addressID)
	if err != nil {
		return nil, fmt.Errorf("failed to load address: %w", err)
	}
	if address == nil {
		return nil, ErrAddressNotFound
	}
	return address, nil
}

func (s *OrderService) publishWallet(ctx context.Context, eventType string, userID int64, amount decimal.Decimal, orderID *int64, description string) {
	event := &models.WalletEvent{
		BaseEvent:   newBaseEvent(eventType),
		UserID:      userID,
		Amount:      amount,
		OrderID:     orderID,
		Description: description,
	}
	if err := s.events.PublishWalletEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish wallet event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func failureReason(err error) string {
	var cve *CartValidationError
	switch {
	case errors.As(err, &cve):
		return "invalid_cart"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrCouponUsageLimit), errors.Is(err, ErrCouponExpired),
		errors.Is(err, ErrCouponInactive), errors.Is(err, ErrBelowMinimum), errors.Is(err, ErrCouponNotFound):
		return "coupon"
	case errors.Is(err, ErrCartEmpty):
		return "empty_cart"
	}
	return "db_error"
}
