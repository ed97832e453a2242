package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// createOrder inserts an order and its items
func createOrder(ctx context.Context, q sqlx.ExtContext, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, delivery_address, payment_method, payment_status, status,
			subtotal, delivery_fee, discount_amount, total_amount, coupon_code, stock_held,
			idempotency_key, cancel_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, placed_at, updated_at`

	err := q.QueryRowxContext(ctx, query,
		order.UserID, order.DeliveryAddress, order.PaymentMethod, order.PaymentStatus, order.Status,
		order.Subtotal, order.DeliveryFee, order.DiscountAmount, order.TotalAmount, order.CouponCode,
		order.StockHeld, order.IdempotencyKey, order.CancelReason,
	).Scan(&order.ID, &order.PlacedAt, &order.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := sqlx.GetContext(ctx, q, &item.ID, `
			INSERT INTO order_items (order_id, product_id, product_name, size, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			item.OrderID, item.ProductID, item.ProductName, item.Size, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

func getOrderItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves a user's order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, s.db, orderID)
}

// ListOrdersByUser retrieves a page of a user's orders and the user's order count
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Order, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders WHERE user_id = $1", userID); err != nil {
		return nil, 0, err
	}

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY placed_at DESC, id DESC LIMIT $2 OFFSET $3",
		userID, limit, offset)
	return orders, total, err
}

// ListOrders retrieves a page of all orders, optionally filtered by status
func (s *Store) ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM orders WHERE $1 = '' OR status = $1", status); err != nil {
		return nil, 0, err
	}

	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		`SELECT * FROM orders WHERE $1 = '' OR status = $1
		 ORDER BY placed_at DESC, id DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	return orders, total, err
}

// CreatePayment creates a new gateway payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if len(payment.Quote) == 0 {
		payment.Quote = types.JSONText("{}")
	}

	query := `
		INSERT INTO payments (user_id, order_id, purpose, gateway_order_id, gateway_payment_id,
			amount, currency, status, quote)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		payment.UserID, payment.OrderID, payment.Purpose, payment.GatewayOrderID, payment.GatewayPaymentID,
		payment.Amount, payment.Currency, payment.Status, payment.Quote,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetPaymentByGatewayOrderID retrieves a payment by its gateway order id
func (s *Store) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE gateway_order_id = $1", gatewayOrderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
