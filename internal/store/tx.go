package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// walletLockKey maps a user id onto a bigint advisory lock key, prefixed so
// wallet locks stay apart from other advisory lock users.
const walletLockKey = "hashtextextended('wallet:' || $1::text, 0)"

// Tx is a checkout transaction. Every read that feeds a write takes a row lock.
type Tx struct {
	tx *sqlx.Tx
}

var _ service.CheckoutTx = (*Tx)(nil)

// InTx runs fn inside a transaction and commits if fn returns nil
func (s *Store) InTx(ctx context.Context, fn func(tx service.CheckoutTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockProducts locks product rows in ascending id order
func (t *Tx) LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	products := []models.Product{}
	err := t.tx.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE", pq.Array(ids))
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return byID, nil
}

// AdjustStock adds delta to a product's stock, refusing to go below zero
func (t *Tx) AdjustStock(ctx context.Context, productID int64, delta int) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1 WHERE id = $2 AND stock + $1 >= 0", delta, productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("insufficient stock for product %d", productID)
	}
	return nil
}

// LockCoupon locks a coupon row by code
func (t *Tx) LockCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := t.tx.GetContext(ctx, &c, "SELECT * FROM coupons WHERE code = $1 FOR UPDATE", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountCouponUsage counts usages within the transaction
func (t *Tx) CountCouponUsage(ctx context.Context, couponID, userID int64) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2", couponID, userID)
	return n, err
}

// RecordCouponUsage records one use of a coupon by an order
func (t *Tx) RecordCouponUsage(ctx context.Context, couponID, userID, orderID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO coupon_usages (coupon_id, user_id, order_id) VALUES ($1, $2, $3)",
		couponID, userID, orderID)
	return err
}

// LockWallet serializes wallet writes for a user until the transaction ends
func (t *Tx) LockWallet(ctx context.Context, userID int64) error {
	_, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock("+walletLockKey+")", userID)
	return err
}

// WalletBalance returns the ledger sum within the transaction
func (t *Tx) WalletBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return walletBalance(ctx, t.tx, userID)
}

// AppendWalletTransaction appends a ledger entry. It returns false without
// error when an entry with the same reference already exists.
func (t *Tx) AppendWalletTransaction(ctx context.Context, wt *models.WalletTransaction) (bool, error) {
	query := `
		INSERT INTO wallet_transactions (user_id, type, amount, description, order_id, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (reference) DO NOTHING
		RETURNING id, created_at`

	err := t.tx.QueryRowxContext(ctx, query,
		wt.UserID, wt.Type, wt.Amount, wt.Description, wt.OrderID, wt.Reference,
	).Scan(&wt.ID, &wt.CreatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateOrder inserts an order and its items
func (t *Tx) CreateOrder(ctx context.Context, o *models.Order) error {
	return createOrder(ctx, t.tx, o)
}

// GetOrderForUpdate locks an order row
func (t *Tx) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := t.tx.GetContext(ctx, &o, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderItems reads an order's items within the transaction
func (t *Tx) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, t.tx, orderID)
}

// UpdateOrder writes the mutable order fields
func (t *Tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	return t.tx.QueryRowxContext(ctx, `
		UPDATE orders
		SET payment_status = $1, status = $2, stock_held = $3, cancel_reason = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`,
		o.PaymentStatus, o.Status, o.StockHeld, o.CancelReason, o.ID,
	).Scan(&o.UpdatedAt)
}

// GetPaymentForUpdate locks a payment row by gateway order id
func (t *Tx) GetPaymentForUpdate(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var p models.Payment
	err := t.tx.GetContext(ctx, &p,
		"SELECT * FROM payments WHERE gateway_order_id = $1 FOR UPDATE", gatewayOrderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePayment writes the mutable payment fields
func (t *Tx) UpdatePayment(ctx context.Context, p *models.Payment) error {
	return t.tx.QueryRowxContext(ctx, `
		UPDATE payments
		SET status = $1, gateway_payment_id = $2, order_id = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`,
		p.Status, p.GatewayPaymentID, p.OrderID, p.ID,
	).Scan(&p.UpdatedAt)
}
