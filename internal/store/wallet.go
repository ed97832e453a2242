package store

import (
	"context"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const walletBalanceQuery = `
	SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
	FROM wallet_transactions WHERE user_id = $1`

func walletBalance(ctx context.Context, q sqlx.QueryerContext, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := sqlx.GetContext(ctx, q, &balance, walletBalanceQuery, userID)
	return balance, err
}

// WalletBalance returns the ledger sum for a user
func (s *Store) WalletBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return walletBalance(ctx, s.db, userID)
}

// ListWalletTransactions returns a page of a user's ledger, newest first
func (s *Store) ListWalletTransactions(ctx context.Context, userID int64, limit, offset int) ([]models.WalletTransaction, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM wallet_transactions WHERE user_id = $1", userID); err != nil {
		return nil, 0, err
	}

	txs := []models.WalletTransaction{}
	err := s.db.SelectContext(ctx, &txs,
		`SELECT * FROM wallet_transactions WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	return txs, total, err
}

// SalesByDay aggregates orders placed in [from, to) per UTC day, leaving out
// failed payments and cancelled orders
func (s *Store) SalesByDay(ctx context.Context, from, to time.Time) ([]models.SalesDay, error) {
	query := `
		SELECT date_trunc('day', placed_at AT TIME ZONE 'UTC') AS day,
			COUNT(*) AS orders,
			COALESCE(SUM(subtotal), 0) AS gross,
			COALESCE(SUM(discount_amount), 0) AS discounts,
			COALESCE(SUM(delivery_fee), 0) AS delivery_fees,
			COALESCE(SUM(total_amount), 0) AS net
		FROM orders
		WHERE placed_at >= $1 AND placed_at < $2
			AND payment_status <> $3
			AND status <> $4
		GROUP BY 1
		ORDER BY 1`

	days := []models.SalesDay{}
	err := s.db.SelectContext(ctx, &days, query,
		from, to, models.PaymentStatusFailed, models.OrderStatusCancelled)
	return days, err
}
