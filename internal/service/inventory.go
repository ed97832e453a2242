package service

import (
	"context"
	"fmt"
	"sort"

	"checkout-service/internal/models"
)

// lockLines locks the products behind lines in ascending id order and joins
// each line with the locked row. Lines whose product no longer exists come
// back inactive with zero stock.
func lockLines(ctx context.Context, tx CheckoutTx, lines []models.CartLine) (map[int64]*models.Product, []models.CartItem, error) {
	seen := make(map[int64]bool, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock products: %w", err)
	}

	items := make([]models.CartItem, 0, len(lines))
	for _, l := range lines {
		item := models.CartItem{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity}
		if p, ok := products[l.ProductID]; ok {
			item.Name, item.Price, item.IsActive, item.Stock = p.Name, p.Price, p.IsActive, p.Stock
		}
		items = append(items, item)
	}
	return products, items, nil
}

// reserveStock decrements stock for every line. Callers run the stock gate
// on the locked rows first.
func reserveStock(ctx context.Context, tx CheckoutTx, lines []models.CartLine) error {
	for _, l := range lines {
		if err := tx.AdjustStock(ctx, l.ProductID, -l.Quantity); err != nil {
			return fmt.Errorf("failed to reserve stock for product %d: %w", l.ProductID, err)
		}
	}
	return nil
}

// releaseStock puts the quantities of items back on the shelf.
func releaseStock(ctx context.Context, tx CheckoutTx, items []models.OrderItem) error {
	for _, it := range items {
		if err := tx.AdjustStock(ctx, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("failed to release stock for product %d: %w", it.ProductID, err)
		}
	}
	return nil
}

func itemLines(items []models.OrderItem) []models.CartLine {
	lines := make([]models.CartLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, models.CartLine{ProductID: it.ProductID, Size: it.Size, Quantity: it.Quantity})
	}
	return lines
}

// consumeCoupon locks the coupon, re-checks the caller's usage and records
// one more use for orderID.
func consumeCoupon(ctx context.Context, tx CheckoutTx, code string, userID, orderID int64) error {
	c, err := tx.LockCoupon(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to lock coupon: %w", err)
	}
	if c == nil {
		return ErrCouponNotFound
	}
	if err := checkCouponUsage(ctx, tx, c, userID); err != nil {
		return err
	}
	return tx.RecordCouponUsage(ctx, c.ID, userID, orderID)
}

func checkCouponUsage(ctx context.Context, tx CheckoutTx, c *models.Coupon, userID int64) error {
	if c.UsageLimit <= 0 {
		return nil
	}
	used, err := tx.CountCouponUsage(ctx, c.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to count coupon usage: %w", err)
	}
	if used >= c.UsageLimit {
		return ErrCouponUsageLimit
	}
	return nil
}
