package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcomes of CartStore.AddCartItem. A rejected add leaves the line
// unchanged and reports the quantity that was asked for.
const (
	CartAdded        = 0
	CartAddOverCap   = -1
	CartAddOverStock = -2
)

// CartService manages the server-side cart.
type CartService struct {
	carts         CartStore
	catalog       CatalogStore
	coupons       CouponStore
	deliveryFee   decimal.Decimal
	maxQtyPerItem int
	logger        *zap.Logger
	now           func() time.Time
}

// NewCartService creates a new cart service
func NewCartService(carts CartStore, catalog CatalogStore, coupons CouponStore, deliveryFee decimal.Decimal, maxQtyPerItem int) *CartService {
	return &CartService{
		carts:         carts,
		catalog:       catalog,
		coupons:       coupons,
		deliveryFee:   deliveryFee,
		maxQtyPerItem: maxQtyPerItem,
		logger:        util.GetLogger(),
		now:           time.Now,
	}
}

// CartLineView is a cart line as shown to the customer.
type CartLineView struct {
	models.CartItem
	LineTotal decimal.Decimal `json:"line_total"`
	Valid     bool            `json:"valid"`
	Issue     string          `json:"issue,omitempty"`
}

// CartView is the full cart with stock flags and a price quote.
type CartView struct {
	Items       []CartLineView `json:"items"`
	Issues      []LineIssue    `json:"issues,omitempty"`
	CanCheckout bool           `json:"can_checkout"`
	Quote       Quote          `json:"quote"`
	CouponError string         `json:"coupon_error,omitempty"`
}

// AddItemRequest adds quantity of a product/size to the cart.
type AddItemRequest struct {
	ProductID int64  `json:"product_id" binding:"required"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// View returns the cart joined with live product state, flags lines that
// block checkout and prices it with the applied coupon when it still holds.
func (s *CartService) View(ctx context.Context, userID int64) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.View")
	defer span.End()

	items, lines, err := s.priceCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &CartView{Items: make([]CartLineView, 0, len(items))}
	gateErr := CheckCartLines(items)
	var cve *CartValidationError
	if errors.As(gateErr, &cve) {
		view.Issues = cve.Issues
	}
	for i, it := range items {
		lv := CartLineView{CartItem: it, LineTotal: lines[i].UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))), Valid: true}
		for _, is := range view.Issues {
			if is.ProductID == it.ProductID && is.Size == it.Size {
				lv.Valid = false
				lv.Issue = is.Reason
			}
		}
		view.Items = append(view.Items, lv)
	}
	view.CanCheckout = len(items) > 0 && gateErr == nil

	coupon, couponErr := s.appliedCoupon(ctx, userID, lines)
	if couponErr != nil {
		view.CouponError = couponErr.Error()
	}
	view.Quote = BuildQuote(lines, coupon, s.deliveryFee)
	return view, nil
}

// Add adds to a cart line, rejecting the change if it would exceed the
// per-item cap or the product's stock.
func (s *CartService) Add(ctx context.Context, userID int64, req AddItemRequest) (int, error) {
	if req.Quantity < 1 || req.Quantity > s.maxQtyPerItem {
		return 0, ErrInvalidQuantity
	}

	product, err := s.getProduct(ctx, req.ProductID)
	if err != nil {
		return 0, err
	}
	if !product.IsActive {
		return 0, &CartValidationError{Issues: []LineIssue{{
			ProductID: product.ID, Size: req.Size, Reason: IssueInactive, Requested: req.Quantity, Available: product.Stock,
		}}}
	}

	qty, outcome, err := s.carts.AddCartItem(ctx, userID, req.ProductID, req.Size, req.Quantity, s.maxQtyPerItem, product.Stock)
	if err != nil {
		return 0, fmt.Errorf("failed to add cart item: %w", err)
	}

	switch outcome {
	case CartAdded:
	case CartAddOverCap:
		return 0, ErrInvalidQuantity
	case CartAddOverStock:
		return 0, &CartValidationError{Issues: []LineIssue{{
			ProductID: product.ID, Size: req.Size, Reason: IssueInsufficientStock, Requested: qty, Available: product.Stock,
		}}}
	default:
		return 0, fmt.Errorf("unexpected cart add outcome %d", outcome)
	}

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", req.ProductID),
		zap.Int("quantity", qty))
	return qty, nil
}

// Update sets a cart line's quantity; zero removes the line.
func (s *CartService) Update(ctx context.Context, userID, productID int64, size string, quantity int) error {
	if quantity < 0 || quantity > s.maxQtyPerItem {
		return ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.Remove(ctx, userID, productID, size)
	}

	product, err := s.getProduct(ctx, productID)
	if err != nil {
		return err
	}
	if issue, bad := CheckCartLine(models.CartItem{
		ProductID: productID, Size: size, Quantity: quantity, IsActive: product.IsActive, Stock: product.Stock,
	}); bad {
		return &CartValidationError{Issues: []LineIssue{issue}}
	}

	return s.carts.SetCartItem(ctx, userID, productID, size, quantity)
}

// Remove deletes a cart line.
func (s *CartService) Remove(ctx context.Context, userID, productID int64, size string) error {
	return s.carts.RemoveCartItem(ctx, userID, productID, size)
}

// Clear empties the cart and drops the applied coupon.
func (s *CartService) Clear(ctx context.Context, userID int64) {
	if err := s.carts.ClearCart(ctx, userID); err != nil {
		s.logger.Error("Failed to clear cart", zap.Int64("user_id", userID), zap.Error(err))
	}
	if err := s.carts.ClearAppliedCoupon(ctx, userID); err != nil {
		s.logger.Error("Failed to clear applied coupon", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Lines returns the raw cart lines in a stable order.
func (s *CartService) Lines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	lines, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].Size < lines[j].Size
	})
	return lines, nil
}

// priceCart joins cart lines with products and offers.
func (s *CartService) priceCart(ctx context.Context, userID int64) ([]models.CartItem, []QuoteLine, error) {
	cartLines, err := s.Lines(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(cartLines) == 0 {
		return nil, nil, nil
	}

	ids := make([]int64, 0, len(cartLines))
	for _, l := range cartLines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load products: %w", err)
	}
	offers, err := s.catalog.ListActiveOffers(ctx, s.now())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load offers: %w", err)
	}

	byID := make(map[int64]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	items := make([]models.CartItem, 0, len(cartLines))
	lines := make([]QuoteLine, 0, len(cartLines))
	for _, l := range cartLines {
		item := models.CartItem{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity}
		line := QuoteLine{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity, UnitPrice: decimal.Zero}
		if p, ok := byID[l.ProductID]; ok {
			price := EffectivePrice(p, offers, s.now())
			item.Name, item.Price, item.IsActive, item.Stock = p.Name, price, p.IsActive, p.Stock
			line.Name, line.UnitPrice = p.Name, price
		}
		items = append(items, item)
		lines = append(lines, line)
	}
	return items, lines, nil
}

// appliedCoupon returns the cart's applied coupon if it is still valid for
// the priced lines.
func (s *CartService) appliedCoupon(ctx context.Context, userID int64, lines []QuoteLine) (*models.Coupon, error) {
	code, err := s.carts.GetAppliedCoupon(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied coupon: %w", err)
	}
	if code == "" {
		return nil, nil
	}
	c, err := s.coupons.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	subtotal := BuildQuote(lines, nil, decimal.Zero).Subtotal
	if err := ValidateCoupon(c, subtotal, s.now()); err != nil {
		return nil, err
	}
	if c.UsageLimit > 0 {
		used, err := s.coupons.CountCouponUsage(ctx, c.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to count coupon usage: %w", err)
		}
		if used >= c.UsageLimit {
			return nil, ErrCouponUsageLimit
		}
	}
	return c, nil
}

func (s *CartService) getProduct(ctx context.Context, id int64) (*models.Product, error) {
	products, err := s.catalog.GetProductsByIDs(ctx, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	if len(products) == 0 {
		return nil, ErrProductNotFound
	}
	return &products[0], nil
}
