package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID         int64           `db:"id" json:"id"`
	SKU        string          `db:"sku" json:"sku"`
	Name       string          `db:"name" json:"name"`
	CategoryID int64           `db:"category_id" json:"category_id"`
	Price      decimal.Decimal `db:"price" json:"price"`
	Stock      int             `db:"stock" json:"stock"`
	IsActive   bool            `db:"is_active" json:"is_active"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// Offer scopes
const (
	OfferScopeProduct  = "product"
	OfferScopeCategory = "category"
)

// Offer is an admin-configured percentage discount on a product or a whole category.
type Offer struct {
	ID              int64           `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	Scope           string          `db:"scope" json:"scope"`
	TargetID        int64           `db:"target_id" json:"target_id"`
	DiscountPercent decimal.Decimal `db:"discount_percent" json:"discount_percent"`
	ValidFrom       time.Time       `db:"valid_from" json:"valid_from"`
	ValidUntil      time.Time       `db:"valid_until" json:"valid_until"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// CartItem is a cart line joined with the live product state.
type CartItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	IsActive  bool            `json:"is_active"`
	Stock     int             `json:"stock"`
}

// Discount types
const (
	DiscountPercentage = "percentage"
	DiscountFlat       = "flat"
)

// Coupon is a user-entered discount code.
type Coupon struct {
	ID            int64               `db:"id" json:"id"`
	Code          string              `db:"code" json:"code"`
	DiscountType  string              `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal     `db:"discount_value" json:"discount_value"`
	MaxDiscount   decimal.NullDecimal `db:"max_discount" json:"max_discount"`
	ValidFrom     time.Time           `db:"valid_from" json:"valid_from"`
	ValidUntil    time.Time           `db:"valid_until" json:"valid_until"`
	UsageLimit    int                 `db:"usage_limit" json:"usage_limit"`
	MinPurchase   decimal.Decimal     `db:"min_purchase" json:"min_purchase"`
	IsActive      bool                `db:"is_active" json:"is_active"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
}

// Address is a saved delivery address.
type Address struct {
	ID      int64  `db:"id" json:"id"`
	UserID  int64  `db:"user_id" json:"user_id"`
	Name    string `db:"name" json:"name"`
	Phone   string `db:"phone" json:"phone"`
	Line1   string `db:"line1" json:"line1"`
	Line2   string `db:"line2" json:"line2"`
	City    string `db:"city" json:"city"`
	State   string `db:"state" json:"state"`
	Pincode string `db:"pincode" json:"pincode"`
}

// AddressSnapshot is the copy of an address stored on an order row as JSON.
type AddressSnapshot Address

// Value implements driver.Valuer.
func (a AddressSnapshot) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *AddressSnapshot) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	case nil:
		return nil
	}
	return errors.New("unsupported address snapshot type")
}

// Order represents a customer order
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	DeliveryAddress AddressSnapshot `db:"delivery_address" json:"delivery_address"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	Status          string          `db:"status" json:"status"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	DeliveryFee     decimal.Decimal `db:"delivery_fee" json:"delivery_fee"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	CouponCode      string          `db:"coupon_code" json:"coupon_code,omitempty"`
	StockHeld       bool            `db:"stock_held" json:"-"`
	IdempotencyKey  string          `db:"idempotency_key" json:"-"`
	CancelReason    string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	PlacedAt        time.Time       `db:"placed_at" json:"placed_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	Items []OrderItem `db:"-" json:"items,omitempty"`
}

// OrderItem is the price/name snapshot of a product at order time.
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductID   int64           `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Size        string          `db:"size" json:"size"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Payment records a gateway order and what it pays for.
type Payment struct {
	ID               int64           `db:"id" json:"id"`
	UserID           int64           `db:"user_id" json:"user_id"`
	OrderID          *int64          `db:"order_id" json:"order_id,omitempty"`
	Purpose          string          `db:"purpose" json:"purpose"`
	GatewayOrderID   string          `db:"gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID string          `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	Status           string          `db:"status" json:"status"`
	Quote            types.JSONText  `db:"quote" json:"-"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// WalletTransaction is an append-only ledger entry.
type WalletTransaction struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	Type        string          `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	OrderID     *int64          `db:"order_id" json:"order_id,omitempty"`
	Reference   *string         `db:"reference" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"date"`
}

// Signed returns the amount with its ledger sign applied.
func (t WalletTransaction) Signed() decimal.Decimal {
	if t.Type == WalletDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Order statuses
const (
	OrderStatusPending   = "Pending"
	OrderStatusShipped   = "Shipped"
	OrderStatusDelivered = "Delivered"
	OrderStatusCancelled = "Cancelled"
	OrderStatusReturned  = "Returned"
)

// Payment methods
const (
	PaymentMethodCOD      = "cod"
	PaymentMethodWallet   = "wallet"
	PaymentMethodRazorpay = "razorpay"
)

// Order payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Gateway payment purposes
const (
	PaymentPurposeOrder       = "order"
	PaymentPurposeOrderRetry  = "order_retry"
	PaymentPurposeWalletTopUp = "wallet_topup"
)

// Gateway payment record statuses
const (
	GatewayStatusCreated          = "created"
	GatewayStatusPaid             = "paid"
	GatewayStatusFailed           = "failed"
	GatewayStatusRefundedToWallet = "refunded_to_wallet"
)

// Wallet transaction types
const (
	WalletCredit = "credit"
	WalletDebit  = "debit"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// SalesDay is one row of the sales report.
type SalesDay struct {
	Day         time.Time       `db:"day" json:"day"`
	Orders      int             `db:"orders" json:"orders"`
	Gross       decimal.Decimal `db:"gross" json:"gross"`
	Discounts   decimal.Decimal `db:"discounts" json:"discounts"`
	DeliveryFee decimal.Decimal `db:"delivery_fees" json:"delivery_fees"`
	Net         decimal.Decimal `db:"net" json:"net"`
}

// CartLine is what the cart stores per line; prices and stock are joined at read time.
type CartLine struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}
