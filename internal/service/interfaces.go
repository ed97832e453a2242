package service

import (
	"context"
	"time"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// CheckoutTx is the set of row-locking operations available inside one
// database transaction.
type CheckoutTx interface {
	LockProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	AdjustStock(ctx context.Context, productID int64, delta int) error

	LockCoupon(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponUsage(ctx context.Context, couponID, userID int64) (int, error)
	RecordCouponUsage(ctx context.Context, couponID, userID, orderID int64) error

	LockWallet(ctx context.Context, userID int64) error
	WalletBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	// AppendWalletTransaction returns false when an entry with the same
	// reference already exists.
	AppendWalletTransaction(ctx context.Context, t *models.WalletTransaction) (bool, error)

	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrder(ctx context.Context, o *models.Order) error

	GetPaymentForUpdate(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
}

// TxRunner runs fn inside a transaction, committing if fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx CheckoutTx) error) error
}

// CatalogStore reads products and offers.
type CatalogStore interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ListActiveOffers(ctx context.Context, now time.Time) ([]models.Offer, error)
}

// CouponStore persists coupons.
type CouponStore interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponUsage(ctx context.Context, couponID, userID int64) (int, error)
	CreateCoupon(ctx context.Context, c *models.Coupon) error
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	ListValidCoupons(ctx context.Context, now time.Time) ([]models.Coupon, error)
	DeactivateCoupon(ctx context.Context, id int64) (bool, error)
	ListCouponCodes(ctx context.Context) ([]string, error)
}

// OfferStore persists offers.
type OfferStore interface {
	CreateOffer(ctx context.Context, o *models.Offer) error
	ListOffers(ctx context.Context) ([]models.Offer, error)
	DeactivateOffer(ctx context.Context, id int64) (bool, error)
}

// AddressStore persists delivery addresses.
type AddressStore interface {
	GetAddress(ctx context.Context, userID, id int64) (*models.Address, error)
	CreateAddress(ctx context.Context, a *models.Address) error
	ListAddresses(ctx context.Context, userID int64) ([]models.Address, error)
}

// OrderReader reads orders outside a transaction.
type OrderReader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Order, int, error)
	ListOrders(ctx context.Context, status string, limit, offset int) ([]models.Order, int, error)
}

// WalletReader reads the wallet ledger.
type WalletReader interface {
	WalletBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	ListWalletTransactions(ctx context.Context, userID int64, limit, offset int) ([]models.WalletTransaction, int, error)
}

// PaymentStore persists gateway payment intents.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
}

// ReportStore aggregates sales.
type ReportStore interface {
	SalesByDay(ctx context.Context, from, to time.Time) ([]models.SalesDay, error)
}

// CartStore keeps carts and the applied coupon.
type CartStore interface {
	AddCartItem(ctx context.Context, userID, productID int64, size string, quantity, max, stock int) (qty, outcome int, err error)
	SetCartItem(ctx context.Context, userID, productID int64, size string, quantity int) error
	RemoveCartItem(ctx context.Context, userID, productID int64, size string) error
	GetCart(ctx context.Context, userID int64) ([]models.CartLine, error)
	ClearCart(ctx context.Context, userID int64) error
	SetAppliedCoupon(ctx context.Context, userID int64, code string) error
	GetAppliedCoupon(ctx context.Context, userID int64) (string, error)
	ClearAppliedCoupon(ctx context.Context, userID int64) error
}

// LockStore provides short-lived locks and idempotency keys.
type LockStore interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishWalletEvent(ctx context.Context, event *models.WalletEvent) error
}

// PaymentGateway creates gateway orders and checks callback signatures.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*gateway.Order, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	KeyID() string
}
