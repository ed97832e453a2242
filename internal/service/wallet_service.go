package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalletService exposes the wallet ledger and gateway top-ups.
type WalletService struct {
	tx       TxRunner
	wallet   WalletReader
	payments PaymentStore
	gateway  PaymentGateway
	events   EventPublisher
	currency string
	minTopUp decimal.Decimal
	maxTopUp decimal.Decimal
	logger   *zap.Logger
}

// NewWalletService creates a new wallet service
func NewWalletService(
	tx TxRunner,
	wallet WalletReader,
	payments PaymentStore,
	gateway PaymentGateway,
	events EventPublisher,
	currency string,
	minTopUp, maxTopUp decimal.Decimal,
) *WalletService {
	return &WalletService{
		tx:       tx,
		wallet:   wallet,
		payments: payments,
		gateway:  gateway,
		events:   events,
		currency: currency,
		minTopUp: minTopUp,
		maxTopUp: maxTopUp,
		logger:   util.GetLogger(),
	}
}

// WalletSummary is the balance with one page of history.
type WalletSummary struct {
	Balance      decimal.Decimal            `json:"balance"`
	Transactions []models.WalletTransaction `json:"transactions"`
	Total        int                        `json:"total"`
	Page         int                        `json:"page"`
	Limit        int                        `json:"limit"`
}

// TopUpRequest is the amount to add to the wallet, in rupees.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// Balance returns the ledger sum for userID.
func (ws *WalletService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return ws.wallet.WalletBalance(ctx, userID)
}

// Transactions returns the balance and a page of the ledger, newest first.
func (ws *WalletService) Transactions(ctx context.Context, userID int64, page, limit int) (*WalletSummary, error) {
	page, limit = normalizePage(page, limit)

	balance, err := ws.wallet.WalletBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet balance: %w", err)
	}
	txs, total, err := ws.wallet.ListWalletTransactions(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet transactions: %w", err)
	}
	return &WalletSummary{Balance: balance, Transactions: txs, Total: total, Page: page, Limit: limit}, nil
}

// InitiateTopUp opens a gateway order for a wallet top-up.
func (ws *WalletService) InitiateTopUp(ctx context.Context, userID int64, req *TopUpRequest) (*InitiatePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.InitiateTopUp")
	defer span.End()

	amount := req.Amount.Round(2)
	if amount.LessThan(ws.minTopUp) || amount.GreaterThan(ws.maxTopUp) {
		return nil, fmt.Errorf("%w: top-up must be between %s and %s", ErrInvalidAmount, ws.minTopUp, ws.maxTopUp)
	}

	receipt := "wallet-" + strconv.FormatInt(userID, 10) + "-" + strconv.FormatInt(time.Now().Unix(), 10)
	gwOrder, err := ws.gateway.CreateOrder(ctx, amount, ws.currency, receipt)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	payment := &models.Payment{
		UserID:         userID,
		Purpose:        models.PaymentPurposeWalletTopUp,
		GatewayOrderID: gwOrder.ID,
		Amount:         amount,
		Currency:       ws.currency,
		Status:         models.GatewayStatusCreated,
	}
	if err := ws.payments.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	ws.logger.Info("Wallet top-up initiated",
		zap.Int64("user_id", userID),
		zap.String("gateway_order_id", gwOrder.ID),
		zap.String("amount", amount.String()))

	return &InitiatePaymentResponse{
		RazorpayOrderID: gwOrder.ID,
		Amount:          gwOrder.Amount,
		Currency:        gwOrder.Currency,
		KeyID:           ws.gateway.KeyID(),
	}, nil
}

// VerifyTopUp credits a captured top-up once, keyed by the gateway payment id.
// It returns the new balance.
func (ws *WalletService) VerifyTopUp(ctx context.Context, userID int64, req *VerifyPaymentRequest) (decimal.Decimal, error) {
	ctx, span := util.StartSpan(ctx, "WalletService.VerifyTopUp")
	defer span.End()

	if !ws.gateway.VerifyPaymentSignature(req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature) {
		util.PaymentVerificationsTotal.WithLabelValues("invalid_signature").Inc()
		return decimal.Zero, ErrInvalidSignature
	}

	payment, err := ws.payments.GetPaymentByGatewayOrderID(ctx, req.RazorpayOrderID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil || payment.UserID != userID || payment.Purpose != models.PaymentPurposeWalletTopUp {
		return decimal.Zero, ErrPaymentNotFound
	}

	var (
		credited bool
		balance  decimal.Decimal
	)
	err = ws.tx.InTx(ctx, func(tx CheckoutTx) error {
		p, err := tx.GetPaymentForUpdate(ctx, req.RazorpayOrderID)
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}
		if p == nil {
			return ErrPaymentNotFound
		}

		if p.Status != models.GatewayStatusPaid {
			ref := req.RazorpayPaymentID
			credited, err = tx.AppendWalletTransaction(ctx, &models.WalletTransaction{
				UserID:      userID,
				Type:        models.WalletCredit,
				Amount:      p.Amount,
				Description: "Wallet top-up",
				Reference:   &ref,
			})
			if err != nil {
				return fmt.Errorf("failed to credit wallet: %w", err)
			}
			p.Status = models.GatewayStatusPaid
			p.GatewayPaymentID = req.RazorpayPaymentID
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return fmt.Errorf("failed to update payment: %w", err)
			}
		}

		balance, err = tx.WalletBalance(ctx, userID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	if !credited {
		util.PaymentVerificationsTotal.WithLabelValues("duplicate").Inc()
		return balance, nil
	}

	util.PaymentVerificationsTotal.WithLabelValues("paid").Inc()
	util.WalletCreditsTotal.WithLabelValues("topup").Inc()
	ws.logger.Info("Wallet topped up",
		zap.Int64("user_id", userID),
		zap.String("amount", payment.Amount.String()),
		zap.String("gateway_payment_id", req.RazorpayPaymentID))

	event := &models.WalletEvent{
		BaseEvent:   newBaseEvent(models.EventTypeWalletCredited),
		UserID:      userID,
		Amount:      payment.Amount,
		Description: "Wallet top-up",
	}
	if err := ws.events.PublishWalletEvent(ctx, event); err != nil {
		ws.logger.Error("Failed to publish wallet event", zap.Error(err))
	}
	return balance, nil
}
