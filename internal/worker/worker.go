package worker

import (
	"context"
	"fmt"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// EventLog remembers which events were already handled.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Broadcaster pushes a message to connected admins.
type Broadcaster interface {
	Broadcast(msg notify.Message) error
}

// NotificationWorker relays order events from Kafka to the admin feed.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventLog
	hub          Broadcaster
	scope        string
	logger       *zap.Logger
}

// NewNotificationWorker creates a worker. Each instance consumes with its
// own group, so scope (the group id) keeps processed ids per instance.
func NewNotificationWorker(consumer *broker.Consumer, events EventLog, hub Broadcaster, scope string) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		hub:          hub,
		scope:        scope,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	w.eventHandler.OnOrderStatusChanged(w.handleOrderStatusChanged)
	w.eventHandler.OnPaymentFailed(w.handlePaymentFailed)
	return w
}

// Start consumes until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker", zap.String("scope", w.scope))
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the consumer
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return w.relay(ctx, event.BaseEvent, event)
}

func (w *NotificationWorker) handleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return w.relay(ctx, event.BaseEvent, event)
}

func (w *NotificationWorker) handlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return w.relay(ctx, event.BaseEvent, event)
}

func (w *NotificationWorker) relay(ctx context.Context, base models.BaseEvent, payload interface{}) error {
	key := w.scope + ":" + base.EventID

	processed, err := w.events.IsEventProcessed(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check event %s: %w", base.EventID, err)
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	if err := w.hub.Broadcast(notify.Message{Type: base.EventType, Payload: payload}); err != nil {
		return fmt.Errorf("failed to broadcast event %s: %w", base.EventID, err)
	}

	if err := w.events.MarkEventProcessed(ctx, key, base.EventType); err != nil {
		w.logger.Warn("Failed to mark event processed", zap.String("event_id", base.EventID), zap.Error(err))
	}
	return nil
}
