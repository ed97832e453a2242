package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/notify"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEventLog struct {
	mu   sync.Mutex
	seen map[string]string
	err  error
}

func newMemEventLog() *memEventLog {
	return &memEventLog{seen: make(map[string]string)}
}

func (l *memEventLog) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	_, ok := l.seen[eventID]
	return ok, nil
}

func (l *memEventLog) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[eventID] = eventType
	return nil
}

type recordingHub struct {
	messages []notify.Message
}

func (h *recordingHub) Broadcast(msg notify.Message) error {
	h.messages = append(h.messages, msg)
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func TestRelaysOrderEventsOnce(t *testing.T) {
	events := newMemEventLog()
	hub := &recordingHub{}
	w := NewNotificationWorker(nil, events, hub, "group-a")

	placed := &models.OrderPlacedEvent{
		BaseEvent:     models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderPlaced, Timestamp: time.Now()},
		OrderID:       10,
		UserID:        3,
		PaymentMethod: models.PaymentMethodCOD,
		TotalAmount:   decimal.NewFromInt(450),
	}
	ctx := context.Background()

	require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, placed)))
	require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, placed)))

	require.Len(t, hub.messages, 1)
	assert.Equal(t, models.EventTypeOrderPlaced, hub.messages[0].Type)
	assert.Equal(t, models.EventTypeOrderPlaced, events.seen["group-a:e1"])
}

func TestRelaysStatusChange(t *testing.T) {
	hub := &recordingHub{}
	w := NewNotificationWorker(nil, newMemEventLog(), hub, "group-a")

	changed := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderStatusChanged},
		OrderID:   10,
		From:      models.OrderStatusPending,
		To:        models.OrderStatusShipped,
	}
	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), message(t, changed)))

	require.Len(t, hub.messages, 1)
	payload, ok := hub.messages[0].Payload.(*models.OrderStatusChangedEvent)
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusShipped, payload.To)
}

func TestIgnoresWalletEvents(t *testing.T) {
	hub := &recordingHub{}
	w := NewNotificationWorker(nil, newMemEventLog(), hub, "group-a")

	credited := &models.WalletEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypeWalletCredited},
		UserID:    3,
		Amount:    decimal.NewFromInt(100),
	}
	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), message(t, credited)))
	assert.Empty(t, hub.messages)
}

func TestEventLogFailureIsRetried(t *testing.T) {
	events := newMemEventLog()
	events.err = errors.New("db down")
	hub := &recordingHub{}
	w := NewNotificationWorker(nil, events, hub, "group-a")

	placed := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{EventID: "e4", EventType: models.EventTypeOrderPlaced},
		OrderID:   11,
	}
	err := w.eventHandler.HandleMessage(context.Background(), message(t, placed))
	assert.Error(t, err)
	assert.Empty(t, hub.messages)
}
