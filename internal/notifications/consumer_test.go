package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
)

type memoryTracker struct {
	state    map[uuid.UUID]idempotency.Outcome
	err      error
	released []uuid.UUID
}

func newMemoryTracker() *memoryTracker {
	return &memoryTracker{state: map[uuid.UUID]idempotency.Outcome{}}
}

func (m *memoryTracker) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Outcome, error) {
	if m.err != nil {
		return 0, m.err
	}
	if state, ok := m.state[eventID]; ok {
		if state == idempotency.Done {
			return idempotency.Done, nil
		}
		return idempotency.InFlight, nil
	}
	m.state[eventID] = idempotency.Acquired
	return idempotency.Acquired, nil
}

func (m *memoryTracker) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	m.state[eventID] = idempotency.Done
	return nil
}

func (m *memoryTracker) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	delete(m.state, eventID)
	m.released = append(m.released, eventID)
	return nil
}

func testConsumer(t *testing.T, repo repository, tracker processedTracker) *Consumer {
	t.Helper()
	c, err := newConsumer(repo, tracker, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return c
}

func orderMessage(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, data payloads.OrderEvent) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	envelope, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID.String(), OccurredAt: time.Now().UTC(), Data: raw})
	require.NoError(t, err)
	return &pubsub.Message{
		ID:   "msg-1",
		Data: envelope,
		Attributes: map[string]string{
			"event_id":       eventID.String(),
			"event_type":     string(eventType),
			"aggregate_type": string(enums.AggregateOrder),
			"aggregate_id":   data.OrderID.String(),
		},
	}
}

func readyEvent() payloads.OrderEvent {
	return payloads.OrderEvent{
		OrderID:     uuid.New(),
		OrderNumber: 12,
		UserID:      uuid.New(),
		ShopID:      uuid.New(),
		FromStatus:  enums.OrderStatusPreparing,
		Status:      enums.OrderStatusReady,
		PickupToken: "K7P2",
		TotalCents:  450,
		ItemSummary: "2x Bagel",
	}
}

func TestConsumerCreatesNotificationOnce(t *testing.T) {
	repo := &fakeRepository{}
	tracker := newMemoryTracker()
	c := testConsumer(t, repo, tracker)
	event := readyEvent()
	msg := orderMessage(t, enums.EventOrderStatusChanged, uuid.New(), event)

	require.True(t, c.process(context.Background(), msg).ack)
	require.True(t, c.process(context.Background(), msg).ack)

	require.Len(t, repo.created, 1)
	n := repo.created[0]
	require.Equal(t, event.UserID, n.UserID)
	require.Equal(t, enums.NotificationTypeOrderReady, n.Type)
	require.Equal(t, "Order #12 is ready for pickup, token K7P2.", n.Message)
	require.Equal(t, event.OrderID, *n.OrderID)
}

func TestConsumerNacksAndReleasesOnStoreFailure(t *testing.T) {
	repo := &fakeRepository{createErr: errors.New("insert failed")}
	tracker := newMemoryTracker()
	c := testConsumer(t, repo, tracker)
	eventID := uuid.New()

	result := c.process(context.Background(), orderMessage(t, enums.EventOrderStatusChanged, eventID, readyEvent()))
	require.True(t, result.nack)
	require.Equal(t, []uuid.UUID{eventID}, tracker.released)
	require.NotContains(t, tracker.state, eventID)
}

func TestConsumerNacksWhileAnotherWorkerHoldsLease(t *testing.T) {
	repo := &fakeRepository{}
	tracker := newMemoryTracker()
	c := testConsumer(t, repo, tracker)
	eventID := uuid.New()
	tracker.state[eventID] = idempotency.Acquired

	result := c.process(context.Background(), orderMessage(t, enums.EventOrderStatusChanged, eventID, readyEvent()))
	require.True(t, result.nack)
	require.Empty(t, repo.created)
	require.Equal(t, idempotency.Acquired, tracker.state[eventID])
}

func TestConsumerMarksUndecodablePayloadDone(t *testing.T) {
	tracker := newMemoryTracker()
	c := testConsumer(t, &fakeRepository{}, tracker)
	eventID := uuid.New()

	msg := orderMessage(t, enums.EventOrderCreated, eventID, readyEvent())
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(msg.Data, &envelope))
	envelope.Version = 9
	msg.Data, _ = json.Marshal(envelope)

	require.True(t, c.process(context.Background(), msg).ack)
	require.Equal(t, idempotency.Done, tracker.state[eventID])
}

func TestConsumerNacksWhenIdempotencyUnavailable(t *testing.T) {
	repo := &fakeRepository{}
	tracker := newMemoryTracker()
	tracker.err = errors.New("redis down")
	c := testConsumer(t, repo, tracker)

	result := c.process(context.Background(), orderMessage(t, enums.EventOrderCreated, uuid.New(), readyEvent()))
	require.True(t, result.nack)
	require.Empty(t, repo.created)
}

func TestConsumerAcksUnusableMessages(t *testing.T) {
	repo := &fakeRepository{}
	c := testConsumer(t, repo, newMemoryTracker())

	require.True(t, c.process(context.Background(), &pubsub.Message{
		Data:       []byte("{}"),
		Attributes: map[string]string{"aggregate_type": "wallet"},
	}).ack)
	require.True(t, c.process(context.Background(), &pubsub.Message{
		Data:       []byte("not json"),
		Attributes: map[string]string{"aggregate_type": "order", "event_type": "order_created"},
	}).ack)

	versioned := orderMessage(t, enums.EventOrderCreated, uuid.New(), readyEvent())
	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(versioned.Data, &envelope))
	envelope.Version = 9
	versioned.Data, _ = json.Marshal(envelope)
	require.True(t, c.process(context.Background(), versioned).ack)

	require.Empty(t, repo.created)
}

func TestForOrderEventMessages(t *testing.T) {
	event := readyEvent()

	event.Status = enums.OrderStatusPending
	placed := ForOrderEvent(enums.EventOrderCreated, &event)
	require.Equal(t, enums.NotificationTypeOrderPlaced, placed.Type)
	require.Equal(t, "Order #12 placed", placed.Title)
	require.Equal(t, "2x Bagel for 4.50. Pickup token K7P2.", placed.Message)

	event.Status = enums.OrderStatusCancelled
	event.RefundCents = 450
	cancelled := ForOrderEvent(enums.EventOrderCancelled, &event)
	require.Equal(t, enums.NotificationTypeOrderCancelled, cancelled.Type)
	require.Equal(t, "4.50 was refunded to your wallet.", cancelled.Message)

	event.Status = enums.OrderStatusPending
	event.FromStatus = enums.OrderStatusPreparing
	require.Nil(t, ForOrderEvent(enums.EventOrderStatusChanged, &event))
	require.Nil(t, ForOrderEvent(enums.EventOrderCreated, nil))

	event.FromStatus = enums.OrderStatusCancelled
	reinstated := ForOrderEvent(enums.EventOrderStatusChanged, &event)
	require.Equal(t, enums.NotificationTypeOrderUpdate, reinstated.Type)
	require.Equal(t, "Order #12 reinstated", reinstated.Title)
	require.Contains(t, reinstated.Message, "K7P2")
}
