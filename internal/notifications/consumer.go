package notifications

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/registry"
)

const orderNotificationConsumer = "order-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type processedTracker interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Outcome, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer watches order events and turns them into in-app notifications for the student.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	decoders     *registry.DecoderRegistry
	idempotency  processedTracker
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("notifications subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	consumer, err := newConsumer(repo, manager, logg)
	if err != nil {
		return nil, err
	}
	consumer.subscription = subscription
	return consumer, nil
}

func newConsumer(repo repository, tracker processedTracker, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:        repo,
		decoders:    registry.NewOrderDecoderRegistry(),
		idempotency: tracker,
		logg:        logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if enums.OutboxAggregateType(msg.Attributes["aggregate_type"]) != enums.AggregateOrder {
		c.logg.Info(logCtx, "skipping non-order event")
		return processResult{ack: true}
	}

	envelope, eventID, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	outcome, err := c.idempotency.Claim(ctx, orderNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	switch outcome {
	case idempotency.Done:
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	case idempotency.InFlight:
		c.logg.Info(logCtx, "event being processed elsewhere")
		return processResult{nack: true}
	}

	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		// Undecodable payloads never succeed on redelivery.
		c.logg.Error(logCtx, "failed to parse payload", err)
		return c.complete(logCtx, eventID)
	}
	payload, ok := decoded.(*payloads.OrderEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected payload type", fmt.Errorf("got %T", decoded))
		return c.complete(logCtx, eventID)
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"order_id": payload.OrderID.String(),
		"user_id":  payload.UserID.String(),
		"status":   string(payload.Status),
	})

	notification := ForOrderEvent(eventType, payload)
	if notification == nil {
		c.logg.Info(logCtx, "status not handled")
		return c.complete(logCtx, eventID)
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		if err := c.idempotency.Release(context.WithoutCancel(ctx), orderNotificationConsumer, eventID); err != nil {
			c.logg.Warn(logCtx, "idempotency release failed; redelivery waits for lease expiry")
		}
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "student notified of order change")
	return c.complete(logCtx, eventID)
}

// complete acks the message. A failed done marker is only logged: the lease expires
// and a redelivery may repeat the notification.
func (c *Consumer) complete(ctx context.Context, eventID uuid.UUID) processResult {
	if err := c.idempotency.Complete(context.WithoutCancel(ctx), orderNotificationConsumer, eventID); err != nil {
		c.logg.Error(ctx, "idempotency complete failed", err)
	}
	return processResult{ack: true}
}
