package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
)

// Route says which aggregate an event type belongs to and where it is published.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation and decoded cleanly.
type ResolvedEvent struct {
	Route    Route
	EventID  uuid.UUID
	Envelope outbox.PayloadEnvelope
	Payload  interface{}
}

// EventRegistry validates outbox rows before the relay publishes them. Payloads go
// through the same decoders consumers use, so a row the relay accepts is one a
// subscriber can read.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]Route
	decoders *DecoderRegistry
}

// NonRetryableError signals the relay should dead-letter the row instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry routes every order event to the orders topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.OrdersTopic == "" {
		return nil, fmt.Errorf("orders topic is required")
	}

	reg := &EventRegistry{
		routes:   make(map[enums.OutboxEventType]Route, len(orderEventTypes)),
		decoders: NewOrderDecoderRegistry(),
	}
	for _, eventType := range orderEventTypes {
		reg.routes[eventType] = Route{EventType: eventType, AggregateType: enums.AggregateOrder, Topic: cfg.OrdersTopic}
	}
	return reg, nil
}

// Resolve checks the row against its route and decodes the payload.
// Every failure is a NonRetryableError: the row will not change on retry.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	route, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case route.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", route.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, eventID, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if event.ID != uuid.Nil && event.ID != eventID {
		return nil, NewNonRetryableError(fmt.Errorf("envelope event id %s does not match row %s", eventID, event.ID))
	}

	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Route:    route,
		EventID:  eventID,
		Envelope: envelope,
		Payload:  payload,
	}, nil
}
