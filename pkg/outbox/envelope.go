package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is written by Emit. Consumers key their decoders on it.
const EnvelopeVersion = 1

// ErrMalformedEnvelope marks payloads that can never be decoded, whatever the retry.
var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID uuid.UUID  `json:"userId"`
	ShopID *uuid.UUID `json:"shopId,omitempty"`
	Role   string     `json:"role,omitempty"`
}

// PayloadEnvelope is stored in outbox_events.payload and published unchanged as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses raw and checks the fields every consumer relies on.
// The returned error wraps ErrMalformedEnvelope.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, uuid.UUID, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if envelope.Version < 1 {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("%w: version %d", ErrMalformedEnvelope, envelope.Version)
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil || eventID == uuid.Nil {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("%w: event id %q", ErrMalformedEnvelope, envelope.EventID)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("%w: empty data", ErrMalformedEnvelope)
	}
	return envelope, eventID, nil
}
