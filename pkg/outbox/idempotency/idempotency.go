// Package idempotency guards Pub/Sub consumers against redelivered outbox events.
//
// A consumer first claims an event with a short lease, does its work, then marks the
// event done for the long retention TTL. A worker that dies mid-event leaves only the
// lease behind, so the redelivery after the lease expires is processed again.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

const (
	DefaultLease = 2 * time.Minute

	stateProcessing = "processing"
	stateDone       = "done"
)

// Outcome is the result of claiming an event.
type Outcome int

const (
	// Acquired means the caller owns the event and must Complete or Release it.
	Acquired Outcome = iota
	// Done means the event was already handled.
	Done
	// InFlight means another worker holds a live lease on the event.
	InFlight
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Done:
		return "done"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Manager tracks event IDs per consumer under
// `cm:idempotency:evt:<consumer>:<event_id>`.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
}

// NewManager builds a guard that remembers handled events for ttl. A zero ttl keeps
// done markers forever.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	lease := DefaultLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &Manager{store: store, ttl: ttl, lease: lease}, nil
}

// Claim takes the processing lease for eventID unless it is already done or leased.
func (m *Manager) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Outcome, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return 0, err
	}

	// one retry covers a lease expiring between SETNX and GET
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := m.store.SetNX(ctx, key, stateProcessing, m.lease)
		if err != nil {
			return 0, err
		}
		if ok {
			return Acquired, nil
		}

		state, err := m.store.Get(ctx, key)
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return 0, err
		case state == stateDone:
			return Done, nil
		default:
			return InFlight, nil
		}
	}
	return InFlight, nil
}

// Complete records eventID as handled for the retention TTL.
func (m *Manager) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, stateDone, m.ttl)
}

// Release drops the lease so a redelivery is processed immediately.
func (m *Manager) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
