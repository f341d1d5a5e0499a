package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	values   map[string]string
	ttls     map[string]time.Duration
	setNXErr error
	// vanish makes the next Get miss, as if the lease expired after SETNX failed.
	vanish bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if f.vanish {
		f.vanish = false
		delete(f.values, key)
		return "", goredis.Nil
	}
	v, ok := f.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setNXErr != nil {
		return false, f.setNXErr
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return "cm:idempotency:" + scope + ":" + id
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
	}
	return nil
}

func TestNewManagerValidates(t *testing.T) {
	_, err := NewManager(nil, time.Hour)
	require.Error(t, err)

	_, err = NewManager(newFakeStore(), -time.Second)
	require.Error(t, err)

	short, err := NewManager(newFakeStore(), 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, short.lease)
}

func TestClaimCompleteLifecycle(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, 24*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()
	key := "cm:idempotency:evt:order-notifications:" + eventID.String()

	outcome, err := manager.Claim(ctx, "order-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, Acquired, outcome)
	require.Equal(t, DefaultLease, store.ttls[key])

	outcome, err = manager.Claim(ctx, "order-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, InFlight, outcome)

	require.NoError(t, manager.Complete(ctx, "order-notifications", eventID))
	require.Equal(t, 24*time.Hour, store.ttls[key])

	outcome, err = manager.Claim(ctx, "order-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, Done, outcome)
}

func TestReleaseAllowsReclaim(t *testing.T) {
	manager, err := NewManager(newFakeStore(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()

	_, err = manager.Claim(ctx, "order-notifications", eventID)
	require.NoError(t, err)
	require.NoError(t, manager.Release(ctx, "order-notifications", eventID))

	outcome, err := manager.Claim(ctx, "order-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, Acquired, outcome)
}

func TestClaimRetriesWhenLeaseVanishes(t *testing.T) {
	store := newFakeStore()
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()

	_, err = manager.Claim(ctx, "order-notifications", eventID)
	require.NoError(t, err)

	store.vanish = true
	outcome, err := manager.Claim(ctx, "order-notifications", eventID)
	require.NoError(t, err)
	require.Equal(t, Acquired, outcome)
}

func TestClaimErrors(t *testing.T) {
	store := newFakeStore()
	store.setNXErr = errors.New("boom")
	manager, err := NewManager(store, time.Hour)
	require.NoError(t, err)

	_, err = manager.Claim(context.Background(), "order-notifications", uuid.New())
	require.EqualError(t, err, "boom")

	_, err = manager.Claim(context.Background(), "", uuid.New())
	require.Error(t, err)

	_, err = manager.Claim(context.Background(), "order-notifications", uuid.Nil)
	require.Error(t, err)

	require.Equal(t, "in_flight", InFlight.String())
}
