// Package locks provides per-entity mutual exclusion for wallet and order writes.
package locks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Locker serializes work per key. The returned release func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Table holds one weighted semaphore per active key. Entries are dropped once nobody
// holds or waits on them, so the table only grows with concurrent keys.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// WalletKey is the lock key for a user's wallet.
func WalletKey(userID uuid.UUID) string {
	return "wallet:" + userID.String()
}

// OrderKey is the lock key for an order's status.
func OrderKey(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

// Lock blocks until key is free or ctx ends. On ctx expiry it returns ctx.Err() and holds nothing.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		t.release(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			t.release(key, e)
		})
	}, nil
}

func (t *Table) release(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
