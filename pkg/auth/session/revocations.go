// Package session tracks access tokens that were revoked before they expired.
// The auth service writes revocations; the engine only reads them.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"

	redisclient "github.com/angelmondragon/campusmart-backend/pkg/redis"
)

type revocationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

type revocationKeyer interface {
	RevokedTokenKey(jti string) string
}

// RevocationChecker exposes the read-only surface needed by middleware.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Revocations stores revoked token ids in Redis until the token would have expired anyway.
type Revocations struct {
	store revocationStore
	keyer revocationKeyer
	now   func() time.Time
}

// NewRevocations constructs a revocation list backed by Redis.
func NewRevocations(client *redisclient.Client) (*Revocations, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Revocations{store: client, keyer: client, now: time.Now}, nil
}

// Revoke marks jti as revoked until expiresAt. Tokens already past expiry are ignored.
func (r *Revocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if strings.TrimSpace(jti) == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.store.Set(ctx, r.keyer.RevokedTokenKey(jti), "1", ttl)
}

// IsRevoked reports whether jti was revoked.
func (r *Revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, fmt.Errorf("token id is required")
	}
	if _, err := r.store.Get(ctx, r.keyer.RevokedTokenKey(jti)); err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
