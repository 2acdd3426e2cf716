package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcpgateway/pkg/store"
)

const revocationPrefix = "revoked:"

// ErrRevocationUnavailable means the revocation store could not answer.
// Callers must deny the request.
var ErrRevocationUnavailable = errors.New("revocation store unavailable")

// RevocationChecker reads and writes revocation entries in the shared
// cache. Entries carry their own TTL so the store never grows unbounded.
type RevocationChecker struct {
	Cache store.Cache
	Now   func() time.Time
}

func NewRevocationChecker(cache store.Cache) *RevocationChecker {
	return &RevocationChecker{Cache: cache, Now: time.Now}
}

func (c *RevocationChecker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return false, errors.New("token id required")
	}
	if c == nil || c.Cache == nil {
		return false, ErrRevocationUnavailable
	}
	_, err := c.Cache.Get(ctx, revocationPrefix+tokenID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
	}
}

// Revoke records tokenID as revoked until the given instant, normally the
// token's own expiry. Entries already in the past are not written.
func (c *RevocationChecker) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return errors.New("token id required")
	}
	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	return c.Cache.Set(ctx, revocationPrefix+tokenID, until.UTC().Format(time.RFC3339), ttl)
}

func (c *RevocationChecker) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}
