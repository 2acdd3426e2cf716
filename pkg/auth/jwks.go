package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var errUnknownKid = errors.New("kid not found in jwks")

// jwksCache holds the identity provider's RSA signing keys by kid.
type jwksCache struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	retries    int
	backoff    time.Duration
	minRefetch time.Duration

	flight    singleflight.Group
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	expiresAt time.Time
}

func newJWKSCache(jwksURL string, client *http.Client, ttl time.Duration, retries int) *jwksCache {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if retries < 1 {
		retries = 1
	}
	return &jwksCache{
		url:        jwksURL,
		client:     client,
		ttl:        ttl,
		retries:    retries,
		backoff:    200 * time.Millisecond,
		minRefetch: 10 * time.Second,
		keys:       map[string]*rsa.PublicKey{},
	}
}

func (c *jwksCache) key(ctx context.Context, kid string, now time.Time) (*rsa.PublicKey, error) {
	if c == nil || c.url == "" {
		return nil, errors.New("jwks url is required")
	}
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := now.Before(c.expiresAt)
	c.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}
	if err := c.refresh(ctx, now, !ok); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, errUnknownKid
	}
	return key, nil
}

// refresh refetches the key set. A kid miss forces a fetch on a fresh
// cache, at most once per minRefetch so unknown kids cannot hammer the
// identity provider. Concurrent callers share one fetch; the lock is held
// only to read or swap the map.
func (c *jwksCache) refresh(ctx context.Context, now time.Time, kidMiss bool) error {
	if !c.needsFetch(now, kidMiss) {
		return nil
	}
	ch := c.flight.DoChan("jwks", func() (any, error) {
		if !c.needsFetch(now, kidMiss) {
			return nil, nil
		}
		keys, err := c.fetchWithRetry(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = now
		c.expiresAt = now.Add(c.ttl)
		c.mu.Unlock()
		return nil, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (c *jwksCache) needsFetch(now time.Time, kidMiss bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !now.Before(c.expiresAt) {
		return true
	}
	return kidMiss && now.Sub(c.fetchedAt) >= c.minRefetch
}

// fetchWithRetry is bounded by retries times the client timeout plus the
// backoff between attempts.
func (c *jwksCache) fetchWithRetry(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	delay := c.backoff
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		keys, err := c.fetch(ctx)
		if err == nil {
			return keys, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("jwks refresh failed after %d attempts: %w", c.retries, lastErr)
}

func (c *jwksCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch status %d", resp.StatusCode)
	}
	var payload struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	next := map[string]*rsa.PublicKey{}
	for _, k := range payload.Keys {
		if !strings.EqualFold(k.Kty, "RSA") || strings.TrimSpace(k.Kid) == "" {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, err := rsaFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		next[k.Kid] = pub
	}
	if len(next) == 0 {
		return nil, errors.New("jwks has no valid rsa signing keys")
	}
	return next, nil
}

func rsaFromJWK(nB64, eB64 string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	if len(eb) == 0 || len(eb) > 4 {
		return nil, errors.New("invalid exponent")
	}
	e := 0
	for _, b := range eb {
		e = e<<8 + int(b)
	}
	if e <= 1 {
		return nil, errors.New("invalid exponent")
	}
	n := new(big.Int).SetBytes(nb)
	if n.BitLen() < 2048 {
		return nil, errors.New("rsa modulus too short")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
