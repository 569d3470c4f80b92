/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sts

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/bipro/api"
)

type tokenIssuer interface {
	IssueToken(ctx context.Context, carrier *api.Carrier, variant api.AuthVariant,
		creds api.Credentials) (*api.Token, error)
}

type cacheMetricsProvider interface {
	TokenCacheHit()
	TokenInvalidated()
}

// Cache is the process-wide store of issued security tokens, keyed by carrier and
// authentication variant. Concurrent callers for the same key coalesce onto a single
// in-flight issuance. Tokens are held in memory only and are never written to disk.
type Cache struct {
	issuer  tokenIssuer
	clock   clockwork.Clock
	metrics cacheMetricsProvider

	group  singleflight.Group
	mutex  sync.RWMutex
	tokens map[string]*api.Token
}

// CacheOption sets an option on a Cache.
type CacheOption func(*Cache)

// WithCacheClock sets the clock (used in tests).
func WithCacheClock(clock clockwork.Clock) CacheOption {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithCacheMetrics sets the metrics provider.
func WithCacheMetrics(m cacheMetricsProvider) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// NewCache returns a new token cache backed by the given issuer.
func NewCache(issuer tokenIssuer, opts ...CacheOption) *Cache {
	c := &Cache{
		issuer:  issuer,
		clock:   clockwork.NewRealClock(),
		metrics: noCacheMetrics{},
		tokens:  make(map[string]*api.Token),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns a valid token for the given carrier and variant, issuing a new one if none
// is cached. On issuance failure the in-flight entry is released so that the next caller
// retries.
func (c *Cache) Get(ctx context.Context, carrier *api.Carrier, variant api.AuthVariant,
	creds api.Credentials) (*api.Token, error) {
	key := cacheKey(carrier.Name, variant)

	if token := c.lookup(key); token != nil {
		c.metrics.TokenCacheHit()

		return token, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have issued a token while we waited for the flight.
		if token := c.lookup(key); token != nil {
			return token, nil
		}

		token, err := c.issuer.IssueToken(ctx, carrier, variant, creds)
		if err != nil {
			return nil, err
		}

		c.mutex.Lock()
		c.tokens[key] = token
		c.mutex.Unlock()

		return token, nil
	})
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	return result.(*api.Token), nil //nolint:forcetypeassert
}

// Invalidate evicts the cached token for the given carrier and variant. It is called
// after an HTTP 401/403 with a wsse:InvalidSecurityToken fault.
func (c *Cache) Invalidate(carrierName string, variant api.AuthVariant) {
	key := cacheKey(carrierName, variant)

	c.mutex.Lock()
	_, existed := c.tokens[key]
	delete(c.tokens, key)
	c.mutex.Unlock()

	if existed {
		c.metrics.TokenInvalidated()

		logger.Info("Invalidated cached security token", log.WithCarrier(carrierName),
			log.WithAuthVariant(variant.String()))
	}
}

// Sweep removes all expired tokens. It is registered as a periodic task.
func (c *Cache) Sweep() {
	now := c.clock.Now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, token := range c.tokens {
		if !token.ValidAt(now) {
			delete(c.tokens, key)
		}
	}
}

// Size returns the number of cached tokens (including expired ones not yet swept).
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.tokens)
}

func (c *Cache) lookup(key string) *api.Token {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	token := c.tokens[key]
	if token.ValidAt(c.clock.Now()) {
		return token
	}

	return nil
}

func cacheKey(carrierName string, variant api.AuthVariant) string {
	return carrierName + "|" + variant.String()
}

type noCacheMetrics struct{}

func (noCacheMetrics) TokenCacheHit()    {}
func (noCacheMetrics) TokenInvalidated() {}
