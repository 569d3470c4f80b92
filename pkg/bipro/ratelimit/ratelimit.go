/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package ratelimit implements the per-carrier adaptive rate limiter. The bucket width
// shrinks multiplicatively on adverse carrier feedback and grows additively while the
// carrier stays quiet.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("ratelimit")

// Kind classifies carrier feedback.
type Kind int

// Feedback kinds.
const (
	// KindThrottled is an explicit throttle signal (HTTP 429 or BiPRO throttle fault).
	KindThrottled Kind = iota

	// KindTransient is a transport error or 5xx response.
	KindTransient
)

// Config holds the limiter parameters.
type Config struct {
	// Initial is the starting bucket width in requests per second.
	Initial float64

	// Min and Max bound the bucket width.
	Min float64
	Max float64

	// Add is the additive increase applied per quiet probe interval.
	Add float64

	// Probe is the interval without adverse feedback after which the width grows.
	Probe time.Duration

	// Pause is the default pause after a throttle signal without a Retry-After.
	Pause time.Duration
}

// DefaultConfig returns the default limiter parameters.
func DefaultConfig() Config {
	return Config{
		Initial: 1,
		Min:     0.5,
		Max:     10,
		Add:     0.25,
		Probe:   10 * time.Second,
		Pause:   30 * time.Second,
	}
}

type metricsProvider interface {
	BucketWidth(carrier string, width float64)
}

// Limiter is the per-carrier adaptive rate limiter. It is safe for concurrent use.
type Limiter struct {
	config  Config
	clock   clockwork.Clock
	metrics metricsProvider

	mutex   sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter     *rate.Limiter
	width       float64
	pausedUntil time.Time
	lastAdverse time.Time
}

// Option sets an option on a Limiter.
type Option func(*Limiter)

// WithClock sets the clock (used in tests).
func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) {
		l.clock = clock
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(m metricsProvider) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// New returns a limiter with the given configuration. Zero config fields fall back to
// the defaults.
func New(config Config, opts ...Option) *Limiter {
	defaults := DefaultConfig()

	if config.Initial <= 0 {
		config.Initial = defaults.Initial
	}

	if config.Min <= 0 {
		config.Min = defaults.Min
	}

	if config.Max <= 0 {
		config.Max = defaults.Max
	}

	if config.Add <= 0 {
		config.Add = defaults.Add
	}

	if config.Probe <= 0 {
		config.Probe = defaults.Probe
	}

	if config.Pause <= 0 {
		config.Pause = defaults.Pause
	}

	l := &Limiter{
		config:  config,
		clock:   clockwork.NewRealClock(),
		metrics: noMetrics{},
		buckets: make(map[string]*bucket),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Acquire blocks until the carrier's bucket admits one request, honouring any active
// throttle pause. It returns the context error if the context is done first.
func (l *Limiter) Acquire(ctx context.Context, carrier string) error {
	b := l.bucket(carrier)

	for {
		l.mutex.Lock()
		remaining := b.pausedUntil.Sub(l.clock.Now())
		l.mutex.Unlock()

		if remaining <= 0 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(remaining):
		}
	}

	return b.limiter.Wait(ctx)
}

// Feedback applies adverse carrier feedback: a throttle signal halves the width and
// pauses the bucket, a transient failure shrinks it to three quarters.
func (l *Limiter) Feedback(carrier string, kind Kind, retryAfter time.Duration) {
	b := l.bucket(carrier)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.clock.Now()
	b.lastAdverse = now

	switch kind {
	case KindThrottled:
		l.setWidth(carrier, b, math.Max(l.config.Min, b.width*0.5))

		if retryAfter <= 0 {
			retryAfter = l.config.Pause
		}

		b.pausedUntil = now.Add(retryAfter)

		logger.Info("Carrier throttled, pausing bucket", log.WithCarrier(carrier),
			log.WithBucketWidth(b.width), log.WithDuration(retryAfter))

	case KindTransient:
		l.setWidth(carrier, b, math.Max(l.config.Min, b.width*0.75))
	}
}

// Observe classifies an error and applies the matching feedback. Errors that are neither
// throttled nor transient leave the bucket unchanged.
func (l *Limiter) Observe(carrier string, err error) {
	switch {
	case err == nil:
	case errors.IsThrottled(err):
		l.Feedback(carrier, KindThrottled, errors.RetryAfter(err))
	case errors.IsTransient(err):
		l.Feedback(carrier, KindTransient, 0)
	}
}

// Probe applies the additive increase to every bucket that saw no adverse feedback for a
// full probe interval. It is registered as a periodic task at the probe interval.
func (l *Limiter) Probe() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.clock.Now()

	for carrier, b := range l.buckets {
		if now.Sub(b.lastAdverse) >= l.config.Probe {
			l.setWidth(carrier, b, math.Min(l.config.Max, b.width+l.config.Add))
		}
	}
}

// Width returns the current bucket width for the carrier.
func (l *Limiter) Width(carrier string) float64 {
	b := l.bucket(carrier)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	return b.width
}

func (l *Limiter) bucket(carrier string) *bucket {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	b, ok := l.buckets[carrier]
	if !ok {
		b = &bucket{
			limiter:     rate.NewLimiter(rate.Limit(l.config.Initial), burst(l.config.Initial)),
			width:       l.config.Initial,
			lastAdverse: l.clock.Now(),
		}

		l.buckets[carrier] = b

		l.metrics.BucketWidth(carrier, b.width)
	}

	return b
}

// setWidth must be called with the mutex held.
func (l *Limiter) setWidth(carrier string, b *bucket, width float64) {
	if width == b.width {
		return
	}

	b.width = width
	b.limiter.SetLimit(rate.Limit(width))
	b.limiter.SetBurst(burst(width))

	l.metrics.BucketWidth(carrier, width)
}

func burst(width float64) int {
	return int(math.Ceil(width))
}

type noMetrics struct{}

func (noMetrics) BucketWidth(string, float64) {}
