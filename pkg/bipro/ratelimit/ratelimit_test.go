/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/errors"
)

const carrier = "Proxima Lebensversicherung"

func TestFeedbackThrottled(t *testing.T) {
	limiter := New(Config{Initial: 4}, WithClock(clockwork.NewFakeClock()))

	require.InDelta(t, 4, limiter.Width(carrier), 0.001)

	limiter.Feedback(carrier, KindThrottled, 0)
	require.InDelta(t, 2, limiter.Width(carrier), 0.001)

	limiter.Feedback(carrier, KindThrottled, 0)
	require.InDelta(t, 1, limiter.Width(carrier), 0.001)

	// The width never drops below the floor.
	for i := 0; i < 5; i++ {
		limiter.Feedback(carrier, KindThrottled, 0)
	}

	require.InDelta(t, 0.5, limiter.Width(carrier), 0.001)
}

func TestFeedbackTransient(t *testing.T) {
	limiter := New(Config{Initial: 4}, WithClock(clockwork.NewFakeClock()))

	limiter.Feedback(carrier, KindTransient, 0)
	require.InDelta(t, 3, limiter.Width(carrier), 0.001)

	limiter.Feedback(carrier, KindTransient, 0)
	require.InDelta(t, 2.25, limiter.Width(carrier), 0.001)
}

func TestProbeGrowsQuietBucket(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(Config{Initial: 1}, WithClock(clock))

	require.InDelta(t, 1, limiter.Width(carrier), 0.001)

	// Within the probe interval nothing grows.
	limiter.Probe()
	require.InDelta(t, 1, limiter.Width(carrier), 0.001)

	clock.Advance(10 * time.Second)
	limiter.Probe()
	require.InDelta(t, 1.25, limiter.Width(carrier), 0.001)

	// Adverse feedback resets the quiet period.
	limiter.Feedback(carrier, KindTransient, 0)

	clock.Advance(5 * time.Second)
	limiter.Probe()
	require.InDelta(t, 0.9375, limiter.Width(carrier), 0.001)

	clock.Advance(5 * time.Second)
	limiter.Probe()
	require.InDelta(t, 1.1875, limiter.Width(carrier), 0.001)
}

func TestProbeCapsAtMax(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(Config{Initial: 9.9}, WithClock(clock))

	clock.Advance(10 * time.Second)
	limiter.Probe()
	require.InDelta(t, 10, limiter.Width(carrier), 0.001)

	clock.Advance(10 * time.Second)
	limiter.Probe()
	require.InDelta(t, 10, limiter.Width(carrier), 0.001)
}

func TestAcquirePausedBucket(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(Config{Initial: 4}, WithClock(clock))

	limiter.Feedback(carrier, KindThrottled, 2*time.Second)

	done := make(chan error, 1)

	go func() {
		done <- limiter.Acquire(context.Background(), carrier)
	}()

	// The acquiring goroutine must be parked on the pause timer.
	clock.BlockUntil(1)

	select {
	case <-done:
		t.Fatal("Acquire returned before the pause elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after the pause elapsed")
	}
}

func TestAcquireCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(Config{Initial: 4}, WithClock(clock))

	limiter.Feedback(carrier, KindThrottled, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- limiter.Acquire(ctx, carrier)
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
}

func TestObserve(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := New(Config{Initial: 4}, WithClock(clock))

	limiter.Observe(carrier, nil)
	require.InDelta(t, 4, limiter.Width(carrier), 0.001)

	limiter.Observe(carrier, errors.NewTransientf("gateway timeout"))
	require.InDelta(t, 3, limiter.Width(carrier), 0.001)

	limiter.Observe(carrier, errors.NewThrottled(errors.NewTransientf("429"), time.Second))
	require.InDelta(t, 1.5, limiter.Width(carrier), 0.001)

	// Other errors leave the bucket alone.
	limiter.Observe(carrier, errors.NewBadRequestf("bad"))
	require.InDelta(t, 1.5, limiter.Width(carrier), 0.001)
}
