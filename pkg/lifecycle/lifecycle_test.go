/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	started := 0
	stopped := 0

	lc := New("test-service",
		WithStart(func() { started++ }),
		WithStop(func() { stopped++ }),
	)

	require.Equal(t, StateNotStarted, lc.State())

	lc.Start()
	lc.Start()

	require.Equal(t, 1, started)
	require.Equal(t, StateStarted, lc.State())

	lc.Stop()
	lc.Stop()

	require.Equal(t, 1, stopped)
	require.Equal(t, StateStopped, lc.State())
}

func TestLifecycleStopBeforeStart(t *testing.T) {
	stopped := false

	lc := New("test-service", WithStop(func() { stopped = true }))

	lc.Stop()

	require.False(t, stopped)
	require.Equal(t, StateNotStarted, lc.State())
}
