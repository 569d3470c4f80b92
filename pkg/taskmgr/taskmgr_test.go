/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package taskmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"
)

func openCoordinationStore(t *testing.T) storage.Store {
	t.Helper()

	coordinationStore, err := mem.NewProvider().OpenStore("coordination")
	require.NoError(t, err)

	return coordinationStore
}

func TestRegisteredTaskRuns(t *testing.T) {
	mgr := New(openCoordinationStore(t), 50*time.Millisecond)

	var (
		mutex sync.Mutex
		runs  int
	)

	mgr.RegisterTask("counter", 50*time.Millisecond, func() {
		mutex.Lock()
		runs++
		mutex.Unlock()
	})

	mgr.Start()
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()

		return runs >= 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestOnlyOneInstanceRunsTask(t *testing.T) {
	coordinationStore := openCoordinationStore(t)

	mgr1 := New(coordinationStore, 50*time.Millisecond)
	mgr2 := New(coordinationStore, 50*time.Millisecond)

	require.NotEqual(t, mgr1.InstanceID(), mgr2.InstanceID())

	var (
		mutex   sync.Mutex
		runners = map[string]int{}
	)

	register := func(mgr *Manager) {
		id := mgr.InstanceID()

		mgr.RegisterTask("shared", 50*time.Millisecond, func() {
			mutex.Lock()
			runners[id]++
			mutex.Unlock()
		})
	}

	register(mgr1)
	register(mgr2)

	mgr1.Start()

	// Give the first instance time to claim the permit before the second starts.
	time.Sleep(200 * time.Millisecond)

	mgr2.Start()

	defer mgr1.Stop()
	defer mgr2.Stop()

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()

		return runners[mgr1.InstanceID()] >= 2
	}, 3*time.Second, 20*time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()

	require.Zero(t, runners[mgr2.InstanceID()])
}

func TestFailover(t *testing.T) {
	coordinationStore := openCoordinationStore(t)

	mgr1 := New(coordinationStore, 50*time.Millisecond)
	mgr2 := New(coordinationStore, 50*time.Millisecond)

	var (
		mutex   sync.Mutex
		runners = map[string]int{}
	)

	register := func(mgr *Manager) {
		id := mgr.InstanceID()

		mgr.RegisterTask("shared", 50*time.Millisecond, func() {
			mutex.Lock()
			runners[id]++
			mutex.Unlock()
		})
	}

	register(mgr1)
	register(mgr2)

	mgr1.Start()

	time.Sleep(200 * time.Millisecond)

	mgr2.Start()
	defer mgr2.Stop()

	// Stop the permit holder. The second instance takes over once the permit has gone
	// stale.
	mgr1.Stop()

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()

		return runners[mgr2.InstanceID()] >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDefaultInterval(t *testing.T) {
	mgr := New(openCoordinationStore(t), 0)
	require.Equal(t, defaultCheckInterval, mgr.interval)
}
