/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package lifecycle

import (
	"errors"
	"sync/atomic"

	"github.com/maklerhaus/atlas/internal/pkg/log"
)

var logger = log.New("lifecycle")

// ErrNotStarted indicates that an operation was attempted on a service that is not started.
var ErrNotStarted = errors.New("service has not started")

// State is the state of a service.
type State = uint32

// Service states.
const (
	StateNotStarted State = 0
	StateStarting   State = 1
	StateStarted    State = 2
	StateStopped    State = 3
)

// Lifecycle implements the lifecycle of a service, i.e. Start and Stop.
type Lifecycle struct {
	name  string
	state uint32
	start func()
	stop  func()
}

// Opt sets a lifecycle option.
type Opt func(lc *Lifecycle)

// WithStart sets the start function which is invoked when Start() is called.
func WithStart(start func()) Opt {
	return func(lc *Lifecycle) {
		lc.start = start
	}
}

// WithStop sets the stop function which is invoked when Stop() is called.
func WithStop(stop func()) Opt {
	return func(lc *Lifecycle) {
		lc.stop = stop
	}
}

// New returns a new Lifecycle.
func New(name string, opts ...Opt) *Lifecycle {
	lc := &Lifecycle{
		name:  name,
		start: func() {},
		stop:  func() {},
	}

	for _, opt := range opts {
		opt(lc)
	}

	return lc
}

// Start starts the service. This function has no effect if the service has already been started.
func (h *Lifecycle) Start() {
	if !atomic.CompareAndSwapUint32(&h.state, StateNotStarted, StateStarting) {
		logger.Debug("Service already started", log.WithServiceName(h.name))

		return
	}

	h.start()

	atomic.StoreUint32(&h.state, StateStarted)

	logger.Debug("Service started", log.WithServiceName(h.name))
}

// Stop stops the service. This function has no effect if the service has already been stopped
// or was never started.
func (h *Lifecycle) Stop() {
	if !atomic.CompareAndSwapUint32(&h.state, StateStarted, StateStopped) {
		logger.Debug("Service already stopped or not started", log.WithServiceName(h.name))

		return
	}

	h.stop()

	logger.Debug("Service stopped", log.WithServiceName(h.name))
}

// State returns the current state of the service.
func (h *Lifecycle) State() State {
	return atomic.LoadUint32(&h.state)
}
