/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package taskmgr runs periodic maintenance tasks, such as the token cache sweep and the
// rate-limit probe, on exactly one server instance of a cluster.
package taskmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"go.uber.org/zap"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/lifecycle"
)

const (
	coordinationPermitKey = "task-permit"
	defaultCheckInterval  = 10 * time.Second
)

type status = string

const (
	loggerModule = "task-manager"

	statusIdle    status = "idle"
	statusRunning status = "running"
)

// permit is an entry in the coordination store. It ensures that only one server instance
// within a cluster has the duty of running a given task.
type permit struct {
	TaskID        string `json:"taskId"`
	CurrentHolder string `json:"currentHolder"`
	Status        string `json:"status"`
	UpdatedTime   int64  `json:"updatedTime"` // Unix timestamp.
}

// Manager runs registered tasks periodically. Each task runs on exactly one instance of
// the cluster; all instances must share the same coordination store.
type Manager struct {
	*lifecycle.Lifecycle

	interval          time.Duration
	tasks             map[string]*registration
	done              chan struct{}
	logger            *log.Log
	coordinationStore storage.Store
	instanceID        string
	mutex             sync.RWMutex
}

// New returns a new task manager. When the instance holding a task's permit goes down,
// another instance takes over after the permit has gone stale, so a brief overlap of two
// instances running the same task is possible and tasks must tolerate it.
// Tasks are registered with RegisterTask; Start begins the periodic checks.
func New(coordinationStore storage.Store, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	s := &Manager{
		interval:          interval,
		done:              make(chan struct{}),
		logger:            log.New(loggerModule),
		coordinationStore: coordinationStore,
		instanceID:        uuid.New().String(),
		tasks:             make(map[string]*registration),
	}

	s.Lifecycle = lifecycle.New("task-manager",
		lifecycle.WithStart(s.start),
		lifecycle.WithStop(s.stop))

	return s
}

// InstanceID returns the unique ID of this server instance.
func (s *Manager) InstanceID() string {
	return s.instanceID
}

// RegisterTask registers a task to be periodically run at the given interval.
func (s *Manager) RegisterTask(id string, interval time.Duration, task func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.tasks[id] = &registration{
		handle:   task,
		id:       id,
		interval: interval,
	}
}

func (s *Manager) getTasks() []*registration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var tasks []*registration

	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}

	return tasks
}

func (s *Manager) start() {
	go func() {
		s.logger.Info("Started task manager.", zap.String("instanceId", s.instanceID))

		for {
			select {
			case <-time.After(s.interval):
				for _, t := range s.getTasks() {
					if err := s.run(t); err != nil {
						s.logger.Error("Error running task", log.WithError(err), log.WithTaskID(t.id))
					}
				}
			case <-s.done:
				s.logger.Debug("Stopped task manager.")

				return
			}
		}
	}()
}

func (s *Manager) stop() {
	close(s.done)
}

func (s *Manager) run(t *registration) error {
	if t.isRunning() {
		// Refresh the permit so other instances know this one is still alive.
		if err := s.updatePermit(t.id, statusRunning); err != nil {
			s.logger.Warn("Error updating status of task", log.WithTaskID(t.id), log.WithError(err))
		}

		return nil
	}

	ok, err := s.shouldRun(t)
	if err != nil {
		return fmt.Errorf("should run: %w", err)
	}

	if !ok {
		s.logger.Debug("Not running task.", log.WithTaskID(t.id))

		return nil
	}

	err = s.updatePermit(t.id, statusRunning)
	if err != nil {
		return fmt.Errorf("update permit for task: %w", err)
	}

	go func(t *registration) {
		s.logger.Debug("Running task", log.WithTaskID(t.id))

		t.run()

		err := s.updatePermit(t.id, statusIdle)
		if err != nil {
			s.logger.Error("Failed to update permit for task", log.WithTaskID(t.id), log.WithError(err))
		}

		s.logger.Debug("Finished running task", log.WithTaskID(t.id))
	}(t)

	return nil
}

func (s *Manager) shouldRun(t *registration) (bool, error) {
	currentPermitBytes, err := s.coordinationStore.Get(getPermitKey(t.id))
	if err != nil {
		if errors.Is(err, storage.ErrDataNotFound) {
			s.logger.Info("No existing permit found for task. Taking on the duty of running it.",
				log.WithTaskID(t.id))

			return true, nil
		}

		return false, fmt.Errorf("get permit from DB for task [%s]: %w", t.id, err)
	}

	var currentPermit permit

	err = json.Unmarshal(currentPermitBytes, &currentPermit)
	if err != nil {
		return false, fmt.Errorf("unmarshal permit for task [%s]: %w", t.id, err)
	}

	// The permit timestamp is truncated to whole seconds, so the elapsed time is too.
	timeSinceLastUpdate := time.Since(time.Unix(currentPermit.UpdatedTime, 0)).Truncate(time.Second)

	if currentPermit.CurrentHolder == s.instanceID {
		if timeSinceLastUpdate < t.interval {
			return false, nil
		}

		s.logger.Debug("It's currently my duty to run task.", log.WithTaskID(t.id),
			zap.Duration("sinceLastUpdate", timeSinceLastUpdate))

		return true, nil
	}

	// Take the duty away from the current holder only if the permit has gone stale,
	// which indicates that the holder is down. All instances of a cluster are assumed to
	// use the same check interval.
	maxTime := s.interval + t.interval

	if timeSinceLastUpdate > maxTime {
		s.logger.Info("The current permit holder has not updated the permit in an unusually "+
			"long time. Taking over the permit.",
			zap.String("permitHolder", currentPermit.CurrentHolder), log.WithTaskID(t.id),
			zap.Duration("sinceLastUpdate", timeSinceLastUpdate), zap.Duration("maxTime", maxTime))

		return true, nil
	}

	return false, nil
}

func (s *Manager) updatePermit(taskID string, status status) error {
	p := permit{
		TaskID:        taskID,
		CurrentHolder: s.instanceID,
		Status:        status,
		UpdatedTime:   time.Now().Unix(),
	}

	permitBytes, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal permit: %w", err)
	}

	err = s.coordinationStore.Put(getPermitKey(taskID), permitBytes)
	if err != nil {
		return fmt.Errorf("failed to store permit: %w", err)
	}

	s.logger.Debug("Permit updated for task.", log.WithTaskID(taskID), log.WithStatus(status))

	return nil
}

func getPermitKey(taskID string) string {
	return coordinationPermitKey + "_" + taskID
}

type registration struct {
	handle   func()
	running  uint32
	id       string
	interval time.Duration
}

func (r *registration) run() {
	if !atomic.CompareAndSwapUint32(&r.running, 0, 1) {
		// Already running.
		return
	}

	r.handle()

	atomic.StoreUint32(&r.running, 0)
}

func (r *registration) isRunning() bool {
	return atomic.LoadUint32(&r.running) == 1
}
