// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package cluster

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"
	"syscall"
	"time"
)

// Signals are the process signals Run reacts to.
var Signals = []os.Signal{
	syscall.SIGINT, syscall.SIGTERM,
	syscall.SIGUSR2, syscall.SIGHUP,
	syscall.SIGTTIN, syscall.SIGTTOU,
}

// Worker is the parent's handle on one worker process.
type Worker interface {
	ID() int
	Send(k Kind) error
	Kill() error
}

// Event is what a worker reports back. Exited is set once, after the last
// message.
type Event struct {
	WorkerID int
	Message  Message
	Exited   bool
	Err      error
}

// Spawner starts workers. notify must not be called before Spawn returns.
type Spawner interface {
	Spawn(id int, notify func(Event)) (Worker, error)
}

type Options struct {
	Workers     int
	StopTimeout time.Duration
	Logger      *slog.Logger
}

type tracked struct {
	w     Worker
	state State
}

// Manager reconciles the running workers with the expected count. Every
// event re-runs the tick.
type Manager struct {
	spawner     Spawner
	logger      *slog.Logger
	stopTimeout time.Duration

	mu       sync.Mutex
	expected int
	workers  map[int]*tracked
	restarts []int
	stopping bool
	done     chan struct{}
}

func NewManager(spawner Spawner, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expected := opts.Workers
	if expected < 1 {
		expected = 1
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 10 * time.Second
	}
	return &Manager{
		spawner:     spawner,
		logger:      logger.With("component", "cluster"),
		stopTimeout: stopTimeout,
		expected:    expected,
		workers:     make(map[int]*tracked),
		done:        make(chan struct{}),
	}
}

// Start runs the first tick.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Info("cluster starting", "workers", m.expected)
	m.tick()
}

// Done is closed once a stop has been requested and every worker exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) Expected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expected
}

// States returns a snapshot of worker states by id.
func (m *Manager) States() map[int]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]State, len(m.workers))
	for id, t := range m.workers {
		out[id] = t.state
	}
	return out
}

// Notify feeds a worker event into the manager.
func (m *Manager) Notify(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.workers[ev.WorkerID]
	if !ok {
		return
	}
	logger := m.logger.With("worker_id", ev.WorkerID)

	if ev.Exited {
		delete(m.workers, ev.WorkerID)
		m.restarts = slices.DeleteFunc(m.restarts, func(id int) bool { return id == ev.WorkerID })
		if t.state == StateStopping || m.stopping {
			logger.Info("worker exited", "error", ev.Err)
		} else {
			logger.Warn("worker exited unexpectedly", "state", string(t.state), "error", ev.Err)
		}
		m.tick()
		return
	}

	switch ev.Message.Kind {
	case KindState:
		// a stop in flight is not undone by late reports
		if t.state == StateStopping && ev.Message.State != StateStopped {
			break
		}
		t.state = ev.Message.State
		logger.Info("worker state", "state", string(t.state))
	case KindException:
		logger.Error("worker exception", "error", ev.Message.Error)
	}
	m.tick()
}

// tick is the reconciliation step. Callers hold mu.
func (m *Manager) tick() {
	if m.stopping {
		if len(m.workers) == 0 {
			m.finish()
		}
		return
	}

	active := 0
	for _, t := range m.workers {
		if t.state != StateStopping && t.state != StateStopped {
			active++
		}
	}

	if active > m.expected {
		if id, ok := m.pick(func(s State) bool { return s != StateStopping && s != StateStopped }, true); ok {
			m.command(id, KindStop, StateStopping)
		}
		return
	}

	if active < m.expected {
		if m.anyIn(StateStarting, StateRestarting) {
			return
		}
		m.spawn(m.freeID())
		return
	}

	if len(m.restarts) > 0 && !m.anyIn(StateStarting, StateRestarting, StateStopping) {
		id := m.restarts[0]
		m.restarts = m.restarts[1:]
		if _, ok := m.workers[id]; ok {
			m.command(id, KindRestart, StateRestarting)
		}
	}
}

func (m *Manager) anyIn(states ...State) bool {
	for _, t := range m.workers {
		if slices.Contains(states, t.state) {
			return true
		}
	}
	return false
}

// pick returns the lowest (or highest) worker id whose state matches.
func (m *Manager) pick(match func(State) bool, highest bool) (int, bool) {
	ids := slices.Sorted(maps.Keys(m.workers))
	if highest {
		slices.Reverse(ids)
	}
	for _, id := range ids {
		if match(m.workers[id].state) {
			return id, true
		}
	}
	return 0, false
}

// freeID is the lowest unused id, starting at 1.
func (m *Manager) freeID() int {
	id := 1
	for {
		if _, used := m.workers[id]; !used {
			return id
		}
		id++
	}
}

func (m *Manager) spawn(id int) {
	w, err := m.spawner.Spawn(id, m.Notify)
	if err != nil {
		m.logger.Error("worker spawn failed", "worker_id", id, "error", err)
		return
	}
	m.workers[id] = &tracked{w: w, state: StateStarting}
	m.logger.Info("worker spawned", "worker_id", id)
}

func (m *Manager) command(id int, k Kind, next State) {
	t := m.workers[id]
	if err := t.w.Send(k); err != nil {
		m.logger.Warn("worker command failed", "worker_id", id, "command", string(k), "error", err)
		return
	}
	t.state = next
	m.logger.Info("worker command sent", "worker_id", id, "command", string(k))
}

func (m *Manager) finish() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// Scale changes the expected count by delta. It never drops below one.
func (m *Manager) Scale(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expected = max(1, m.expected+delta)
	m.logger.Info("cluster scaled", "workers", m.expected)
	m.tick()
}

// RollingRestart queues every worker for a restart, one at a time.
func (m *Manager) RollingRestart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range slices.Sorted(maps.Keys(m.workers)) {
		if !slices.Contains(m.restarts, id) {
			m.restarts = append(m.restarts, id)
		}
	}
	m.logger.Info("rolling restart", "queued", len(m.restarts))
	m.tick()
}

// RestartAll restarts every settled worker at once.
func (m *Manager) RestartAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = nil
	for _, id := range slices.Sorted(maps.Keys(m.workers)) {
		if !m.workers[id].state.Transitional() {
			m.command(id, KindRestart, StateRestarting)
		}
	}
}

// Stop asks every worker to stop and waits for them to exit. Workers still
// alive when ctx ends are killed.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.stopping {
		m.stopping = true
		m.restarts = nil
		m.logger.Info("cluster stopping", "workers", len(m.workers))
		for _, id := range slices.Sorted(maps.Keys(m.workers)) {
			if m.workers[id].state != StateStopping {
				m.command(id, KindStop, StateStopping)
			}
		}
		m.tick()
	}
	m.mu.Unlock()

	select {
	case <-m.done:
		m.logger.Info("cluster stopped")
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	for id, t := range m.workers {
		m.logger.Warn("killing worker", "worker_id", id)
		if err := t.w.Kill(); err != nil {
			m.logger.Warn("worker kill failed", "worker_id", id, "error", err)
		}
	}
	m.mu.Unlock()
	return ctx.Err()
}

// HandleSignal applies sig and reports whether the cluster should stop.
func (m *Manager) HandleSignal(sig os.Signal) bool {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		return true
	case syscall.SIGUSR2:
		m.RollingRestart()
	case syscall.SIGHUP:
		m.RestartAll()
	case syscall.SIGTTIN:
		m.Scale(1)
	case syscall.SIGTTOU:
		m.Scale(-1)
	}
	return false
}

// Run starts the cluster and serves signals until a stop signal arrives or
// ctx ends.
func (m *Manager) Run(ctx context.Context, sigs <-chan os.Signal) error {
	m.Start()
	for {
		select {
		case <-ctx.Done():
			return m.stopWithTimeout()
		case sig := <-sigs:
			m.logger.Info("signal received", "signal", sig.String())
			if m.HandleSignal(sig) {
				return m.stopWithTimeout()
			}
		}
	}
}

func (m *Manager) stopWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.stopTimeout)
	defer cancel()
	return m.Stop(ctx)
}
