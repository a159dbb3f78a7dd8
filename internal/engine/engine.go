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

// Package engine boots satellites in priority order and owns the running
// state of the process.
package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/logging"
	"github.com/google/uuid"
)

// DefaultPriority is used for every phase a satellite leaves at zero.
const DefaultPriority = 100

var ErrNoConfigStage = errors.New("engine has no configuration satellite")

// Satellite is a unit of boot logic. It takes part in a phase by
// implementing Loader, Starter or Stopper.
type Satellite interface {
	Name() string
}

type Loader interface {
	Load(ctx context.Context, api *API) error
}

type Starter interface {
	Start(ctx context.Context, api *API) error
}

type Stopper interface {
	Stop(ctx context.Context, api *API) error
}

// Priorities order satellites within a phase. Lower runs first.
type Priorities struct {
	Load, Start, Stop int
}

// Prioritized is implemented by satellites that do not run at
// DefaultPriority.
type Prioritized interface {
	Priorities() Priorities
}

type entry struct {
	sat    Satellite
	module string
	prio   Priorities
}

type phase string

const (
	phaseLoad  phase = "load"
	phaseStart phase = "start"
	phaseStop  phase = "stop"
)

type step struct {
	name string
	run  func(ctx context.Context) error
}

type state int

const (
	stateIdle state = iota
	stateStarting
	stateRunning
	stateStopping
)

// Options configure an Engine.
type Options struct {
	ID     string
	Logger *slog.Logger
	// Fatal is called after a phase failed and every error was logged.
	// It defaults to exiting the process.
	Fatal func(err error)
	// OnStopped runs as part of the final stop step.
	OnStopped func()
}

type Engine struct {
	api       *API
	logger    *slog.Logger
	fatal     func(error)
	onStopped func()

	configSat Satellite
	entries   []entry

	mu    sync.Mutex
	state state
}

// New creates an engine whose stage 0 is configSat's Load.
func New(configSat Satellite, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	fatal := opts.Fatal
	if fatal == nil {
		fatal = func(error) { os.Exit(1) }
	}
	e := &Engine{
		api:       newAPI(id, logger),
		logger:    logger,
		fatal:     fatal,
		onStopped: opts.OnStopped,
		configSat: configSat,
	}
	if configSat != nil {
		e.entries = append(e.entries, newEntry(configSat, ""))
	}
	return e
}

func newEntry(sat Satellite, module string) entry {
	var prio Priorities
	if p, ok := sat.(Prioritized); ok {
		prio = p.Priorities()
	}
	return entry{sat: sat, module: module, prio: Priorities{
		Load:  normalize(prio.Load),
		Start: normalize(prio.Start),
		Stop:  normalize(prio.Stop),
	}}
}

func normalize(p int) int {
	if p == 0 {
		return DefaultPriority
	}
	return p
}

func (e *Engine) API() *API { return e.api }

// Register adds core satellites in discovery order.
func (e *Engine) Register(sats ...Satellite) {
	for _, s := range sats {
		e.entries = append(e.entries, newEntry(s, ""))
	}
}

// RegisterModule adds the satellites of an application module. They run
// after core satellites of the same priority.
func (e *Engine) RegisterModule(module string, sats ...Satellite) {
	for _, s := range sats {
		e.entries = append(e.entries, newEntry(s, module))
	}
}

func (e *Engine) Running() bool { return e.api.Running() }

// Start runs stage 0 and stage 1 once, then stage 2. A failing phase is
// fatal.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		e.logger.Warn("start ignored", "reason", "engine is not idle")
		return nil
	}
	e.state = stateStarting
	e.mu.Unlock()

	err := e.start(ctx)

	e.mu.Lock()
	if err != nil {
		e.state = stateIdle
	} else {
		e.state = stateRunning
	}
	e.mu.Unlock()

	if err != nil {
		e.fail(err)
	}
	return err
}

func (e *Engine) start(ctx context.Context) error {
	if !e.api.Initialized() {
		if err := e.initialize(ctx); err != nil {
			return err
		}
	}
	if err := e.runSteps(ctx, e.steps(phaseStart)); err != nil {
		return err
	}
	e.api.bootTime.Store(time.Now().UnixNano())
	e.api.running.Store(true)
	e.logger.Info("stellar started", "id", e.api.ID())
	return nil
}

// initialize is stage 0 followed by stage 1.
func (e *Engine) initialize(ctx context.Context) error {
	if e.configSat == nil {
		return ErrNoConfigStage
	}
	if l, ok := e.configSat.(Loader); ok {
		if err := l.Load(ctx, e.api); err != nil {
			return fmt.Errorf("%s load: %w", e.configSat.Name(), err)
		}
	}
	if err := e.runSteps(ctx, e.steps(phaseLoad)); err != nil {
		return err
	}
	e.api.initialized.Store(true)
	e.logger.Debug("stellar initialized", "satellites", len(e.entries))
	return nil
}

// Stop runs every stop step in priority order followed by the final step.
// It is a no-op when not running or already stopping.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateStopping:
		e.mu.Unlock()
		e.logger.Info("shutdown already in progress")
		return nil
	case stateRunning:
	default:
		e.mu.Unlock()
		return nil
	}
	e.state = stateStopping
	e.mu.Unlock()

	e.logger.Info("stopping stellar", "id", e.api.ID())
	e.api.running.Store(false)

	steps := append(e.steps(phaseStop), step{name: "final stop", run: e.finalStep})
	err := e.runSteps(ctx, steps)

	e.mu.Lock()
	e.state = stateIdle
	e.mu.Unlock()

	if err != nil {
		e.fail(err)
	}
	return err
}

func (e *Engine) finalStep(context.Context) error {
	if e.api.Watcher != nil {
		e.api.Watcher.Unwatch()
	}
	if e.api.PIDFile != "" {
		if err := os.Remove(e.api.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("pid file not removed", "path", e.api.PIDFile, "error", err)
		}
	}
	if e.onStopped != nil {
		e.onStopped()
	}
	e.logger.Info("stellar has been stopped", "id", e.api.ID())
	return nil
}

// Restart stops a running engine and starts it again. Loading is not
// repeated.
func (e *Engine) Restart(ctx context.Context) error {
	if e.Running() {
		if err := e.Stop(ctx); err != nil {
			return err
		}
	}
	e.logger.Info("restarting stellar")
	return e.Start(ctx)
}

// steps orders the satellites implementing ph by priority. The sort is
// stable so equal priorities keep registration order.
func (e *Engine) steps(ph phase) []step {
	type ranked struct {
		prio int
		step step
	}
	var list []ranked
	for _, en := range e.entries {
		name := en.sat.Name()
		if en.module != "" {
			name = en.module + "/" + name
		}
		switch ph {
		case phaseLoad:
			if en.sat == e.configSat {
				continue
			}
			if l, ok := en.sat.(Loader); ok {
				list = append(list, ranked{en.prio.Load, step{name, func(ctx context.Context) error { return l.Load(ctx, e.api) }}})
			}
		case phaseStart:
			if s, ok := en.sat.(Starter); ok {
				list = append(list, ranked{en.prio.Start, step{name, func(ctx context.Context) error { return s.Start(ctx, e.api) }}})
			}
		case phaseStop:
			if s, ok := en.sat.(Stopper); ok {
				list = append(list, ranked{en.prio.Stop, step{name, func(ctx context.Context) error { return s.Stop(ctx, e.api) }}})
			}
		}
	}
	slices.SortStableFunc(list, func(a, b ranked) int { return cmp.Compare(a.prio, b.prio) })

	out := make([]step, len(list))
	for i, r := range list {
		r.step.name = fmt.Sprintf("%s %s", r.step.name, ph)
		out[i] = r.step
	}
	return out
}

func (e *Engine) runSteps(ctx context.Context, steps []step) error {
	for _, s := range steps {
		e.logger.Debug("running step", "step", s.name)
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// fail logs every joined error at emergency level and hands over to the
// fatal handler.
func (e *Engine) fail(err error) {
	errs := []error{err}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	}
	for _, one := range errs {
		e.logger.Log(context.Background(), logging.LevelEmergency, "stellar failed", "error", one)
	}
	e.fatal(err)
}
