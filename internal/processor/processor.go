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

// Package processor runs one action invocation from guard checks to
// completion.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/internal/logging"
	"github.com/StellarFw/stellar-sub002/pkg/core"
)

// State is the step a Processor is in.
type State int32

const (
	StateCreated State = iota
	StatePreProcessing
	StateValidating
	StateRunning
	StatePostProcessing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePreProcessing:
		return "preProcessing"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	case StatePostProcessing:
		return "postProcessing"
	case StateCompleted:
		return "completed"
	default:
		return "created"
	}
}

// allowedParams survive scrubbing whatever the action declares.
var allowedParams = []string{"file", "apiVersion", "callback", "action"}

// Result is the final state of a completed Processor.
type Result struct {
	Connection *core.Connection
	Action     string
	Version    int
	Template   *actions.Template
	Params     map[string]any
	Response   map[string]any
	Status     core.ActionStatus
	// Err is nil on success, otherwise a *core.ActionError.
	Err      error
	Duration time.Duration
}

// Processor is single use. Run completes it exactly once.
type Processor struct {
	d    *Dispatcher
	conn *core.Connection

	action   string
	version  int
	template *actions.Template
	params   map[string]any
	response map[string]any

	missingParams   []string
	validatorErrors []string

	state     atomic.Int32
	completed atomic.Bool
	started   time.Time
	results   chan error
	result    *Result
}

func (p *Processor) State() State {
	return State(p.state.Load())
}

// Run walks the pipeline and returns the completion result. Calling Run on a
// completed processor returns the same result.
func (p *Processor) Run(ctx context.Context) *Result {
	if p.completed.Load() {
		return p.result
	}
	p.started = time.Now()
	pending := p.conn.BeginAction()
	if p.d.metrics != nil {
		p.d.metrics.ActionStarted()
	}
	p.action, p.version = p.requested()

	if status, err := p.guard(pending); status != core.StatusSuccess {
		return p.complete(ctx, status, err)
	}

	data := &actions.Data{
		Connection: p.conn,
		Template:   p.template,
		Params:     p.params,
		Response:   p.response,
		API:        p.d,
		Logger:     p.d.logger.With("action", p.action, "connection_id", p.conn.ID),
	}
	chain := p.d.middleware.Chain(p.template)

	p.state.Store(int32(StatePreProcessing))
	for _, m := range chain {
		if m.PreProcessor == nil {
			continue
		}
		if err := p.hook(ctx, m.Name, m.PreProcessor, data); err != nil {
			return p.complete(ctx, core.StatusOf(err), err)
		}
	}

	p.state.Store(int32(StateValidating))
	if !p.d.opts.DisableParamScrubbing {
		p.reduceParams()
	}
	p.validateParams(data)
	if len(p.missingParams) > 0 {
		return p.complete(ctx, core.StatusMissingParams, &core.ActionError{
			Status:  core.StatusMissingParams,
			Message: core.FieldErrors(p.missingMessages()),
			Fields:  p.missingParams,
		})
	}
	if len(p.validatorErrors) > 0 {
		return p.complete(ctx, core.StatusValidatorErrors, &core.ActionError{
			Status:  core.StatusValidatorErrors,
			Message: core.FieldErrors(p.validatorErrors),
			Fields:  p.invalidFields(),
		})
	}

	p.state.Store(int32(StateRunning))
	if err := p.run(ctx, data); err != nil {
		return p.complete(ctx, core.StatusOf(err), err)
	}

	p.state.Store(int32(StatePostProcessing))
	for _, m := range chain {
		if m.PostProcessor == nil {
			continue
		}
		if err := p.hook(ctx, m.Name, m.PostProcessor, data); err != nil {
			return p.complete(ctx, core.StatusOf(err), err)
		}
	}
	return p.complete(ctx, core.StatusSuccess, nil)
}

// requested reads the action name and api version from the params.
func (p *Processor) requested() (string, int) {
	name, _ := p.params["action"].(string)
	version := 0
	if raw, ok := p.params["apiVersion"]; ok && !actions.Missing(raw, true) {
		if v, err := actions.FormatInteger(raw); err == nil {
			version = v.(int)
		} else {
			version = -1
		}
	}
	return name, version
}

// guard runs the dispatch checks in order and stops at the first failure.
func (p *Processor) guard(pending int64) (core.ActionStatus, error) {
	if !p.d.running() {
		return core.StatusServerShuttingDown, &core.ActionError{
			Status:  core.StatusServerShuttingDown,
			Message: "the server is shutting down",
		}
	}
	if limit := p.d.opts.SimultaneousActions; limit > 0 && pending > int64(limit) {
		return core.StatusTooManyRequests, &core.ActionError{
			Status:  core.StatusTooManyRequests,
			Message: "you have too many pending requests",
		}
	}
	if p.action == "" || p.version < 0 || p.d.actions == nil {
		return core.StatusUnknownAction, unknownAction()
	}
	t, ok := p.d.actions.Resolve(p.action, p.version)
	if !ok {
		return core.StatusUnknownAction, unknownAction()
	}
	p.template = t
	p.version = t.Version
	if t.Blocks(p.conn.Type) {
		return core.StatusUnsupportedServerType, &core.ActionError{
			Status:  core.StatusUnsupportedServerType,
			Message: fmt.Sprintf("this action does not support the %s connection type", p.conn.Type),
		}
	}
	if t.Private && p.conn.Type != core.TypeInternal {
		return core.StatusPrivateActionCalled, &core.ActionError{
			Status:  core.StatusPrivateActionCalled,
			Message: fmt.Sprintf("the action %q can only be called internally", t.Name),
		}
	}
	return core.StatusSuccess, nil
}

func unknownAction() error {
	return &core.ActionError{
		Status:  core.StatusUnknownAction,
		Message: "unknown action or invalid apiVersion",
	}
}

func (p *Processor) reduceParams() {
	for key := range p.params {
		if _, declared := p.template.Inputs[key]; declared {
			continue
		}
		if slices.Contains(allowedParams, key) {
			continue
		}
		delete(p.params, key)
	}
}

// validateParams applies defaults, formats and validators to every declared
// input and collects all failures.
func (p *Processor) validateParams(data *actions.Data) {
	for _, name := range slices.Sorted(maps.Keys(p.template.Inputs)) {
		in := p.template.Inputs[name]
		value, present := p.params[name]
		if actions.Missing(value, present) {
			switch {
			case in.DefaultFunc != nil:
				v, err := p.defaultValue(in.DefaultFunc, data)
				if err != nil {
					p.validatorErrors = append(p.validatorErrors, fmt.Sprintf("%s: %v", name, err))
					continue
				}
				value = v
			case in.Default != nil:
				value = in.Default
			}
			if actions.Missing(value, true) {
				if in.Required {
					p.missingParams = append(p.missingParams, name)
				}
				continue
			}
			p.params[name] = value
		}

		if in.Format != nil {
			formatted, err := p.format(in.Format, value)
			if err != nil {
				p.validatorErrors = append(p.validatorErrors, fmt.Sprintf("%s: %v", name, err))
				continue
			}
			value = formatted
			p.params[name] = value
		}

		if in.Validator != nil {
			if err := p.validate(in.Validator, value, data); err != nil {
				p.validatorErrors = append(p.validatorErrors, fmt.Sprintf("%s: %v", name, err))
			}
		}
	}
}

func (p *Processor) validate(v actions.Validator, value any, data *actions.Data) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return v(value, data)
}

func (p *Processor) defaultValue(fn func(*actions.Data) any, data *actions.Data) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("default panicked: %v", r)
		}
	}()
	return fn(data), nil
}

func (p *Processor) format(fn actions.Formatter, value any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("format panicked: %v", r)
		}
	}()
	return fn(value)
}

func (p *Processor) missingMessages() []string {
	msgs := make([]string, len(p.missingParams))
	for i, name := range p.missingParams {
		msgs[i] = fmt.Sprintf("%s is a required parameter for this action", name)
	}
	return msgs
}

func (p *Processor) invalidFields() []string {
	fields := make([]string, len(p.validatorErrors))
	for i, msg := range p.validatorErrors {
		name, _, _ := strings.Cut(msg, ": ")
		fields[i] = name
	}
	return fields
}

// run invokes the body in its own goroutine and waits for it, the timeout or
// ctx. The body's context is cancelled when the wait ends; a late result is
// dropped into the buffered channel and never read. When the body is
// abandoned the processor stops sharing maps with it.
func (p *Processor) run(ctx context.Context, data *actions.Data) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	params := maps.Clone(p.params)
	abandon := func() {
		p.params = params
		p.response = make(map[string]any)
	}

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				p.d.logger.Error("action panicked",
					"action", p.action,
					"connection_id", p.conn.ID,
					"panic", r,
				)
				err = &core.ActionError{
					Status:  core.StatusServerError,
					Message: "the server experienced an internal error",
					Err:     fmt.Errorf("panic: %v", r),
				}
			}
			p.results <- err
		}()
		err = p.template.Run(runCtx, data)
	}()

	var timeout <-chan time.Time
	if d := p.d.opts.Timeout; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-p.results:
		return actionError(err)
	case <-timeout:
		abandon()
		return &core.ActionError{
			Status:  core.StatusResponseTimeout,
			Message: fmt.Sprintf("response timeout for action %q", p.action),
			Err:     context.DeadlineExceeded,
		}
	case <-ctx.Done():
		abandon()
		return &core.ActionError{
			Status:  core.StatusServerError,
			Message: "the request was cancelled",
			Err:     ctx.Err(),
		}
	}
}

func (p *Processor) hook(ctx context.Context, name string, h actions.Hook, data *actions.Data) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.d.logger.Error("middleware panicked", "middleware", name, "action", p.action, "panic", r)
			err = &core.ActionError{
				Status:  core.StatusServerError,
				Message: "the server experienced an internal error",
				Err:     fmt.Errorf("middleware %s panic: %v", name, r),
			}
		}
	}()
	return actionError(h(ctx, data))
}

// actionError normalizes errors from bodies and hooks.
func actionError(err error) error {
	if err == nil {
		return nil
	}
	var ae *core.ActionError
	if errors.As(err, &ae) {
		return err
	}
	return &core.ActionError{Status: core.StatusError, Message: err.Error(), Err: err}
}

// complete is the only exit of Run. The first call wins.
func (p *Processor) complete(ctx context.Context, status core.ActionStatus, err error) *Result {
	if !p.completed.CompareAndSwap(false, true) {
		return p.result
	}
	duration := time.Since(p.started)
	p.conn.EndAction()
	p.state.Store(int32(StateCompleted))

	if status == core.StatusSuccess {
		err = nil
	}
	p.result = &Result{
		Connection: p.conn,
		Action:     p.action,
		Version:    p.version,
		Template:   p.template,
		Params:     p.params,
		Response:   p.response,
		Status:     status,
		Err:        err,
		Duration:   duration,
	}

	level := slog.LevelInfo
	if p.template != nil {
		level = p.template.LogLevel
	}
	p.d.actionLog.Log(ctx, logging.ActionRecord{
		Action:     p.action,
		Version:    p.version,
		Status:     status,
		Connection: p.conn,
		Params:     p.params,
		Duration:   duration,
		Err:        err,
		Level:      level,
	})
	if p.d.metrics != nil {
		p.d.metrics.ActionCompleted(p.action, string(status), duration)
	}
	return p.result
}
