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

package satellites

import (
	"context"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/internal/builtin"
	"github.com/StellarFw/stellar-sub002/internal/connection"
	"github.com/StellarFw/stellar-sub002/internal/engine"
	"github.com/StellarFw/stellar-sub002/internal/metrics"
	"github.com/StellarFw/stellar-sub002/internal/middleware"
	"github.com/StellarFw/stellar-sub002/internal/processor"
	"github.com/StellarFw/stellar-sub002/pkg/core"
)

// Core returns the built in satellites, stage 0 excluded, in discovery
// order.
func Core() []engine.Satellite {
	return []engine.Satellite{
		&Connections{},
		&Metrics{},
		&Actions{},
		&RateLimit{},
		&Chat{},
		&Servers{},
		&Publishers{},
		&PID{},
	}
}

type Connections struct{}

func (c *Connections) Name() string { return "connections" }

func (c *Connections) Priorities() engine.Priorities {
	return engine.Priorities{Load: 10, Stop: 900}
}

func (c *Connections) Load(_ context.Context, api *engine.API) error {
	api.Connections = connection.NewRegistry(
		api.Config.General.EnforceConnectionProperties,
		api.Logger.With("component", "connections"),
	)
	return nil
}

// Stop destroys whatever the servers left behind, internal connections
// included.
func (c *Connections) Stop(_ context.Context, api *engine.API) error {
	api.Connections.DestroyAll()
	return nil
}

type Metrics struct{}

func (m *Metrics) Name() string { return "metrics" }

func (m *Metrics) Priorities() engine.Priorities {
	return engine.Priorities{Load: 20}
}

func (m *Metrics) Load(_ context.Context, api *engine.API) error {
	mx := metrics.New()
	api.Metrics = mx
	api.Connections.OnCreate(func(conn *core.Connection) {
		mx.ConnectionOpened(conn.Type)
	})
	api.Connections.OnDestroy(func(conn *core.Connection) {
		mx.ConnectionClosed(conn.Type)
	})
	return nil
}

// Actions builds the action and middleware registries, loads the built in
// actions and any action files, and creates the dispatcher. Modules add
// their own actions from satellites loading after it.
type Actions struct{}

func (a *Actions) Name() string { return "actions" }

func (a *Actions) Priorities() engine.Priorities {
	return engine.Priorities{Load: 30}
}

func (a *Actions) Load(_ context.Context, api *engine.API) error {
	general := api.Config.General
	logger := api.Logger.With("component", "actions")

	api.Actions = actions.NewRegistry(logger)
	api.Middleware = actions.NewMiddlewareRegistry()
	if err := builtin.Register(api.Actions, api, builtin.Options{MaxMemory: general.MaxMemory}); err != nil {
		return err
	}
	for _, path := range general.ActionFiles {
		if err := api.Actions.LoadFile(path, api.Handlers); err != nil {
			return err
		}
	}

	var recorder processor.Recorder
	if api.Metrics != nil {
		recorder = api.Metrics
	}
	api.Dispatcher = processor.NewDispatcher(processor.Config{
		Actions:     api.Actions,
		Middleware:  api.Middleware,
		Connections: api.Connections,
		Lifecycle:   api,
		ActionLog:   api.ActionLog,
		Metrics:     recorder,
		Logger:      logger,
		Options: processor.Options{
			SimultaneousActions:   general.SimultaneousActions,
			Timeout:               general.ActionTimeout,
			DisableParamScrubbing: general.DisableParamScrubbing,
		},
	})
	return nil
}

// RateLimit installs the global rate limiting middleware when enabled.
type RateLimit struct {
	cancel context.CancelFunc
}

func (r *RateLimit) Name() string { return "rate_limit" }

func (r *RateLimit) Priorities() engine.Priorities {
	return engine.Priorities{Load: 35}
}

func (r *RateLimit) Load(_ context.Context, api *engine.API) error {
	cfg := api.Config.General.RateLimit
	if !cfg.Enabled {
		return nil
	}
	api.RateLimiter = middleware.NewRateLimiter(cfg.RPS, cfg.Burst, api.Logger.With("component", "rate_limit"))
	return api.Middleware.Add(api.RateLimiter.Middleware())
}

func (r *RateLimit) Start(ctx context.Context, api *engine.API) error {
	if api.RateLimiter == nil {
		return nil
	}
	ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	api.RateLimiter.StartCleanup(ctx, time.Minute)
	return nil
}

func (r *RateLimit) Stop(context.Context, *engine.API) error {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return nil
}
