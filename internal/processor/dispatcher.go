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

package processor

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/internal/connection"
	"github.com/StellarFw/stellar-sub002/internal/logging"
	"github.com/StellarFw/stellar-sub002/pkg/core"
)

// Lifecycle reports whether the engine accepts new work.
type Lifecycle interface {
	Running() bool
}

// Recorder receives action metrics. *metrics.Metrics implements it.
type Recorder interface {
	ActionStarted()
	ActionCompleted(action, status string, d time.Duration)
}

// Options are the dispatch limits taken from general config.
type Options struct {
	SimultaneousActions   int
	Timeout               time.Duration
	DisableParamScrubbing bool
}

// Config wires a Dispatcher to the engine's registries.
type Config struct {
	Actions     *actions.Registry
	Middleware  *actions.MiddlewareRegistry
	Connections *connection.Registry
	Lifecycle   Lifecycle
	ActionLog   *logging.ActionLogger
	Metrics     Recorder
	Logger      *slog.Logger
	Options     Options
}

// Dispatcher holds what every Processor shares and is the entry point for
// both transports and internal calls.
type Dispatcher struct {
	actions     *actions.Registry
	middleware  *actions.MiddlewareRegistry
	connections *connection.Registry
	lifecycle   Lifecycle
	actionLog   *logging.ActionLogger
	metrics     Recorder
	logger      *slog.Logger
	opts        Options
}

func NewDispatcher(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	actionLog := cfg.ActionLog
	if actionLog == nil {
		actionLog = logging.NewActionLogger(logger, nil, 0)
	}
	middleware := cfg.Middleware
	if middleware == nil {
		middleware = actions.NewMiddlewareRegistry()
	}
	return &Dispatcher{
		actions:     cfg.Actions,
		middleware:  middleware,
		connections: cfg.Connections,
		lifecycle:   cfg.Lifecycle,
		actionLog:   actionLog,
		metrics:     cfg.Metrics,
		logger:      logger,
		opts:        cfg.Options,
	}
}

// New creates the processor for the next action on conn. The connection's
// params are snapshotted here; later param changes do not affect it.
func (d *Dispatcher) New(conn *core.Connection) *Processor {
	return d.NewWithParams(conn, conn.Params())
}

// NewWithParams creates a processor that uses params instead of the
// connection's own. Persistent transports use it so one request's params do
// not leak into the connection. params must not be shared.
func (d *Dispatcher) NewWithParams(conn *core.Connection, params map[string]any) *Processor {
	if params == nil {
		params = make(map[string]any)
	}
	return &Processor{
		d:        d,
		conn:     conn,
		params:   params,
		response: make(map[string]any),
		results:  make(chan error, 1),
	}
}

// Process runs one action on conn and blocks until it completes.
func (d *Dispatcher) Process(ctx context.Context, conn *core.Connection) *Result {
	return d.New(conn).Run(ctx)
}

// internalConn is the raw handle of connections created by Call.
type internalConn struct{}

// Call runs an action on a short-lived internal connection. Private actions
// are allowed. The action's response is returned, or its error.
func (d *Dispatcher) Call(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if d.connections == nil {
		return nil, fmt.Errorf("%w: no connection registry", core.ErrNoTransport)
	}
	conn, err := d.connections.Create(core.TypeInternal, core.ConnectionDetails{
		RemoteIP:      "127.0.0.1",
		RemotePort:    core.UnknownRemote,
		RawConnection: internalConn{},
	})
	if err != nil {
		return nil, err
	}
	defer d.connections.Destroy(conn)

	p := maps.Clone(params)
	if p == nil {
		p = make(map[string]any)
	}
	p["action"] = action
	conn.ReplaceParams(p)

	res := d.Process(ctx, conn)
	if res.Err != nil {
		return res.Response, res.Err
	}
	return res.Response, nil
}

func (d *Dispatcher) running() bool {
	return d.lifecycle == nil || d.lifecycle.Running()
}
