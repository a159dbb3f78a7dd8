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

package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/internal/chat"
	"github.com/StellarFw/stellar-sub002/internal/connection"
	"github.com/StellarFw/stellar-sub002/internal/logging"
	"github.com/StellarFw/stellar-sub002/internal/metrics"
	"github.com/StellarFw/stellar-sub002/internal/middleware"
	"github.com/StellarFw/stellar-sub002/internal/processor"
	"github.com/StellarFw/stellar-sub002/internal/routing"
	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/StellarFw/stellar-sub002/pkg/plugins"
)

// API is the application context handed to every satellite. Satellites fill
// the fields they own during load; afterwards the fields are read only.
// Runtime state (running, boot time) is owned by the Engine.
type API struct {
	ConfigPath string
	Config     *config.Config
	Logger     *slog.Logger

	Connections *connection.Registry
	Actions     *actions.Registry
	Middleware  *actions.MiddlewareRegistry
	ActionLog   *logging.ActionLogger
	Dispatcher  *processor.Dispatcher
	Routes      *routing.Table
	Watcher     *config.Watcher
	Chat        *chat.Chat
	Metrics     *metrics.Metrics
	Plugins     *plugins.Registry
	RateLimiter *middleware.RateLimiter
	// Handlers binds action definition files to their bodies.
	Handlers map[string]actions.RunFunc
	PIDFile  string

	mu          sync.RWMutex
	id          string
	running     atomic.Bool
	initialized atomic.Bool
	bootTime    atomic.Int64
}

func newAPI(id string, logger *slog.Logger) *API {
	return &API{
		id:       id,
		Logger:   logger,
		Handlers: make(map[string]actions.RunFunc),
	}
}

// ID names this node. It is stable for the life of the process.
func (a *API) ID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.id
}

// SetID replaces the node id. Only the config satellite calls it.
func (a *API) SetID(id string) {
	if id == "" {
		return
	}
	a.mu.Lock()
	a.id = id
	a.mu.Unlock()
}

func (a *API) Running() bool     { return a.running.Load() }
func (a *API) Initialized() bool { return a.initialized.Load() }

// BootTime is when the last start completed, zero before that.
func (a *API) BootTime() time.Time {
	ns := a.bootTime.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// ConnectionCounts reports live connections per transport type.
func (a *API) ConnectionCounts() map[string]int {
	if a.Connections == nil {
		return map[string]int{}
	}
	return a.Connections.CountByType()
}

// Call runs an action through the full pipeline on an internal connection.
func (a *API) Call(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if a.Dispatcher == nil {
		return nil, core.ErrNoTransport
	}
	return a.Dispatcher.Call(ctx, action, params)
}
