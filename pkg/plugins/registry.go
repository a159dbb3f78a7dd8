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

package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Registry holds the transports and event publishers of one engine.
type Registry struct {
	servers    map[string]core.Server
	publishers map[string]core.Publisher
	healthy    map[string]bool
	logger     *slog.Logger
	mu         sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		servers:    make(map[string]core.Server),
		publishers: make(map[string]core.Publisher),
		healthy:    make(map[string]bool),
		logger:     logger,
	}
}

func (r *Registry) RegisterServer(s core.Server) {
	r.mu.Lock()
	r.servers[s.Type()] = s
	r.mu.Unlock()
	r.logger.Info("registered server", "type", s.Type())
}

func (r *Registry) RegisterPublisher(p core.Publisher) {
	r.mu.Lock()
	r.publishers[p.Name()] = p
	r.mu.Unlock()
	r.logger.Info("registered publisher", "name", p.Name(), "type", p.Type())
}

// Servers returns the registered servers sorted by type.
func (r *Registry) Servers() []core.Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Server, 0, len(r.servers))
	for _, typ := range r.serverTypes() {
		out = append(out, r.servers[typ])
	}
	return out
}

func (r *Registry) Server(typ string) (core.Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrServerNotFound, typ)
	}
	return s, nil
}

func (r *Registry) Publishers() map[string]core.Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Publisher, len(r.publishers))
	for k, v := range r.publishers {
		cp[k] = v
	}
	return cp
}

func (r *Registry) serverTypes() []string {
	types := make([]string, 0, len(r.servers))
	for typ := range r.servers {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}

// StartServers starts every server in type order. Start only binds the
// listener; serving continues in the background. The first failure stops
// the sequence.
func (r *Registry) StartServers(ctx context.Context) error {
	for _, s := range r.Servers() {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start %s server: %w", s.Type(), err)
		}
		r.logger.Info("server started", "type", s.Type())
	}
	return nil
}

// ConnectPublishers connects every publisher and returns how many
// succeeded. A publisher that fails to connect is marked unhealthy and
// skipped by Publish.
func (r *Registry) ConnectPublishers(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	connected := 0
	for name, p := range r.publishers {
		if err := p.Connect(ctx); err != nil {
			r.logger.Error("publisher connect failed", "name", name, "error", err)
			r.healthy[name] = false
		} else {
			r.healthy[name] = true
			connected++
		}
	}
	return connected
}

func (r *Registry) IsPublisherHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[name]
}

// Publish hands evt to every healthy publisher. Failures are logged.
func (r *Registry) Publish(ctx context.Context, evt core.Event) {
	r.mu.RLock()
	targets := make([]core.Publisher, 0, len(r.publishers))
	for name, p := range r.publishers {
		if r.healthy[name] {
			targets = append(targets, p)
		}
	}
	r.mu.RUnlock()

	for _, p := range targets {
		if err := p.Publish(ctx, evt); err != nil {
			r.logger.Warn("publish failed", "name", p.Name(), "event", evt.Type.String(), "error", err)
		}
	}
}

// StopServers stops every server concurrently. Each server drains its own
// connections within ctx.
func (r *Registry) StopServers(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range r.Servers() {
		g.Go(func() error {
			r.logger.Info("stopping server", "type", s.Type())
			if err := s.Stop(ctx); err != nil {
				return fmt.Errorf("stop %s server: %w", s.Type(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// DisconnectPublishers disconnects every publisher and marks all of them
// unhealthy.
func (r *Registry) DisconnectPublishers(ctx context.Context) {
	for name, p := range r.Publishers() {
		r.logger.Info("stopping publisher", "name", name)
		if err := p.Disconnect(ctx); err != nil {
			r.logger.Warn("publisher disconnect failed", "name", name, "error", err)
		}
	}
	r.mu.Lock()
	clear(r.healthy)
	r.mu.Unlock()
}

// StopAll stops servers, then disconnects publishers.
func (r *Registry) StopAll(ctx context.Context) error {
	err := r.StopServers(ctx)
	r.DisconnectPublishers(ctx)
	return err
}
