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

package connection

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/google/uuid"
)

// Hook observes registry changes. Hooks run synchronously, after the
// registry mutation is complete.
type Hook func(conn *core.Connection)

// Registry owns every live connection of the process, keyed by id.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*core.Connection
	servers     map[string]core.Server

	hookMu    sync.RWMutex
	onCreate  []Hook
	onDestroy []Hook

	enforceProperties bool
	logger            *slog.Logger
}

func NewRegistry(enforceProperties bool, logger *slog.Logger) *Registry {
	return &Registry{
		connections:       make(map[string]*core.Connection),
		servers:           make(map[string]core.Server),
		enforceProperties: enforceProperties,
		logger:            logger,
	}
}

// RegisterServer records the transport that owns connections of its type
// so Destroy can say goodbye through it.
func (r *Registry) RegisterServer(s core.Server) {
	r.mu.Lock()
	r.servers[s.Type()] = s
	r.mu.Unlock()
}

func (r *Registry) OnCreate(h Hook) {
	r.hookMu.Lock()
	r.onCreate = append(r.onCreate, h)
	r.hookMu.Unlock()
}

func (r *Registry) OnDestroy(h Hook) {
	r.hookMu.Lock()
	r.onDestroy = append(r.onDestroy, h)
	r.hookMu.Unlock()
}

// Create validates details, assigns an id and registers the connection.
// A connection that fails validation is never registered.
func (r *Registry) Create(connType string, details core.ConnectionDetails) (*core.Connection, error) {
	if connType == "" {
		return nil, fmt.Errorf("%w: type", core.ErrMissingConnectionKey)
	}
	if details.RawConnection == nil {
		return nil, fmt.Errorf("%w: rawConnection", core.ErrMissingConnectionKey)
	}
	if err := r.remoteProperty("remoteIP", &details.RemoteIP); err != nil {
		return nil, err
	}
	if err := r.remoteProperty("remotePort", &details.RemotePort); err != nil {
		return nil, err
	}

	id := details.ID
	if id == "" {
		id = uuid.New().String()
	}

	conn := core.NewConnection(id, connType, details)

	r.mu.Lock()
	if _, exists := r.connections[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: id=%s", core.ErrDuplicateConnection, id)
	}
	r.connections[id] = conn
	r.mu.Unlock()

	r.logger.Debug("connection registered", "connection_id", id, "type", connType, "remote_ip", details.RemoteIP)

	for _, h := range r.hooks(false) {
		h(conn)
	}
	return conn, nil
}

// Destroy removes the connection and says goodbye through its transport.
// Only the first call for a connection has any effect.
func (r *Registry) Destroy(conn *core.Connection) error {
	if !conn.MarkDestroyed() {
		return nil
	}

	r.mu.Lock()
	delete(r.connections, conn.ID)
	server := r.servers[conn.Type]
	r.mu.Unlock()

	r.logger.Debug("connection destroyed", "connection_id", conn.ID, "type", conn.Type)

	for _, h := range r.hooks(true) {
		h(conn)
	}

	if server != nil && server.Attributes().Bidirectional {
		server.Goodbye(conn)
	}
	return nil
}

// DestroyID destroys a connection by id.
func (r *Registry) DestroyID(id string) error {
	conn, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: id=%s", core.ErrConnectionNotFound, id)
	}
	return r.Destroy(conn)
}

func (r *Registry) Get(id string) (*core.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[id]
	return c, ok
}

// ByType lists the connections of one transport.
func (r *Registry) ByType(connType string) []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*core.Connection
	for _, c := range r.connections {
		if c.Type == connType {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) All() []*core.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Connection, 0, len(r.connections))
	for _, c := range r.connections {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CountByType reports how many connections each transport holds.
func (r *Registry) CountByType() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int)
	for _, c := range r.connections {
		out[c.Type]++
	}
	return out
}

// DestroyAll tears down every connection.
func (r *Registry) DestroyAll() {
	for _, c := range r.All() {
		_ = r.Destroy(c)
	}
}

func (r *Registry) remoteProperty(key string, value *string) error {
	if *value != "" {
		return nil
	}
	if r.enforceProperties {
		return fmt.Errorf("%w: %s", core.ErrMissingConnectionKey, key)
	}
	*value = core.UnknownRemote
	return nil
}

func (r *Registry) hooks(destroy bool) []Hook {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	if destroy {
		return append([]Hook(nil), r.onDestroy...)
	}
	return append([]Hook(nil), r.onCreate...)
}
