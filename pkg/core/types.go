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

package core

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection types known to the engine. Transports may register others.
const (
	TypeWeb       = "web"
	TypeTCP       = "tcp"
	TypeWebSocket = "websocket"
	TypeInternal  = "internal"
)

// UnknownRemote is stored as remote ip and port when the transport cannot
// supply them and connection properties are not enforced.
const UnknownRemote = "0"

// ConnectionDetails is what a transport knows about a client when it builds
// a connection.
type ConnectionDetails struct {
	ID            string
	RemoteIP      string
	RemotePort    string
	RawConnection any
	Fingerprint   string
}

// Connection is one client session, independent of the transport it
// arrived on. Counters are atomic; params are guarded so a persistent
// connection can be mutated by verbs while actions run.
type Connection struct {
	ID            string
	Type          string
	RemoteIP      string
	RemotePort    string
	RawConnection any
	ConnectedAt   time.Time

	pendingActions atomic.Int64
	totalActions   atomic.Int64
	messageCount   atomic.Int64
	destroyed      atomic.Bool

	mu          sync.RWMutex
	fingerprint string
	params      map[string]any
	extra       map[string]any

	sender     func(msg any, messageID string) error
	fileSender func(file *File, err error) error
}

// NewConnection returns a connection with empty params. Registries call this;
// transports go through the registry instead.
func NewConnection(id, connType string, details ConnectionDetails) *Connection {
	return &Connection{
		ID:            id,
		Type:          connType,
		RemoteIP:      details.RemoteIP,
		RemotePort:    details.RemotePort,
		RawConnection: details.RawConnection,
		ConnectedAt:   time.Now().UTC(),
		fingerprint:   details.Fingerprint,
		params:        make(map[string]any),
		extra:         make(map[string]any),
	}
}

func (c *Connection) PendingActions() int64 { return c.pendingActions.Load() }
func (c *Connection) TotalActions() int64   { return c.totalActions.Load() }
func (c *Connection) MessageCount() int64   { return c.messageCount.Load() }
func (c *Connection) Destroyed() bool       { return c.destroyed.Load() }

// BeginAction counts a new dispatch and returns the pending count including it.
func (c *Connection) BeginAction() int64 {
	c.totalActions.Add(1)
	return c.pendingActions.Add(1)
}

// EndAction releases one pending slot.
func (c *Connection) EndAction() int64 {
	return c.pendingActions.Add(-1)
}

// NextMessageID increments the message counter and returns the new value.
func (c *Connection) NextMessageID() int64 {
	return c.messageCount.Add(1)
}

// MarkDestroyed flips the terminal flag. It returns false when the
// connection was already destroyed.
func (c *Connection) MarkDestroyed() bool {
	return c.destroyed.CompareAndSwap(false, true)
}

// Fingerprint is the client identity; Set("fingerprint", ...) may replace it.
func (c *Connection) Fingerprint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fingerprint
}

func (c *Connection) Param(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.params[key]
	return v, ok
}

func (c *Connection) SetParam(key string, value any) {
	c.mu.Lock()
	c.params[key] = value
	c.mu.Unlock()
}

func (c *Connection) DeleteParam(key string) {
	c.mu.Lock()
	delete(c.params, key)
	c.mu.Unlock()
}

// Params returns a copy of the current params.
func (c *Connection) Params() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.params)
}

// ReplaceParams swaps the whole params map. A nil map clears it.
func (c *Connection) ReplaceParams(params map[string]any) {
	if params == nil {
		params = make(map[string]any)
	}
	c.mu.Lock()
	c.params = params
	c.mu.Unlock()
}

// Set mutates a connection attribute by name. Well-known attributes are
// mapped onto fields; everything else is kept as an extra.
func (c *Connection) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch key {
	case "fingerprint":
		if s, ok := value.(string); ok {
			c.fingerprint = s
			return
		}
	case "params":
		if m, ok := value.(map[string]any); ok {
			c.params = m
			return
		}
	}
	c.extra[key] = value
}

// Get returns an extra attribute stored with Set.
func (c *Connection) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.extra[key]
	return v, ok
}

// Bind attaches the transport's message and file writers.
func (c *Connection) Bind(sender func(msg any, messageID string) error, fileSender func(file *File, err error) error) {
	c.mu.Lock()
	c.sender = sender
	c.fileSender = fileSender
	c.mu.Unlock()
}

// SendMessage writes msg through the owning transport.
func (c *Connection) SendMessage(msg any, messageID string) error {
	c.mu.RLock()
	send := c.sender
	c.mu.RUnlock()
	if send == nil {
		return ErrNoTransport
	}
	if c.Destroyed() {
		return ErrConnectionDestroyed
	}
	return send(msg, messageID)
}

// SendFile streams a resolved file (or the error resolving it).
func (c *Connection) SendFile(file *File, err error) error {
	c.mu.RLock()
	send := c.fileSender
	c.mu.RUnlock()
	if send == nil {
		if file != nil && file.Body != nil {
			file.Body.Close()
		}
		return ErrNoTransport
	}
	return send(file, err)
}

// File is a static file resolved for a connection.
type File struct {
	Path     string
	Size     int64
	ModTime  time.Time
	MimeType string
	Body     io.ReadCloser
}

type EventType int

const (
	EventTypeActionComplete EventType = iota
	EventTypeConnect
	EventTypeDisconnect
)

func (t EventType) String() string {
	switch t {
	case EventTypeConnect:
		return "connect"
	case EventTypeDisconnect:
		return "disconnect"
	default:
		return "action"
	}
}

// Event is what publishers ship to external brokers.
type Event struct {
	ID        string            `json:"id"`
	SourceID  string            `json:"source_id"`
	ClientID  string            `json:"client_id"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
}

func (e Event) IsLifecycle() bool {
	return e.Type == EventTypeConnect || e.Type == EventTypeDisconnect
}

// MarshalJSON writes the type by name.
func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Encode is the wire form every publisher ships.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent stamps an event with a fresh id and the current time. payload is
// marshalled to JSON.
func NewEvent(t EventType, sourceID, clientID string, payload any, metadata map[string]string) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s event: %w", t, err)
		}
		raw = b
	}
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return Event{
		ID:        uuid.New().String(),
		SourceID:  sourceID,
		ClientID:  clientID,
		Payload:   raw,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
		Type:      t,
	}, nil
}
