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

// Package chat keeps chat rooms and delivers room messages to their members.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/connection"
	"github.com/StellarFw/stellar-sub002/pkg/core"
)

var (
	ErrRoomExists    = errors.New("room exists")
	ErrRoomNotFound  = errors.New("room does not exist")
	ErrAlreadyMember = errors.New("connection already in room")
	ErrNotMember     = errors.New("connection not in room")
)

// Chat tracks room membership for the connections of this process. Messages
// go through the backplane so members on other processes receive them too.
type Chat struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}

	origin    string
	conns     *connection.Registry
	backplane Backplane
	logger    *slog.Logger
}

func New(origin string, conns *connection.Registry, backplane Backplane, logger *slog.Logger) *Chat {
	if backplane == nil {
		backplane = NewMemoryBackplane()
	}
	c := &Chat{
		rooms:     make(map[string]map[string]struct{}),
		origin:    origin,
		conns:     conns,
		backplane: backplane,
		logger:    logger,
	}
	conns.OnDestroy(func(conn *core.Connection) {
		c.LeaveAll(conn)
	})
	return c
}

func (c *Chat) bp() Backplane {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backplane
}

// Start subscribes to the backplane.
func (c *Chat) Start(ctx context.Context) error {
	return c.bp().Subscribe(ctx, c.deliver)
}

// Attach swaps in a new backplane, typically after Stop closed the old one,
// and subscribes to it. Rooms and members are kept.
func (c *Chat) Attach(ctx context.Context, backplane Backplane) error {
	c.mu.Lock()
	c.backplane = backplane
	c.mu.Unlock()
	return c.Start(ctx)
}

func (c *Chat) Stop() error {
	return c.bp().Close()
}

func (c *Chat) Create(room string) error {
	if room == "" {
		return fmt.Errorf("%w: empty name", ErrRoomNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return fmt.Errorf("%w: %s", ErrRoomExists, room)
	}
	c.rooms[room] = make(map[string]struct{})
	c.logger.Debug("room created", "room", room)
	return nil
}

// Destroy removes the room and tells its members it is gone.
func (c *Chat) Destroy(ctx context.Context, room string) error {
	c.mu.Lock()
	members, ok := c.rooms[room]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	delete(c.rooms, room)
	c.mu.Unlock()

	for id := range members {
		if conn, ok := c.conns.Get(id); ok {
			c.send(conn, map[string]any{
				"context": "api",
				"status":  "room destroyed",
				"room":    room,
			})
		}
	}
	c.logger.Debug("room destroyed", "room", room)
	return nil
}

func (c *Chat) Exists(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Chat) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	slices.Sort(out)
	return out
}

func (c *Chat) Add(conn *core.Connection, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	members, ok := c.rooms[room]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	if _, in := members[conn.ID]; in {
		return fmt.Errorf("%w: %s", ErrAlreadyMember, room)
	}
	members[conn.ID] = struct{}{}
	return nil
}

func (c *Chat) Leave(conn *core.Connection, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	members, ok := c.rooms[room]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	if _, in := members[conn.ID]; !in {
		return fmt.Errorf("%w: %s", ErrNotMember, room)
	}
	delete(members, conn.ID)
	return nil
}

// LeaveAll drops conn from every room.
func (c *Chat) LeaveAll(conn *core.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, members := range c.rooms {
		delete(members, conn.ID)
	}
}

// Members lists the ids of the local members of room.
func (c *Chat) Members(room string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members, ok := c.rooms[room]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (c *Chat) RoomsOf(conn *core.Connection) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for room, members := range c.rooms {
		if _, in := members[conn.ID]; in {
			out = append(out, room)
		}
	}
	slices.Sort(out)
	return out
}

// Say sends message to room on behalf of conn, which must be a member.
func (c *Chat) Say(ctx context.Context, conn *core.Connection, room string, message any) error {
	c.mu.RLock()
	members, ok := c.rooms[room]
	_, in := members[conn.ID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	if !in {
		return fmt.Errorf("%w: %s", ErrNotMember, room)
	}
	return c.Broadcast(ctx, room, conn.ID, message)
}

// Broadcast sends message to every member of room on every process. from is
// a connection id or a label such as "server".
func (c *Chat) Broadcast(ctx context.Context, room, from string, message any) error {
	return c.bp().Publish(ctx, Message{
		Room:    room,
		From:    from,
		Origin:  c.origin,
		Message: message,
		SentAt:  time.Now().UTC(),
	})
}

func (c *Chat) deliver(msg Message) {
	members, err := c.Members(msg.Room)
	if err != nil {
		return
	}
	payload := msg.Payload()
	for _, id := range members {
		if conn, ok := c.conns.Get(id); ok {
			c.send(conn, payload)
		}
	}
}

func (c *Chat) send(conn *core.Connection, payload map[string]any) {
	if err := conn.SendMessage(payload, ""); err != nil {
		c.logger.Warn("chat delivery failed",
			"connection_id", conn.ID,
			"room", payload["room"],
			"error", err,
		)
	}
}
