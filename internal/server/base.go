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

// Package server is the transport independent half of every server: it
// builds connections, enters the action pipeline and runs verbs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/internal/chat"
	"github.com/StellarFw/stellar-sub002/internal/connection"
	"github.com/StellarFw/stellar-sub002/internal/processor"
	"github.com/StellarFw/stellar-sub002/internal/staticfile"
	"github.com/StellarFw/stellar-sub002/pkg/core"
)

// Options are the collaborators shared by every transport.
type Options struct {
	Type           string
	Attributes     core.ServerAttributes
	Connections    *connection.Registry
	Dispatcher     *processor.Dispatcher
	Actions        *actions.Registry
	Files          *staticfile.Resolver
	Chat           *chat.Chat
	WelcomeMessage string
	// SendObserver sees the outcome of every message written by Send.
	SendObserver   func(connType string, err error)
	Logger         *slog.Logger
}

// Base is embedded by transports.
type Base struct {
	typ         string
	attrs       core.ServerAttributes
	conns       *connection.Registry
	dispatcher  *processor.Dispatcher
	actions     *actions.Registry
	files       *staticfile.Resolver
	chat        *chat.Chat
	welcome     string
	observeSend func(string, error)
	Logger      *slog.Logger
	hooksMu     sync.RWMutex
	onConnect   []func(*core.Connection)
	onComplete  []func(*processor.Result)
	welcomeTmrs sync.Map
}

func NewBase(opts Options) *Base {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		typ:         opts.Type,
		attrs:       opts.Attributes,
		conns:       opts.Connections,
		dispatcher:  opts.Dispatcher,
		actions:     opts.Actions,
		files:       opts.Files,
		chat:        opts.Chat,
		welcome:     opts.WelcomeMessage,
		observeSend: opts.SendObserver,
		Logger:      logger.With("server", opts.Type),
	}
}

func (b *Base) Type() string                      { return b.typ }
func (b *Base) Attributes() core.ServerAttributes { return b.attrs }
func (b *Base) Registry() *connection.Registry    { return b.conns }

// OnConnection registers a hook run for every connection this server builds.
func (b *Base) OnConnection(fn func(*core.Connection)) {
	b.hooksMu.Lock()
	b.onConnect = append(b.onConnect, fn)
	b.hooksMu.Unlock()
}

// OnActionComplete registers a hook run after every action this server
// processes, before the transport writes the response.
func (b *Base) OnActionComplete(fn func(*processor.Result)) {
	b.hooksMu.Lock()
	b.onComplete = append(b.onComplete, fn)
	b.hooksMu.Unlock()
}

// BuildConnection registers a connection for this transport and binds the
// transport's writers to it.
func (b *Base) BuildConnection(details core.ConnectionDetails, send func(msg any, messageID string) error, sendFile func(*core.File, error) error) (*core.Connection, error) {
	conn, err := b.conns.Create(b.typ, details)
	if err != nil {
		return nil, fmt.Errorf("build %s connection: %w", b.typ, err)
	}
	conn.Bind(send, sendFile)

	b.hooksMu.RLock()
	hooks := slices.Clone(b.onConnect)
	b.hooksMu.RUnlock()
	for _, h := range hooks {
		h(conn)
	}

	if b.attrs.LogConnections {
		b.Logger.Info("new connection", "connection_id", conn.ID, "remote_ip", conn.RemoteIP, "remote_port", conn.RemotePort)
	}
	if b.attrs.SendWelcomeMessage && b.welcome != "" {
		b.sendWelcome(conn)
	}
	return conn, nil
}

func (b *Base) sendWelcome(conn *core.Connection) {
	msg := map[string]any{"welcome": b.welcome, "context": "api"}
	if b.attrs.WelcomeDelay <= 0 {
		b.Send(conn, msg, "")
		return
	}
	t := time.AfterFunc(b.attrs.WelcomeDelay, func() {
		b.welcomeTmrs.Delete(conn.ID)
		if !conn.Destroyed() {
			b.Send(conn, msg, "")
		}
	})
	b.welcomeTmrs.Store(conn.ID, t)
}

// Destroy tears a connection down through the registry.
func (b *Base) Destroy(conn *core.Connection) {
	if t, ok := b.welcomeTmrs.LoadAndDelete(conn.ID); ok {
		t.(*time.Timer).Stop()
	}
	if b.attrs.LogExits && !conn.Destroyed() {
		b.Logger.Info("connection closed", "connection_id", conn.ID, "remote_ip", conn.RemoteIP)
	}
	_ = b.conns.Destroy(conn)
}

// Send writes msg to conn and logs failures instead of returning them.
func (b *Base) Send(conn *core.Connection, msg any, messageID string) {
	err := conn.SendMessage(msg, messageID)
	if errors.Is(err, core.ErrConnectionDestroyed) {
		return
	}
	if b.observeSend != nil {
		b.observeSend(b.typ, err)
	}
	if err != nil {
		b.Logger.Warn("send failed", "connection_id", conn.ID, "error", err)
	}
}

// ProcessAction is the single entry into the action pipeline for
// transports. It blocks until the action completes.
func (b *Base) ProcessAction(ctx context.Context, conn *core.Connection) *processor.Result {
	return b.complete(b.dispatcher.New(conn).Run(ctx))
}

// ProcessParams is ProcessAction with request scoped params.
func (b *Base) ProcessParams(ctx context.Context, conn *core.Connection, params map[string]any) *processor.Result {
	return b.complete(b.dispatcher.NewWithParams(conn, params).Run(ctx))
}

func (b *Base) complete(res *processor.Result) *processor.Result {
	b.hooksMu.RLock()
	hooks := slices.Clone(b.onComplete)
	b.hooksMu.RUnlock()
	for _, h := range hooks {
		h(res)
	}
	return res
}

// Recover logs a panic from a transport goroutine serving conn. Use it as
// a deferred call.
func (b *Base) Recover(conn *core.Connection) {
	if r := recover(); r != nil {
		b.Logger.Error("transport goroutine panicked", "connection_id", conn.ID, "panic", r)
	}
}

// ProcessFile resolves the connection's file param and hands the result,
// file or error, to the transport.
func (b *Base) ProcessFile(conn *core.Connection) error {
	if b.files == nil {
		return conn.SendFile(nil, staticfile.ErrNotFound)
	}
	name, _ := conn.Param("file")
	path, _ := name.(string)
	file, err := b.files.Resolve(path)
	if err != nil {
		b.Logger.Debug("file not served", "connection_id", conn.ID, "file", path, "error", err)
	}
	return conn.SendFile(file, err)
}

// Drain waits until conn has no pending actions or ctx is done.
func Drain(ctx context.Context, conn *core.Connection) bool {
	if conn.PendingActions() == 0 {
		return true
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return conn.PendingActions() == 0
		case <-ticker.C:
			if conn.PendingActions() == 0 {
				return true
			}
		}
	}
}

// Connections lists this server's live connections.
func (b *Base) Connections() []*core.Connection {
	return b.conns.ByType(b.typ)
}

// Envelope is the response shape shared by every transport.
func Envelope(res *processor.Result, messageID string) map[string]any {
	out := maps.Clone(res.Response)
	if out == nil {
		out = make(map[string]any)
	}
	out["context"] = "response"
	if res.Err != nil {
		out["error"] = ErrorMessage(res.Err)
	}
	if messageID != "" {
		out["messageId"] = messageID
	}
	return out
}

// ErrorMessage is the client-facing text of err.
func ErrorMessage(err error) string {
	var ae *core.ActionError
	if errors.As(err, &ae) {
		if ae.Message != "" {
			return ae.Message
		}
		return string(ae.Status)
	}
	return err.Error()
}
