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

// Package websocket serves the persistent action, file and chat protocol
// over WebSocket frames.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/server"
	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Verbs accepted as events besides "action" and "file".
var Verbs = []string{"quit", "roomAdd", "roomLeave", "roomView", "say", "detailsView", "documentation"}

const writeWait = 10 * time.Second

type client struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

type Server struct {
	*server.Base
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	srv      *http.Server
	listener net.Listener
	clients  sync.Map
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func New(cfg config.WebSocketConfig, opts server.Options) *Server {
	opts.Type = core.TypeWebSocket
	opts.Attributes = core.ServerAttributes{
		Bidirectional:      true,
		CanChat:            true,
		LogConnections:     true,
		LogExits:           true,
		SendWelcomeMessage: true,
		WelcomeDelay:       cfg.WelcomeDelay,
		Verbs:              Verbs,
	}
	s := &Server{
		Base: server.NewBase(opts),
		cfg:  cfg,
	}
	s.logger = s.Base.Logger
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	opts.Connections.RegisterServer(s)
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start(ctx context.Context) error {
	path := s.cfg.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleConnection)

	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("websocket listen %s: %w", addr, err)
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info("websocket server starting", "addr", ln.Addr().String(), "path", path)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	for _, conn := range s.Connections() {
		if !server.Drain(ctx, conn) {
			s.logger.Warn("closing connection with pending actions", "connection_id", conn.ID, "pending", conn.PendingActions())
		}
		s.Destroy(conn)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "error", err)
		return
	}
	if s.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageSize)
	}

	c := &client{ws: ws}
	host, port := core.SplitAddr(r.RemoteAddr)
	if ip := core.RemoteIP(r); ip != "" {
		host = ip
	}
	var conn *core.Connection
	conn, err = s.BuildConnection(core.ConnectionDetails{
		RemoteIP:      host,
		RemotePort:    port,
		RawConnection: ws,
		Fingerprint:   core.ClientFingerprint(r),
	}, func(msg any, _ string) error {
		return c.writeJSON(msg)
	}, func(file *core.File, ferr error) error {
		id, _ := conn.Get("messageId")
		return s.writeFile(c, id, file, ferr)
	})
	if err != nil {
		s.logger.Error("ws connection rejected", "error", err)
		ws.Close()
		return
	}
	s.clients.Store(conn.ID, c)

	s.wg.Add(1)
	defer s.wg.Done()
	defer s.Destroy(conn)
	s.readLoop(conn, c)
}

func (s *Server) readLoop(conn *core.Connection, c *client) {
	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws read error", "connection_id", conn.ID, "error", err)
			}
			return
		}
		s.handleMessage(conn, payload)
		if conn.Destroyed() {
			return
		}
	}
}

// handleMessage routes one client frame by its event field. Frames look like
// {"event": "...", "params": {...}, "room": "...", "message": ..., "messageId": ...}.
func (s *Server) handleMessage(conn *core.Connection, payload []byte) {
	if !gjson.ValidBytes(payload) {
		id := strconv.FormatInt(conn.NextMessageID(), 10)
		s.Send(conn, map[string]any{"context": "response", "error": "invalid JSON message", "messageId": id}, id)
		return
	}
	frame := gjson.ParseBytes(payload)
	messageID := frame.Get("messageId").String()
	conn.NextMessageID()
	if messageID == "" {
		messageID = strconv.FormatInt(conn.MessageCount(), 10)
	}

	params, err := decodeParams(frame.Get("params"))
	if err != nil {
		s.reply(conn, messageID, nil, err)
		return
	}

	event := frame.Get("event").String()
	switch event {
	case "action":
		merged := conn.Params()
		for k, v := range params {
			merged[k] = v
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.Recover(conn)
			res := s.ProcessParams(s.ctx, conn, merged)
			s.Send(conn, server.Envelope(res, messageID), messageID)
		}()
	case "file":
		name, _ := params["file"].(string)
		conn.Set("messageId", messageID)
		conn.SetParam("file", name)
		if err := s.ProcessFile(conn); err != nil {
			s.logger.Warn("ws file send failed", "connection_id", conn.ID, "error", err)
		}
	default:
		var args []string
		if room := frame.Get("room").String(); room != "" {
			args = append(args, room)
		}
		if msg := frame.Get("message"); msg.Exists() {
			args = append(args, msg.String())
		}
		data, err := s.RunVerb(s.ctx, conn, event, args)
		if conn.Destroyed() {
			return
		}
		s.reply(conn, messageID, data, err)
	}
}

func decodeParams(raw gjson.Result) (map[string]any, error) {
	params := make(map[string]any)
	if !raw.Exists() {
		return params, nil
	}
	if !raw.IsObject() {
		return nil, errors.New("params must be an object")
	}
	dec := json.NewDecoder(strings.NewReader(raw.Raw))
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return params, nil
}

func (s *Server) reply(conn *core.Connection, messageID string, data any, err error) {
	resp := map[string]any{"context": "response", "messageId": messageID}
	if err != nil {
		resp["error"] = err.Error()
	} else {
		resp["status"] = "OK"
		if data != nil {
			resp["data"] = data
		}
	}
	s.Send(conn, resp, messageID)
}

// writeFile sends a file inline as text, framed like a response.
func (s *Server) writeFile(c *client, messageID any, file *core.File, ferr error) error {
	resp := map[string]any{"context": "response", "messageId": messageID}
	if ferr != nil {
		resp["error"] = "that file is not found"
		return c.writeJSON(resp)
	}
	defer file.Body.Close()
	body, err := io.ReadAll(file.Body)
	if err != nil {
		resp["error"] = "file read failed"
		return c.writeJSON(resp)
	}
	resp["content"] = string(body)
	resp["mime"] = file.MimeType
	resp["length"] = file.Size
	return c.writeJSON(resp)
}

func (s *Server) SendMessage(conn *core.Connection, msg any, _ string) error {
	v, ok := s.clients.Load(conn.ID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrConnectionNotFound, conn.ID)
	}
	return v.(*client).writeJSON(msg)
}

// Goodbye sends a close frame and drops the socket.
func (s *Server) Goodbye(conn *core.Connection) {
	v, ok := s.clients.LoadAndDelete(conn.ID)
	if !ok {
		return
	}
	c := v.(*client)
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Bye"),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	c.ws.Close()
}
