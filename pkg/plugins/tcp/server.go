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

// Package tcp serves actions and verbs over delimited lines on a raw
// socket.
package tcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/StellarFw/stellar-sub002/internal/server"
	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/StellarFw/stellar-sub002/pkg/core"
)

// DataLengthTooLarge is the error sent for lines over the configured limit.
const DataLengthTooLarge = "dataLengthTooLarge"

type client struct {
	nc net.Conn
	mu sync.Mutex
}

type Server struct {
	*server.Base
	cfg       config.TCPConfig
	delimiter []byte
	listener  net.Listener
	clients   sync.Map
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
}

func New(cfg config.TCPConfig, opts server.Options) *Server {
	opts.Type = core.TypeTCP
	opts.Attributes = core.ServerAttributes{
		Bidirectional:      true,
		CanChat:            true,
		LogConnections:     cfg.LogConnections,
		LogExits:           cfg.LogConnections,
		SendWelcomeMessage: true,
		Verbs:              server.DefaultVerbs,
	}
	delimiter := cfg.Delimiter
	if delimiter == "" {
		delimiter = "\n"
	}
	s := &Server{
		Base:      server.NewBase(opts),
		cfg:       cfg,
		delimiter: []byte(delimiter),
	}
	s.logger = s.Base.Logger
	opts.Connections.RegisterServer(s)
	return s
}

// Addr is the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener and accepts in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.logger.Info("tcp server starting", "addr", ln.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("tcp accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go s.handle(nc)
	}
}

// Stop closes the listener, lets in-flight actions finish until ctx is
// done, then says goodbye to every client.
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
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
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) handle(nc net.Conn) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tcp handler panicked", "remote", nc.RemoteAddr().String(), "panic", r)
			nc.Close()
		}
	}()

	host, port := core.SplitAddr(nc.RemoteAddr().String())
	c := &client{nc: nc}
	conn, err := s.BuildConnection(core.ConnectionDetails{
		RemoteIP:      host,
		RemotePort:    port,
		RawConnection: nc,
	}, func(msg any, _ string) error {
		return s.write(c, msg)
	}, nil)
	if err != nil {
		s.logger.Error("tcp connection rejected", "remote", nc.RemoteAddr().String(), "error", err)
		nc.Close()
		return
	}
	s.clients.Store(conn.ID, c)
	defer s.Destroy(conn)

	s.readLoop(conn, c)
}

// readLoop splits the stream on the delimiter. Lines longer than
// MaxDataLength, and unterminated data growing past it, are answered with
// DataLengthTooLarge and skipped up to the next delimiter.
func (s *Server) readLoop(conn *core.Connection, c *client) {
	var buf []byte
	chunk := make([]byte, 4096)
	discarding := false
	limit := s.cfg.MaxDataLength

	for {
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.Index(buf, s.delimiter)
				if idx < 0 {
					break
				}
				line := buf[:idx]
				buf = buf[idx+len(s.delimiter):]
				if discarding {
					discarding = false
					continue
				}
				if limit > 0 && len(line) > limit {
					s.tooLarge(conn)
					continue
				}
				s.handleLine(conn, string(line))
				if conn.Destroyed() {
					return
				}
			}
			if limit > 0 && len(buf) > limit {
				if !discarding {
					s.tooLarge(conn)
					discarding = true
				}
				keep := len(s.delimiter) - 1
				buf = append(buf[:0], buf[len(buf)-keep:]...)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("tcp read failed", "connection_id", conn.ID, "error", err)
			}
			return
		}
	}
}

func (s *Server) tooLarge(conn *core.Connection) {
	id := strconv.FormatInt(conn.NextMessageID(), 10)
	s.Send(conn, map[string]any{
		"context":   "response",
		"error":     DataLengthTooLarge,
		"messageId": id,
	}, id)
}

// request is the JSON form of a line.
type request struct {
	Action     string         `json:"action"`
	APIVersion any            `json:"apiVersion"`
	Params     map[string]any `json:"params"`
}

func (s *Server) handleLine(conn *core.Connection, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	messageID := strconv.FormatInt(conn.NextMessageID(), 10)

	params := conn.Params()
	if strings.HasPrefix(line, "{") {
		var req request
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			s.Send(conn, map[string]any{
				"context":   "response",
				"error":     "invalid JSON request",
				"messageId": messageID,
			}, messageID)
			return
		}
		for k, v := range req.Params {
			params[k] = v
		}
		if req.Action != "" {
			params["action"] = req.Action
		}
		if req.APIVersion != nil {
			params["apiVersion"] = req.APIVersion
		}
		s.dispatch(conn, params, messageID)
		return
	}

	words := strings.Fields(line)
	if s.IsVerb(words[0]) {
		s.verb(conn, words[0], words[1:], messageID)
		return
	}
	params["action"] = words[0]
	s.dispatch(conn, params, messageID)
}

func (s *Server) dispatch(conn *core.Connection, params map[string]any, messageID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.Recover(conn)
		res := s.ProcessParams(s.ctx, conn, params)
		s.Send(conn, server.Envelope(res, messageID), messageID)
	}()
}

func (s *Server) verb(conn *core.Connection, verb string, args []string, messageID string) {
	data, err := s.RunVerb(s.ctx, conn, verb, args)
	if conn.Destroyed() {
		return
	}
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

func (s *Server) write(c *client, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal tcp message: %w", err)
	}
	data = append(data, s.delimiter...)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.nc.Write(data)
	return err
}

// SendMessage writes msg to the client behind conn.
func (s *Server) SendMessage(conn *core.Connection, msg any, _ string) error {
	v, ok := s.clients.Load(conn.ID)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrConnectionNotFound, conn.ID)
	}
	return s.write(v.(*client), msg)
}

// Goodbye sends a farewell and closes the socket.
func (s *Server) Goodbye(conn *core.Connection) {
	v, ok := s.clients.LoadAndDelete(conn.ID)
	if !ok {
		return
	}
	c := v.(*client)
	_ = s.write(c, map[string]any{"status": "Bye", "context": "api"})
	c.nc.Close()
}
