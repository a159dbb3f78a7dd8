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

// Package web serves actions, custom routes and static files over HTTP.
// Every request gets its own short lived connection.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/routing"
	"github.com/StellarFw/stellar-sub002/internal/server"
	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// Options are the web specific collaborators.
type Options struct {
	ServerName string
	Routes     *routing.Table
	Metrics    http.Handler
}

type Server struct {
	*server.Base
	cfg        config.WebConfig
	serverName string
	routes     *routing.Table
	metrics    http.Handler
	router     *mux.Router
	srv        *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][\w$.]*$`)

func New(cfg config.WebConfig, webOpts Options, opts server.Options) *Server {
	opts.Type = core.TypeWeb
	opts.Attributes = core.ServerAttributes{}
	if webOpts.ServerName == "" {
		webOpts.ServerName = "stellar"
	}
	if webOpts.Routes == nil {
		webOpts.Routes = routing.NewTable()
	}
	s := &Server{
		Base:       server.NewBase(opts),
		cfg:        cfg,
		serverName: webOpts.ServerName,
		routes:     webOpts.Routes,
		metrics:    webOpts.Metrics,
	}
	s.logger = s.Base.Logger
	s.router = s.buildRouter()
	opts.Connections.RegisterServer(s)
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	if s.metrics != nil && s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, s.metrics).Methods(http.MethodGet)
	}

	actionsPath := "/" + strings.Trim(s.cfg.ActionsPath, "/")
	r.HandleFunc(actionsPath+"/{action}", func(w http.ResponseWriter, req *http.Request) {
		s.serveAction(w, req, mux.Vars(req)["action"], nil)
	})
	r.HandleFunc(actionsPath, func(w http.ResponseWriter, req *http.Request) {
		s.serveAction(w, req, "", nil)
	})

	if files := strings.Trim(s.cfg.FilesPath, "/"); files != "" {
		prefix := "/" + files + "/"
		r.PathPrefix(prefix).HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s.serveFile(w, req, strings.TrimPrefix(req.URL.Path, prefix))
		})
	}

	r.NotFoundHandler = http.HandlerFunc(s.fallback)
	return r
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen %s: %w", addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.logger.Info("web server starting", "addr", ln.Addr().String(), "actions_path", s.cfg.ActionsPath)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server failed", "error", err)
		}
	}()
	return nil
}

// Stop stops accepting requests and waits for in-flight ones, bounded by
// ShutdownTimeout and ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	err := s.srv.Shutdown(ctx)
	for _, conn := range s.Connections() {
		if !server.Drain(ctx, conn) {
			s.logger.Warn("closing request with pending actions", "connection_id", conn.ID)
		}
		s.Destroy(conn)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("web shutdown timed out", "timeout", s.cfg.ShutdownTimeout)
		return s.srv.Close()
	}
	return err
}

// fallback tries the custom route table, then the public directory.
func (s *Server) fallback(w http.ResponseWriter, r *http.Request) {
	if route, vars, ok := s.routes.Match(r.Method, r.URL.Path); ok {
		extra := make(map[string]any, len(vars)+1)
		for k, v := range vars {
			extra[k] = v
		}
		if route.APIVersion > 0 {
			extra["apiVersion"] = route.APIVersion
		}
		s.serveAction(w, r, route.Action, extra)
		return
	}
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		s.serveFile(w, r, r.URL.Path)
		return
	}
	newResponder(s, w, r).writeJSON(http.StatusNotFound, map[string]any{"error": "unknown route"})
}

func (s *Server) connect(rw *responder) (*core.Connection, error) {
	r := rw.r
	_, port := core.SplitAddr(r.RemoteAddr)
	conn, err := s.BuildConnection(core.ConnectionDetails{
		RemoteIP:      core.RemoteIP(r),
		RemotePort:    port,
		RawConnection: r,
		Fingerprint:   core.ClientFingerprint(r),
	}, rw.send, rw.sendFile)
	if err != nil {
		return nil, err
	}
	if s.cfg.FingerprintCookie {
		http.SetCookie(rw.w, &http.Cookie{
			Name:     core.FingerprintCookie,
			Value:    conn.Fingerprint(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return conn, nil
}

func (s *Server) serveAction(w http.ResponseWriter, r *http.Request, action string, extra map[string]any) {
	started := time.Now()
	rw := newResponder(s, w, r)
	conn, err := s.connect(rw)
	if err != nil {
		s.logger.Error("web connection rejected", "error", err)
		rw.writeJSON(http.StatusInternalServerError, map[string]any{"error": "connection rejected"})
		return
	}
	defer s.Destroy(conn)

	if r.Method == http.MethodOptions {
		rw.cors()
		rw.w.WriteHeader(http.StatusOK)
		return
	}

	params, err := s.readParams(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		rw.writeJSON(status, map[string]any{"error": err.Error()})
		return
	}
	maps.Copy(params, extra)
	if action != "" {
		params["action"] = action
	}

	if r.Method == http.MethodTrace {
		rw.writeJSON(http.StatusOK, map[string]any{"receivedParams": params})
		return
	}

	received := maps.Clone(params)
	res := s.ProcessParams(r.Context(), conn, params)

	body := server.Envelope(res, "")
	delete(body, "context")
	body["serverInformation"] = map[string]any{
		"serverName":      s.serverName,
		"apiVersion":      res.Version,
		"requestDuration": time.Since(started).Milliseconds(),
		"currentTime":     time.Now().UnixMilli(),
	}
	body["requesterInformation"] = map[string]any{
		"id":             conn.ID,
		"fingerprint":    conn.Fingerprint(),
		"remoteIP":       conn.RemoteIP,
		"receivedParams": received,
	}
	rw.writeJSON(s.StatusCode(res.Err), body)
}

// StatusCode maps an action outcome onto an HTTP status.
func (s *Server) StatusCode(err error) int {
	if err == nil || !s.cfg.ReturnErrorCodes {
		return http.StatusOK
	}
	switch core.StatusOf(err) {
	case core.StatusUnknownAction:
		return http.StatusNotFound
	case core.StatusMissingParams, core.StatusValidatorErrors:
		return http.StatusUnprocessableEntity
	case core.StatusServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// readParams merges the query string and the body. Body values win.
func (s *Server) readParams(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	params := make(map[string]any)
	for k, v := range r.URL.Query() {
		params[k] = single(v)
	}
	if r.Body == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
		return params, nil
	}
	if s.cfg.MaxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	}

	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var body map[string]any
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		maps.Copy(params, body)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(32 << 10); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		for k, v := range r.MultipartForm.Value {
			params[k] = single(v)
		}
		for k, fh := range r.MultipartForm.File {
			if len(fh) > 0 {
				params[k] = fh[0]
			}
		}
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		for k, v := range r.PostForm {
			params[k] = single(v)
		}
	}
	return params, nil
}

func single(v []string) any {
	if len(v) == 1 {
		return v[0]
	}
	return slices.Clone(v)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	rw := newResponder(s, w, r)
	conn, err := s.connect(rw)
	if err != nil {
		rw.writeJSON(http.StatusInternalServerError, map[string]any{"error": "connection rejected"})
		return
	}
	defer s.Destroy(conn)

	conn.SetParam("file", path)
	if err := s.ProcessFile(conn); err != nil {
		s.logger.Debug("web file send failed", "connection_id", conn.ID, "error", err)
	}
}

// SendMessage writes msg as the response of the request behind conn. A web
// request answers once; later messages fail.
func (s *Server) SendMessage(conn *core.Connection, msg any, _ string) error {
	return conn.SendMessage(msg, "")
}

// Goodbye is a no-op; the request ends with its handler.
func (s *Server) Goodbye(*core.Connection) {}

// responder writes exactly one response for a request.
type responder struct {
	s       *Server
	w       http.ResponseWriter
	r       *http.Request
	written atomic.Bool
}

func newResponder(s *Server, w http.ResponseWriter, r *http.Request) *responder {
	w.Header().Set("X-Powered-By", s.serverName)
	return &responder{s: s, w: w, r: r}
}

var errAlreadyAnswered = errors.New("web request already answered")

func (rw *responder) send(msg any, _ string) error {
	return rw.writeJSON(http.StatusOK, msg)
}

func (rw *responder) cors() {
	h := rw.w.Header()
	origin := rw.r.Header.Get("Origin")
	switch {
	case slices.Contains(rw.s.cfg.AllowedOrigins, "*"):
		h.Set("Access-Control-Allow-Origin", "*")
	case origin != "" && slices.Contains(rw.s.cfg.AllowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	default:
		return
	}
	h.Set("Access-Control-Allow-Methods", "HEAD, GET, POST, PUT, PATCH, DELETE, OPTIONS, TRACE")
	h.Set("Access-Control-Allow-Headers", "Content-Type, "+core.FingerprintHeader)
}

// writeJSON encodes v, wrapping it in the callback param for JSONP.
func (rw *responder) writeJSON(status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		rw.s.logger.Error("marshal web response", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"the server experienced an internal error"}`)
	}
	contentType := "application/json; charset=utf-8"
	if cb := rw.r.URL.Query().Get("callback"); cb != "" && callbackPattern.MatchString(cb) {
		contentType = "application/javascript; charset=utf-8"
		data = []byte(cb + "(" + string(data) + ");")
	}
	rw.cors()
	return rw.write(status, contentType, bytes.NewReader(data))
}

func (rw *responder) sendFile(file *core.File, ferr error) error {
	if ferr != nil {
		return rw.writeJSON(http.StatusNotFound, map[string]any{"error": "that file is not found"})
	}
	defer file.Body.Close()

	h := rw.w.Header()
	if !file.ModTime.IsZero() {
		if since, err := http.ParseTime(rw.r.Header.Get("If-Modified-Since")); err == nil && !file.ModTime.Truncate(time.Second).After(since) {
			if rw.written.CompareAndSwap(false, true) {
				rw.w.WriteHeader(http.StatusNotModified)
				return nil
			}
			return errAlreadyAnswered
		}
		h.Set("Last-Modified", file.ModTime.UTC().Format(http.TimeFormat))
	}
	if rw.s.cfg.FileCacheMaxAge > 0 {
		h.Set("Cache-Control", "max-age="+strconv.Itoa(int(rw.s.cfg.FileCacheMaxAge.Seconds())))
	}
	return rw.write(http.StatusOK, file.MimeType, file.Body)
}

// write sends headers and body once, compressing when the client accepts it.
func (rw *responder) write(status int, contentType string, body io.Reader) error {
	if !rw.written.CompareAndSwap(false, true) {
		return errAlreadyAnswered
	}
	h := rw.w.Header()
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if rw.r.Method == http.MethodHead {
		rw.w.WriteHeader(status)
		return nil
	}

	enc := rw.encoding()
	if enc == "" {
		rw.w.WriteHeader(status)
		_, err := io.Copy(rw.w, body)
		return err
	}

	h.Set("Content-Encoding", enc)
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	rw.w.WriteHeader(status)

	var cw io.WriteCloser
	if enc == "gzip" {
		cw = gzip.NewWriter(rw.w)
	} else {
		cw = zlib.NewWriter(rw.w)
	}
	if _, err := io.Copy(cw, body); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// encoding picks gzip over deflate from Accept-Encoding.
func (rw *responder) encoding() string {
	if !rw.s.cfg.Compress {
		return ""
	}
	var gz, df bool
	for part := range strings.SplitSeq(rw.r.Header.Get("Accept-Encoding"), ",") {
		name, q, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.TrimSpace(q) == "q=0" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "gzip":
			gz = true
		case "deflate":
			df = true
		}
	}
	switch {
	case gz:
		return "gzip"
	case df:
		return "deflate"
	}
	return ""
}
