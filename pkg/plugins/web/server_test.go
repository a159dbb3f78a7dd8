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

package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/internal/connection"
	"github.com/StellarFw/stellar-sub002/internal/processor"
	"github.com/StellarFw/stellar-sub002/internal/routing"
	"github.com/StellarFw/stellar-sub002/internal/server"
	"github.com/StellarFw/stellar-sub002/internal/staticfile"
	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	srv   *Server
	conns *connection.Registry
}

func newHarness(t *testing.T, mutate func(*config.WebConfig)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conns := connection.NewRegistry(true, logger)
	reg := actions.NewRegistry(logger)
	require.NoError(t, reg.Add(&actions.Template{
		Name: "add",
		Inputs: map[string]actions.Input{
			"a": {Required: true, Format: actions.FormatInteger},
			"b": {Required: true, Format: actions.FormatInteger},
		},
		Run: func(_ context.Context, d *actions.Data) error {
			d.Response["sum"] = d.Params["a"].(int) + d.Params["b"].(int)
			return nil
		},
	}))
	require.NoError(t, reg.Add(&actions.Template{
		Name: "boom",
		Run: func(context.Context, *actions.Data) error {
			panic("boom")
		},
	}))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello file"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o644))

	routes := routing.NewTable()
	routes.Add(&routing.Route{Method: http.MethodGet, Path: "/sum/:a/:b", Action: "add"})

	cfg := config.Defaults().Servers.Web
	cfg.Compress = false
	cfg.FingerprintCookie = false
	if mutate != nil {
		mutate(&cfg)
	}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "stellar_actions_total 0\n")
	})
	s := New(cfg, Options{ServerName: "test-server", Routes: routes, Metrics: metrics}, server.Options{
		Connections: conns,
		Actions:     reg,
		Files:       staticfile.NewResolver(dir, ""),
		Dispatcher: processor.NewDispatcher(processor.Config{
			Actions:     reg,
			Connections: conns,
			Logger:      logger,
			Options:     processor.Options{SimultaneousActions: 5, Timeout: time.Second},
		}),
		Logger: logger,
	})
	return &harness{srv: s, conns: conns}
}

func (h *harness) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestActionOverQueryString(t *testing.T) {
	h := newHarness(t, nil)
	rec, body := h.do(t, httptest.NewRequest(http.MethodGet, "/api/add?a=1&b=2", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["sum"])
	assert.Equal(t, "test-server", rec.Header().Get("X-Powered-By"))
	assert.NotContains(t, body, "error")

	info := body["serverInformation"].(map[string]any)
	assert.Equal(t, "test-server", info["serverName"])
	requester := body["requesterInformation"].(map[string]any)
	assert.Equal(t, "add", requester["receivedParams"].(map[string]any)["action"])

	assert.Zero(t, h.conns.Count(), "web connections end with their request")
}

func TestActionOverJSONBody(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/add?a=10", strings.NewReader(`{"b": 5}`))
	req.Header.Set("Content-Type", "application/json")
	rec, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(15), body["sum"])
}

func TestActionOverForm(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader("action=add&a=2&b=2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, body := h.do(t, req)

	assert.Equal(t, float64(4), body["sum"])
}

func TestErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"unknown action", "/api/nope", http.StatusNotFound},
		{"missing params", "/api/add?a=1", http.StatusUnprocessableEntity},
		{"invalid param", "/api/add?a=x&b=1", http.StatusUnprocessableEntity},
		{"server error", "/api/boom", http.StatusInternalServerError},
		{"bad api version", "/api/add?a=1&b=1&apiVersion=zz", http.StatusNotFound},
	}
	h := newHarness(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := h.do(t, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestErrorCodesDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.WebConfig) { c.ReturnErrorCodes = false })
	rec, body := h.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown action or invalid apiVersion", body["error"])
}

func TestStatusCodeMapping(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusOK, h.srv.StatusCode(nil))
	assert.Equal(t, http.StatusBadRequest, h.srv.StatusCode(&core.ActionError{Status: core.StatusTooManyRequests}))
	assert.Equal(t, http.StatusBadRequest, h.srv.StatusCode(&core.ActionError{Status: core.StatusResponseTimeout}))
}

func TestCustomRoute(t *testing.T) {
	h := newHarness(t, nil)
	rec, body := h.do(t, httptest.NewRequest(http.MethodGet, "/sum/7/8", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(15), body["sum"])

	rec, _ = h.do(t, httptest.NewRequest(http.MethodPost, "/sum/7/8", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "route is GET only")
}

func TestOptionsReturnsOnlyCORS(t *testing.T) {
	h := newHarness(t, nil)
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/add", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "TRACE")
	assert.Empty(t, rec.Body.String())
}

func TestTraceEchoesParams(t *testing.T) {
	h := newHarness(t, nil)
	rec, body := h.do(t, httptest.NewRequest(http.MethodTrace, "/api/add?a=1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	params := body["receivedParams"].(map[string]any)
	assert.Equal(t, "1", params["a"])
	assert.Equal(t, "add", params["action"])
}

func TestJSONPCallback(t *testing.T) {
	h := newHarness(t, nil)
	rec, _ := h.do(t, httptest.NewRequest(http.MethodGet, "/api/add?a=1&b=1&callback=handle", nil))

	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "handle({"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), ");"))

	rec, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/api/add?a=1&b=1&callback=alert(1)", nil))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "{"), "unsafe callbacks are ignored")
}

func TestGzipResponse(t *testing.T) {
	h := newHarness(t, func(c *config.WebConfig) { c.Compress = true })
	req := httptest.NewRequest(http.MethodGet, "/api/add?a=2&b=3", nil)
	req.Header.Set("Accept-Encoding", "deflate, gzip")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(zr).Decode(&body))
	assert.Equal(t, float64(5), body["sum"])
}

func TestDeflateResponseIsZlib(t *testing.T) {
	h := newHarness(t, func(c *config.WebConfig) { c.Compress = true })
	req := httptest.NewRequest(http.MethodGet, "/api/add?a=1&b=2", nil)
	req.Header.Set("Accept-Encoding", "deflate")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, "deflate", rec.Header().Get("Content-Encoding"))
	zr, err := zlib.NewReader(rec.Body)
	require.NoError(t, err)
	defer zr.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(zr).Decode(&body))
	assert.Equal(t, float64(3), body["sum"])
}

func TestStaticFiles(t *testing.T) {
	h := newHarness(t, nil)

	rec, _ := h.do(t, httptest.NewRequest(http.MethodGet, "/public/hello.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello file", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))

	rec, _ = h.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "<h1>home</h1>", rec.Body.String())

	rec, body := h.do(t, httptest.NewRequest(http.MethodGet, "/public/missing.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "that file is not found", body["error"])

	req := httptest.NewRequest(http.MethodGet, "/public/hello.txt", nil)
	req.Header.Set("If-Modified-Since", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	rec, _ = h.do(t, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	assert.Zero(t, h.conns.Count())
}

func TestMetricsPath(t *testing.T) {
	h := newHarness(t, nil)
	rec, _ := h.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stellar_actions_total")
}

func TestBodyTooLarge(t *testing.T) {
	h := newHarness(t, func(c *config.WebConfig) { c.MaxBodySize = 8 })
	req := httptest.NewRequest(http.MethodPost, "/api/add", strings.NewReader(`{"a": 1, "b": 2, "padding": "xxxxxxxx"}`))
	req.Header.Set("Content-Type", "application/json")
	rec, _ := h.do(t, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestFingerprintCookie(t *testing.T) {
	h := newHarness(t, func(c *config.WebConfig) { c.FingerprintCookie = true })
	req := httptest.NewRequest(http.MethodGet, "/api/add?a=1&b=1", nil)
	req.Header.Set(core.FingerprintHeader, "abc")
	rec, body := h.do(t, req)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, core.FingerprintCookie, cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.Equal(t, "abc", body["requesterInformation"].(map[string]any)["fingerprint"])
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, func(c *config.WebConfig) {
		c.Bind = "127.0.0.1"
		c.Port = 0
	})
	require.NoError(t, h.srv.Start(context.Background()))

	resp, err := http.Get("http://" + h.srv.Addr().String() + "/api/add?a=4&b=4")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, float64(8), body["sum"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.srv.Stop(ctx))
}
