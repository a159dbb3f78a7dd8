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

package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/internal/connection"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lifecycle struct{ running atomic.Bool }

func (l *lifecycle) Running() bool { return l.running.Load() }

type harness struct {
	actions    *actions.Registry
	middleware *actions.MiddlewareRegistry
	conns      *connection.Registry
	life       *lifecycle
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, opts Options, templates ...*actions.Template) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		actions:    actions.NewRegistry(logger),
		middleware: actions.NewMiddlewareRegistry(),
		conns:      connection.NewRegistry(true, logger),
		life:       &lifecycle{},
	}
	h.life.running.Store(true)
	require.NoError(t, h.actions.Load("test", templates...))
	h.dispatcher = NewDispatcher(Config{
		Actions:     h.actions,
		Middleware:  h.middleware,
		Connections: h.conns,
		Lifecycle:   h.life,
		Logger:      logger,
		Options:     opts,
	})
	return h
}

func (h *harness) conn(t *testing.T, connType string, params map[string]any) *core.Connection {
	t.Helper()
	c, err := h.conns.Create(connType, core.ConnectionDetails{
		RemoteIP:      "10.0.0.1",
		RemotePort:    "4242",
		RawConnection: struct{}{},
	})
	require.NoError(t, err)
	c.ReplaceParams(params)
	return c
}

func echo(name string) *actions.Template {
	return &actions.Template{
		Name: name,
		Run: func(_ context.Context, data *actions.Data) error {
			data.Response["x"] = 1
			return nil
		},
	}
}

func sumANumber() *actions.Template {
	return &actions.Template{
		Name:    "sumANumber",
		Private: true,
		Inputs: map[string]actions.Input{
			"a": {Required: true, Format: actions.FormatInteger},
			"b": {Required: true, Format: actions.FormatInteger},
		},
		Run: func(_ context.Context, data *actions.Data) error {
			data.Response["result"] = data.Params["a"].(int) + data.Params["b"].(int)
			return nil
		},
	}
}

func formattedSum() *actions.Template {
	return &actions.Template{
		Name: "formattedSum",
		Inputs: map[string]actions.Input{
			"a": {Required: true, Format: actions.FormatInteger},
			"b": {Required: true, Format: actions.FormatInteger},
		},
		Run: func(ctx context.Context, data *actions.Data) error {
			out, err := data.API.Call(ctx, "sumANumber", map[string]any{
				"a": data.Params["a"],
				"b": data.Params["b"],
			})
			if err != nil {
				return err
			}
			data.Response["formatted"] = fmt.Sprintf("%d + %d = %d", data.Params["a"], data.Params["b"], out["result"])
			return nil
		},
	}
}

func TestProcessSuccessRoundTrip(t *testing.T) {
	h := newHarness(t, Options{SimultaneousActions: 5, Timeout: time.Second}, echo("echo"))
	conn := h.conn(t, core.TypeWeb, map[string]any{"action": "echo"})

	res := h.dispatcher.Process(context.Background(), conn)

	require.NoError(t, res.Err)
	assert.Equal(t, core.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Response["x"])
	assert.NotContains(t, res.Response, "error")
	assert.Equal(t, int64(0), conn.PendingActions())
	assert.Equal(t, int64(1), conn.TotalActions())
}

func TestProcessUnknownAction(t *testing.T) {
	h := newHarness(t, Options{}, echo("echo"))

	for _, params := range []map[string]any{
		{"action": "nope"},
		{},
		{"action": "echo", "apiVersion": 7},
		{"action": "echo", "apiVersion": "x"},
	} {
		res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, params))
		assert.Equal(t, core.StatusUnknownAction, res.Status, "params %v", params)
		assert.Error(t, res.Err)
	}
}

func TestProcessShuttingDown(t *testing.T) {
	h := newHarness(t, Options{}, echo("echo"))
	h.life.running.Store(false)

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "echo"}))

	assert.Equal(t, core.StatusServerShuttingDown, res.Status)
}

func TestProcessBlockedConnectionType(t *testing.T) {
	tmpl := echo("webOnly")
	tmpl.BlockedConnectionTypes = []string{core.TypeTCP}
	h := newHarness(t, Options{}, tmpl)

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeTCP, map[string]any{"action": "webOnly"}))
	assert.Equal(t, core.StatusUnsupportedServerType, res.Status)

	res = h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "webOnly"}))
	assert.Equal(t, core.StatusSuccess, res.Status)
}

func TestPrivateActionOnlyInternally(t *testing.T) {
	h := newHarness(t, Options{Timeout: time.Second}, sumANumber(), formattedSum())

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{
		"action": "sumANumber", "a": 3, "b": 4,
	}))
	assert.Equal(t, core.StatusPrivateActionCalled, res.Status)

	out, err := h.dispatcher.Call(context.Background(), "sumANumber", map[string]any{"a": 3, "b": 4})
	require.NoError(t, err)
	assert.Equal(t, 7, out["result"])

	res = h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{
		"action": "formattedSum", "a": "3", "b": "4",
	}))
	require.NoError(t, res.Err)
	assert.Equal(t, "3 + 4 = 7", res.Response["formatted"])

	assert.Empty(t, h.conns.ByType(core.TypeInternal), "internal connections are destroyed after Call")
}

func TestMissingParamsReportsEveryField(t *testing.T) {
	h := newHarness(t, Options{}, sumANumber())

	out, err := h.dispatcher.Call(context.Background(), "sumANumber", nil)

	require.Error(t, err)
	assert.Nil(t, out["result"])
	var ae *core.ActionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, core.StatusMissingParams, ae.Status)
	assert.Equal(t, []string{"a", "b"}, ae.Fields)
	assert.Contains(t, ae.Message, "a is a required parameter")
	assert.Contains(t, ae.Message, "b is a required parameter")

	out, err = h.dispatcher.Call(context.Background(), "sumANumber", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, 3, out["result"])
}

func TestValidatorErrorsAggregate(t *testing.T) {
	tmpl := &actions.Template{
		Name: "register",
		Inputs: map[string]actions.Input{
			"email": {Required: true, Validator: actions.MustRules("email")},
			"age":   {Required: true, Validator: actions.MustRules("integer|min:18")},
			"name":  {Validator: actions.Regexp(`^[a-z]+$`)},
		},
		Run: func(context.Context, *actions.Data) error { return nil },
	}
	h := newHarness(t, Options{}, tmpl)

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{
		"action": "register", "email": "nope", "age": "12", "name": "ok",
	}))

	assert.Equal(t, core.StatusValidatorErrors, res.Status)
	var ae *core.ActionError
	require.True(t, errors.As(res.Err, &ae))
	assert.Equal(t, []string{"age", "email"}, ae.Fields)
}

func TestPanickingDefaultAndFormat(t *testing.T) {
	tmpl := &actions.Template{
		Name: "fragile",
		Inputs: map[string]actions.Input{
			"x": {DefaultFunc: func(*actions.Data) any { panic("default boom") }},
			"y": {Format: func(any) (any, error) { panic("format boom") }},
		},
		Run: func(context.Context, *actions.Data) error { return nil },
	}
	h := newHarness(t, Options{}, tmpl)
	conn := h.conn(t, core.TypeTCP, map[string]any{"action": "fragile", "y": "1"})

	var res *Result
	require.NotPanics(t, func() { res = h.dispatcher.Process(context.Background(), conn) })

	assert.Equal(t, core.StatusValidatorErrors, res.Status)
	var ae *core.ActionError
	require.True(t, errors.As(res.Err, &ae))
	assert.Equal(t, []string{"x", "y"}, ae.Fields)
	assert.Zero(t, conn.PendingActions())
}

func TestDefaultsAndScrubbing(t *testing.T) {
	var seen map[string]any
	tmpl := &actions.Template{
		Name: "defaults",
		Inputs: map[string]actions.Input{
			"limit": {Default: 10},
			"owner": {DefaultFunc: func(d *actions.Data) any { return d.Connection.RemoteIP }},
		},
		Run: func(_ context.Context, data *actions.Data) error {
			seen = data.Params
			return nil
		},
	}
	h := newHarness(t, Options{}, tmpl)

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{
		"action": "defaults", "callback": "cb", "injected": true,
	}))

	require.NoError(t, res.Err)
	assert.Equal(t, 10, seen["limit"])
	assert.Equal(t, "10.0.0.1", seen["owner"])
	assert.Equal(t, "cb", seen["callback"])
	assert.NotContains(t, seen, "injected")
}

func TestScrubbingCanBeDisabled(t *testing.T) {
	var seen map[string]any
	tmpl := &actions.Template{
		Name: "raw",
		Run: func(_ context.Context, data *actions.Data) error {
			seen = data.Params
			return nil
		},
	}
	h := newHarness(t, Options{DisableParamScrubbing: true}, tmpl)

	h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "raw", "extra": 1}))

	assert.Equal(t, 1, seen["extra"])
}

func TestApiVersionSelection(t *testing.T) {
	v1 := echo("versioned")
	v1.Version = 1
	v2 := &actions.Template{
		Name:    "versioned",
		Version: 2,
		Run: func(_ context.Context, data *actions.Data) error {
			data.Response["v"] = 2
			return nil
		},
	}
	h := newHarness(t, Options{}, v1, v2)

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "versioned"}))
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, 2, res.Response["v"])

	res = h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "versioned", "apiVersion": "1"}))
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 1, res.Response["x"])
}

func TestTooManyRequests(t *testing.T) {
	release := make(chan struct{})
	tmpl := &actions.Template{
		Name: "block",
		Run: func(ctx context.Context, _ *actions.Data) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}
	h := newHarness(t, Options{SimultaneousActions: 2, Timeout: 5 * time.Second}, tmpl)
	conn := h.conn(t, core.TypeTCP, map[string]any{"action": "block"})

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.dispatcher.Process(context.Background(), conn)
		}()
	}
	require.Eventually(t, func() bool { return conn.PendingActions() == 2 }, time.Second, 5*time.Millisecond)

	rejected := h.dispatcher.Process(context.Background(), conn)
	assert.Equal(t, core.StatusTooManyRequests, rejected.Status)

	close(release)
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, core.StatusSuccess, r.Status)
	}
	assert.Equal(t, int64(0), conn.PendingActions())
	assert.Equal(t, int64(3), conn.TotalActions())
}

func TestTimeoutCompletesOnce(t *testing.T) {
	finished := make(chan struct{})
	tmpl := &actions.Template{
		Name: "sleep",
		Inputs: map[string]actions.Input{
			"sleepDuration": {Required: true, Format: actions.FormatInteger},
		},
		Run: func(_ context.Context, data *actions.Data) error {
			defer close(finished)
			time.Sleep(time.Duration(data.Params["sleepDuration"].(int)) * time.Millisecond)
			data.Response["slept"] = true
			return nil
		},
	}
	h := newHarness(t, Options{Timeout: 50 * time.Millisecond}, tmpl)
	conn := h.conn(t, core.TypeWeb, map[string]any{"action": "sleep", "sleepDuration": 200})

	p := h.dispatcher.New(conn)
	res := p.Run(context.Background())

	assert.Equal(t, core.StatusResponseTimeout, res.Status)
	assert.NotContains(t, res.Response, "slept")
	assert.Equal(t, int64(0), conn.PendingActions())
	assert.Equal(t, StateCompleted, p.State())

	<-finished
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(0), conn.PendingActions())
	assert.Same(t, res, p.Run(context.Background()))
	assert.Equal(t, int64(1), conn.TotalActions())
}

func TestBodyErrorsAndPanics(t *testing.T) {
	failing := &actions.Template{
		Name: "fail",
		Run:  func(context.Context, *actions.Data) error { return errors.New("boom") },
	}
	panicking := &actions.Template{
		Name: "panic",
		Run:  func(context.Context, *actions.Data) error { panic("kaboom") },
	}
	h := newHarness(t, Options{Timeout: time.Second}, failing, panicking)

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "fail"}))
	assert.Equal(t, core.StatusError, res.Status)
	assert.EqualError(t, res.Err, "boom")

	res = h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "panic"}))
	assert.Equal(t, core.StatusServerError, res.Status)
	assert.NotContains(t, res.Err.Error(), "kaboom")
}

func TestMiddlewareOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	record := func(s string) actions.Hook {
		return func(context.Context, *actions.Data) error {
			mu.Lock()
			calls = append(calls, s)
			mu.Unlock()
			return nil
		}
	}
	tmpl := echo("ordered")
	tmpl.Middleware = []string{"local"}
	h := newHarness(t, Options{}, tmpl)
	require.NoError(t, h.middleware.Add(&actions.Middleware{Name: "local", PreProcessor: record("local:pre"), PostProcessor: record("local:post")}))
	require.NoError(t, h.middleware.Add(&actions.Middleware{Name: "g1", Global: true, PreProcessor: record("g1:pre"), PostProcessor: record("g1:post")}))
	require.NoError(t, h.middleware.Add(&actions.Middleware{Name: "g2", Global: true, PreProcessor: record("g2:pre")}))

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "ordered"}))

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"g1:pre", "g2:pre", "local:pre", "g1:post", "local:post"}, calls)
}

func TestMiddlewareErrorAbortsChain(t *testing.T) {
	ran := false
	tmpl := &actions.Template{
		Name: "guarded",
		Run: func(context.Context, *actions.Data) error {
			ran = true
			return nil
		},
	}
	h := newHarness(t, Options{}, tmpl)
	require.NoError(t, h.middleware.Add(&actions.Middleware{
		Name:   "deny",
		Global: true,
		PreProcessor: func(context.Context, *actions.Data) error {
			return &core.ActionError{Status: core.StatusError, Message: "denied"}
		},
	}))

	res := h.dispatcher.Process(context.Background(), h.conn(t, core.TypeWeb, map[string]any{"action": "guarded"}))

	assert.False(t, ran)
	assert.EqualError(t, res.Err, "denied")
	assert.Equal(t, int64(0), res.Connection.PendingActions())
}

func TestParamsSnapshotAtCreation(t *testing.T) {
	h := newHarness(t, Options{}, echo("echo"))
	conn := h.conn(t, core.TypeWeb, map[string]any{"action": "echo"})

	p := h.dispatcher.New(conn)
	conn.SetParam("action", "other")
	res := p.Run(context.Background())

	assert.Equal(t, "echo", res.Action)
	assert.Equal(t, core.StatusSuccess, res.Status)
}
