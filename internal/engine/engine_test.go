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

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeSat struct {
	name    string
	prio    Priorities
	rec     *recorder
	loadErr error
	stopFor time.Duration
}

func (f *fakeSat) Name() string           { return f.name }
func (f *fakeSat) Priorities() Priorities { return f.prio }

func (f *fakeSat) Load(context.Context, *API) error {
	f.rec.add(f.name + ".load")
	return f.loadErr
}

func (f *fakeSat) Start(context.Context, *API) error {
	f.rec.add(f.name + ".start")
	return nil
}

func (f *fakeSat) Stop(context.Context, *API) error {
	time.Sleep(f.stopFor)
	f.rec.add(f.name + ".stop")
	return nil
}

// loadOnly takes part in the load phase only.
type loadOnly struct {
	name string
	rec  *recorder
}

func (l *loadOnly) Name() string { return l.name }
func (l *loadOnly) Load(context.Context, *API) error {
	l.rec.add(l.name + ".load")
	return nil
}

type configSat struct{ rec *recorder }

func (c *configSat) Name() string { return "config" }
func (c *configSat) Load(_ context.Context, api *API) error {
	c.rec.add("config.load")
	api.SetID("node-a")
	return nil
}

type harness struct {
	eng     *Engine
	rec     *recorder
	fatals  []error
	stopped atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{rec: &recorder{}}
	h.eng = New(&configSat{rec: h.rec}, Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Fatal:     func(err error) { h.fatals = append(h.fatals, err) },
		OnStopped: func() { h.stopped.Add(1) },
	})
	return h
}

func TestLoadAndStartOrder(t *testing.T) {
	h := newHarness(t)
	h.eng.Register(
		&fakeSat{name: "servers", prio: Priorities{Load: 200, Start: 900, Stop: 100}, rec: h.rec},
		&fakeSat{name: "actions", prio: Priorities{Load: 50}, rec: h.rec},
		&loadOnly{name: "defaults", rec: h.rec},
	)
	h.eng.RegisterModule("app", &fakeSat{name: "tasks", rec: h.rec})

	require.NoError(t, h.eng.Start(context.Background()))

	assert.Equal(t, []string{
		"config.load",
		"actions.load",
		"defaults.load",
		"tasks.load",
		"servers.load",
		"actions.start",
		"tasks.start",
		"servers.start",
	}, h.rec.list())
	assert.True(t, h.eng.Running())
	assert.True(t, h.eng.API().Initialized())
	assert.False(t, h.eng.API().BootTime().IsZero())
	assert.Equal(t, "node-a", h.eng.API().ID())
}

func TestLoadFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("boom")
	h.eng.Register(
		&fakeSat{name: "broken", rec: h.rec, loadErr: boom},
		&fakeSat{name: "later", prio: Priorities{Load: 500}, rec: h.rec},
	)

	err := h.eng.Start(context.Background())
	require.ErrorIs(t, err, boom)
	require.Len(t, h.fatals, 1)
	assert.ErrorIs(t, h.fatals[0], boom)
	assert.NotContains(t, h.rec.list(), "later.load")
	assert.False(t, h.eng.Running())
	assert.False(t, h.eng.API().Initialized())
}

func TestStopOrderAndFinalStep(t *testing.T) {
	h := newHarness(t)
	h.eng.Register(
		&fakeSat{name: "chat", prio: Priorities{Stop: 300}, rec: h.rec},
		&fakeSat{name: "servers", prio: Priorities{Stop: 50}, rec: h.rec},
	)
	require.NoError(t, h.eng.Start(context.Background()))
	h.rec.calls = nil

	require.NoError(t, h.eng.Stop(context.Background()))
	assert.Equal(t, []string{"servers.stop", "chat.stop"}, h.rec.list())
	assert.Equal(t, int32(1), h.stopped.Load())
	assert.False(t, h.eng.Running())
}

func TestStopWhenNotRunningIsNoop(t *testing.T) {
	h := newHarness(t)
	h.eng.Register(&fakeSat{name: "servers", rec: h.rec})

	require.NoError(t, h.eng.Stop(context.Background()))
	assert.Empty(t, h.rec.list())
	assert.Zero(t, h.stopped.Load())
	assert.Empty(t, h.fatals)
}

func TestConcurrentStopRunsFinalStepOnce(t *testing.T) {
	h := newHarness(t)
	h.eng.Register(&fakeSat{name: "slow", rec: h.rec, stopFor: 50 * time.Millisecond})
	require.NoError(t, h.eng.Start(context.Background()))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.eng.Stop(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.stopped.Load())
	count := 0
	for _, c := range h.rec.list() {
		if c == "slow.stop" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRestartSkipsLoad(t *testing.T) {
	h := newHarness(t)
	h.eng.Register(&fakeSat{name: "servers", rec: h.rec})
	require.NoError(t, h.eng.Start(context.Background()))
	h.rec.calls = nil

	require.NoError(t, h.eng.Restart(context.Background()))
	assert.Equal(t, []string{"servers.stop", "servers.start"}, h.rec.list())
	assert.True(t, h.eng.Running())
}

func TestRestartWhenStoppedOnlyStarts(t *testing.T) {
	h := newHarness(t)
	h.eng.Register(&fakeSat{name: "servers", rec: h.rec})

	require.NoError(t, h.eng.Restart(context.Background()))
	assert.Equal(t, []string{"config.load", "servers.load", "servers.start"}, h.rec.list())
}

func TestMissingConfigStage(t *testing.T) {
	var fatal error
	eng := New(nil, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Fatal:  func(err error) { fatal = err },
	})
	assert.ErrorIs(t, eng.Start(context.Background()), ErrNoConfigStage)
	assert.ErrorIs(t, fatal, ErrNoConfigStage)
}

func TestAPICallWithoutDispatcher(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.API().Call(context.Background(), "status", nil)
	assert.Error(t, err)
	assert.Empty(t, h.eng.API().ConnectionCounts())
}
