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

package satellites

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/engine"
	"github.com/StellarFw/stellar-sub002/internal/processor"
	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/StellarFw/stellar-sub002/pkg/plugins"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/jms"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/kafka"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/mqtt5"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/rabbitmq"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/solace"
)

const (
	defaultQueueSize = 1024
	publishTimeout   = 5 * time.Second
)

// Publishers ships connection and action events to the configured
// brokers. Events are queued and published by one worker so transports
// never wait on a broker.
type Publishers struct {
	QueueSize int

	mu      sync.Mutex
	queue   chan core.Event
	done    chan struct{}
	hooked  bool
	dropped int
}

func (p *Publishers) Name() string { return "publishers" }

func (p *Publishers) Priorities() engine.Priorities {
	return engine.Priorities{Load: 60, Start: 800, Stop: 200}
}

func (p *Publishers) Load(_ context.Context, api *engine.API) error {
	if api.Plugins == nil {
		api.Plugins = plugins.NewRegistry(api.Logger.With("component", "plugins"))
	}
	for _, pc := range api.Config.Publishers {
		pub, err := NewPublisher(pc, api.Logger)
		if err != nil {
			api.Logger.Warn("publisher skipped", "name", pc.Name, "type", pc.Type, "error", err)
			continue
		}
		api.Plugins.RegisterPublisher(pub)
	}
	if len(api.Plugins.Publishers()) == 0 || p.hooked {
		return nil
	}
	p.hooked = true

	api.Connections.OnCreate(func(conn *core.Connection) {
		p.lifecycle(api, core.EventTypeConnect, conn)
	})
	api.Connections.OnDestroy(func(conn *core.Connection) {
		p.lifecycle(api, core.EventTypeDisconnect, conn)
	})
	for _, s := range api.Plugins.Servers() {
		if h, ok := s.(interface {
			OnActionComplete(func(*processor.Result))
		}); ok {
			h.OnActionComplete(func(res *processor.Result) {
				p.actionComplete(api, res)
			})
		}
	}
	return nil
}

// NewPublisher builds a publisher from its config block. Keys are read from
// the free-form config map the same way for every broker.
func NewPublisher(pc config.PublisherConfig, logger *slog.Logger) (core.Publisher, error) {
	c := pc.Config
	switch pc.Type {
	case "kafka":
		return kafka.New(pc.Name, strings.Split(c["brokers"], ","), c["topic"], logger), nil
	case "rabbitmq":
		return rabbitmq.New(pc.Name, c["url"], c["exchange"], c["queue"], logger), nil
	case "mqtt5":
		qos := 1
		if raw := c["qos"]; raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid qos %q: %w", raw, err)
			}
			qos = n
		}
		return mqtt5.New(pc.Name, c["url"], c["topic"], byte(qos), logger), nil
	case "jms":
		return jms.New(pc.Name, c["url"], c["queue"], logger), nil
	case "solace":
		return solace.New(pc.Name, solace.Credentials{
			Host:     c["host"],
			VPN:      c["vpn"],
			Username: c["username"],
			Password: c["password"],
		}, c["topic"], logger), nil
	default:
		return nil, fmt.Errorf("unknown publisher type %q", pc.Type)
	}
}

func (p *Publishers) Start(ctx context.Context, api *engine.API) error {
	if len(api.Plugins.Publishers()) == 0 {
		return nil
	}
	connected := api.Plugins.ConnectPublishers(ctx)
	api.Logger.Info("publishers connected", "connected", connected, "total", len(api.Plugins.Publishers()))

	size := p.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	queue := make(chan core.Event, size)
	done := make(chan struct{})
	p.mu.Lock()
	p.queue, p.done = queue, done
	p.mu.Unlock()

	go p.worker(api, queue, done)
	return nil
}

func (p *Publishers) worker(api *engine.API, queue <-chan core.Event, done chan<- struct{}) {
	defer close(done)
	for evt := range queue {
		p.publish(api, evt)
	}
}

func (p *Publishers) publish(api *engine.API, evt core.Event) {
	defer func() {
		if r := recover(); r != nil {
			api.Logger.Error("publisher panic", "event", evt.Type.String(), "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	api.Plugins.Publish(ctx, evt)
}

// enqueue never blocks. Events raised while stopped or with a full queue
// are dropped.
func (p *Publishers) enqueue(api *engine.API, evt core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue == nil {
		return
	}
	select {
	case p.queue <- evt:
	default:
		p.dropped++
		api.Logger.Warn("publish queue full, event dropped", "event", evt.Type.String(), "dropped", p.dropped)
	}
}

func (p *Publishers) lifecycle(api *engine.API, t core.EventType, conn *core.Connection) {
	// web connections live for one request; their action events are enough
	if conn.Type == core.TypeWeb || conn.Type == core.TypeInternal {
		return
	}
	evt, err := core.NewEvent(t, api.ID(), conn.ID, nil, map[string]string{
		"connection_type": conn.Type,
		"remote_ip":       conn.RemoteIP,
	})
	if err != nil {
		api.Logger.Warn("event not built", "event", t.String(), "error", err)
		return
	}
	p.enqueue(api, evt)
}

func (p *Publishers) actionComplete(api *engine.API, res *processor.Result) {
	payload := map[string]any{
		"action":      res.Action,
		"version":     res.Version,
		"status":      string(res.Status),
		"duration_ms": res.Duration.Milliseconds(),
	}
	if api.ActionLog != nil {
		payload["params"] = api.ActionLog.Sanitize(res.Params)
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	meta := map[string]string{}
	clientID := ""
	if res.Connection != nil {
		clientID = res.Connection.ID
		meta["connection_type"] = res.Connection.Type
		meta["remote_ip"] = res.Connection.RemoteIP
	}
	evt, err := core.NewEvent(core.EventTypeActionComplete, api.ID(), clientID, payload, meta)
	if err != nil {
		api.Logger.Warn("event not built", "action", res.Action, "error", err)
		return
	}
	p.enqueue(api, evt)
}

// Stop drains queued events, then disconnects every publisher.
func (p *Publishers) Stop(ctx context.Context, api *engine.API) error {
	p.mu.Lock()
	queue, done := p.queue, p.done
	p.queue, p.done = nil, nil
	p.mu.Unlock()
	if queue == nil {
		return nil
	}
	close(queue)
	select {
	case <-done:
	case <-ctx.Done():
		api.Logger.Warn("publish queue not drained", "pending", len(queue))
	}
	api.Plugins.DisconnectPublishers(ctx)
	return nil
}
