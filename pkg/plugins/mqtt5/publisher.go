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

// Package mqtt5 publishes engine events to an MQTT v5 broker.
package mqtt5

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

var ErrNotConnected = errors.New("mqtt5 publisher not connected")

type Publisher struct {
	name      string
	brokerURL string
	topic     string
	qos       byte
	cm        *autopaho.ConnectionManager
	logger    *slog.Logger
}

func New(name, brokerURL, topic string, qos byte, logger *slog.Logger) *Publisher {
	if qos > 2 {
		qos = 1
	}
	return &Publisher{
		name:      name,
		brokerURL: brokerURL,
		topic:     topic,
		qos:       qos,
		logger:    logger,
	}
}

func (p *Publisher) Name() string { return p.name }
func (p *Publisher) Type() string { return "mqtt5" }

func (p *Publisher) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(p.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			p.logger.Info("mqtt5 connection up", "name", p.name)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt5 connect attempt failed", "name", p.name, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "stellar-" + p.name + "-" + uuid.New().String()[:8],
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}
	p.cm = cm

	p.logger.Info("mqtt5 publisher connected", "name", p.name, "broker", p.brokerURL, "topic", p.topic)
	return nil
}

func (p *Publisher) Disconnect(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	err := p.cm.Disconnect(ctx)
	p.cm = nil
	return err
}

// Publish sends to <topic>/<event type>, so subscribers can filter with
// topic wildcards.
func (p *Publisher) Publish(ctx context.Context, evt core.Event) error {
	if p.cm == nil {
		return ErrNotConnected
	}
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	_, err = p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.topic + "/" + evt.Type.String(),
		QoS:     p.qos,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	return err
}
