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

// Package solace publishes engine events to a Solace PubSub+ broker.
package solace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/resource"
)

var ErrNotConnected = errors.New("solace publisher not connected")

const terminateTimeout = 5 * time.Second

// Credentials identify the client to the broker.
type Credentials struct {
	Host     string
	VPN      string
	Username string
	Password string
}

type Publisher struct {
	name      string
	creds     Credentials
	topic     string
	service   solace.MessagingService
	publisher solace.DirectMessagePublisher
	logger    *slog.Logger
}

func New(name string, creds Credentials, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		name:   name,
		creds:  creds,
		topic:  topic,
		logger: logger,
	}
}

func (p *Publisher) Name() string { return p.name }
func (p *Publisher) Type() string { return "solace" }

func (p *Publisher) Connect(ctx context.Context) error {
	service, err := messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                p.creds.Host,
			config.ServicePropertyVPNName:                    p.creds.VPN,
			config.AuthenticationPropertySchemeBasicUserName: p.creds.Username,
			config.AuthenticationPropertySchemeBasicPassword: p.creds.Password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err := service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}

	publisher, err := service.CreateDirectMessagePublisherBuilder().Build()
	if err != nil {
		service.Disconnect()
		return fmt.Errorf("solace publisher build: %w", err)
	}
	if err := publisher.Start(); err != nil {
		service.Disconnect()
		return fmt.Errorf("solace publisher start: %w", err)
	}
	p.service, p.publisher = service, publisher

	p.logger.Info("solace publisher connected", "name", p.name, "host", p.creds.Host, "topic", p.topic)
	return nil
}

func (p *Publisher) Disconnect(ctx context.Context) error {
	if p.publisher != nil {
		if err := p.publisher.Terminate(terminateTimeout); err != nil {
			p.logger.Warn("solace publisher terminate failed", "name", p.name, "error", err)
		}
		p.publisher = nil
	}
	if p.service != nil {
		err := p.service.Disconnect()
		p.service = nil
		return err
	}
	return nil
}

// Publish sends to <topic>/<event type>.
func (p *Publisher) Publish(ctx context.Context, evt core.Event) error {
	if p.publisher == nil {
		return ErrNotConnected
	}
	body, err := evt.Encode()
	if err != nil {
		return err
	}
	msg, err := p.service.MessageBuilder().
		WithProperty(config.MessagePropertyApplicationMessageID, evt.ID).
		BuildWithByteArrayPayload(body)
	if err != nil {
		return fmt.Errorf("solace message build: %w", err)
	}
	return p.publisher.Publish(msg, resource.TopicOf(p.topic+"/"+evt.Type.String()))
}
