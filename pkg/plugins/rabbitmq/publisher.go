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

// Package rabbitmq publishes engine events to a RabbitMQ queue or exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotConnected = errors.New("rabbitmq publisher not connected")

// Publisher sends to exchange with the queue name as routing key. An empty
// exchange is the default exchange, which routes straight to the queue.
type Publisher struct {
	name     string
	url      string
	exchange string
	queue    string
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
	logger   *slog.Logger
}

func New(name, url, exchange, queue string, logger *slog.Logger) *Publisher {
	return &Publisher{
		name:     name,
		url:      url,
		exchange: exchange,
		queue:    queue,
		logger:   logger,
	}
}

func (p *Publisher) Name() string { return p.name }
func (p *Publisher) Type() string { return "rabbitmq" }

func (p *Publisher) Connect(ctx context.Context) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq publish channel: %w", err)
	}
	if p.queue != "" {
		if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("rabbitmq queue declare %s: %w", p.queue, err)
		}
	}

	p.mu.Lock()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	p.logger.Info("rabbitmq publisher connected", "name", p.name, "exchange", p.exchange, "queue", p.queue)
	return nil
}

func (p *Publisher) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

// Publish serialises on the channel; amqp channels are not safe for
// concurrent publishing.
func (p *Publisher) Publish(ctx context.Context, evt core.Event) error {
	body, err := evt.Encode()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrNotConnected
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		p.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			MessageId:    evt.ID,
			Timestamp:    evt.Timestamp,
			Type:         evt.Type.String(),
		},
	)
}
