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

// Package jms publishes engine events to a JMS broker over AMQP 1.0.
package jms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Azure/go-amqp"
	"github.com/StellarFw/stellar-sub002/pkg/core"
)

var ErrNotConnected = errors.New("jms publisher not connected")

type Publisher struct {
	name    string
	url     string
	queue   string
	conn    *amqp.Conn
	session *amqp.Session
	sender  *amqp.Sender
	logger  *slog.Logger
}

func New(name, url, queue string, logger *slog.Logger) *Publisher {
	return &Publisher{
		name:   name,
		url:    url,
		queue:  queue,
		logger: logger,
	}
}

func (p *Publisher) Name() string { return p.name }
func (p *Publisher) Type() string { return "jms" }

func (p *Publisher) Connect(ctx context.Context) error {
	conn, err := amqp.Dial(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("jms dial: %w", err)
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("jms send session: %w", err)
	}
	sender, err := session.NewSender(ctx, p.queue, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("jms sender: %w", err)
	}
	p.conn, p.session, p.sender = conn, session, sender

	p.logger.Info("jms publisher connected", "name", p.name, "url", p.url, "queue", p.queue)
	return nil
}

func (p *Publisher) Disconnect(ctx context.Context) error {
	if p.sender != nil {
		p.sender.Close(ctx)
		p.sender = nil
	}
	if p.session != nil {
		p.session.Close(ctx)
		p.session = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func (p *Publisher) Publish(ctx context.Context, evt core.Event) error {
	if p.sender == nil {
		return ErrNotConnected
	}
	body, err := evt.Encode()
	if err != nil {
		return err
	}
	contentType := "application/json"
	return p.sender.Send(ctx, &amqp.Message{
		Data: [][]byte{body},
		Properties: &amqp.MessageProperties{
			MessageID:   evt.ID,
			ContentType: &contentType,
			Subject:     stringPtr(evt.Type.String()),
		},
		ApplicationProperties: map[string]any{
			"client_id": evt.ClientID,
		},
	}, nil)
}

func stringPtr(s string) *string { return &s }
