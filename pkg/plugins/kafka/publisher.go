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

// Package kafka publishes engine events to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/segmentio/kafka-go"
)

var ErrNotConnected = errors.New("kafka publisher not connected")

type Publisher struct {
	name    string
	brokers []string
	topic   string
	writer  *kafka.Writer
	logger  *slog.Logger
}

func New(name string, brokers []string, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		name:    name,
		brokers: brokers,
		topic:   topic,
		logger:  logger,
	}
}

func (p *Publisher) Name() string { return p.name }
func (p *Publisher) Type() string { return "kafka" }

func (p *Publisher) Connect(ctx context.Context) error {
	if len(p.brokers) == 0 || p.topic == "" {
		return fmt.Errorf("kafka publisher %s: brokers and topic are required", p.name)
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  p.topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	p.logger.Info("kafka publisher connected",
		"name", p.name,
		"brokers", strings.Join(p.brokers, ","),
		"topic", p.topic,
	)
	return nil
}

func (p *Publisher) Disconnect(ctx context.Context) error {
	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}

// Publish keys messages by connection so one client's events stay ordered.
func (p *Publisher) Publish(ctx context.Context, evt core.Event) error {
	if p.writer == nil {
		return ErrNotConnected
	}
	value, err := evt.Encode()
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.ClientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type.String())},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
		Time: evt.Timestamp,
	})
}
