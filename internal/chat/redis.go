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

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/pkg/config"
	"github.com/redis/go-redis/v9"
)

// RedisBackplane shares chat messages between processes over a redis
// pub/sub channel.
type RedisBackplane struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisBackplane(cfg config.RedisConfig, logger *slog.Logger) (*RedisBackplane, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisBackplaneWithClient(client, cfg.Channel, logger), nil
}

// NewRedisBackplaneWithClient uses an existing client, e.g. a cluster or
// sentinel client.
func NewRedisBackplaneWithClient(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisBackplane {
	if channel == "" {
		channel = "stellar:chat"
	}
	return &RedisBackplane{client: client, channel: channel, logger: logger}
}

func (r *RedisBackplane) Publish(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe confirms the subscription before returning, then delivers in a
// background goroutine until Close.
func (r *RedisBackplane) Subscribe(ctx context.Context, handler func(Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return fmt.Errorf("redis backplane already subscribed to %s", r.channel)
	}

	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.pubsub = ps
	r.done = make(chan struct{})

	go func(ch <-chan *redis.Message, done chan struct{}) {
		defer close(done)
		for m := range ch {
			msg, err := decode([]byte(m.Payload))
			if err != nil {
				r.logger.Warn("dropping malformed chat message", "channel", r.channel, "error", err)
				continue
			}
			r.deliver(handler, msg)
		}
	}(ps.Channel(), r.done)
	return nil
}

func (r *RedisBackplane) deliver(handler func(Message), msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("chat handler panicked", "room", msg.Room, "panic", rec)
		}
	}()
	handler(msg)
}

func (r *RedisBackplane) Close() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close()
		<-done
	}
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal chat message: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("unmarshal chat message: %w", err)
	}
	return msg, nil
}
