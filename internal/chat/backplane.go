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
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/pkg/config"
)

var ErrBackplaneClosed = errors.New("chat backplane closed")

// Message is one chat line as it travels between processes.
type Message struct {
	Room    string    `json:"room"`
	From    string    `json:"from"`
	Origin  string    `json:"origin"`
	Message any       `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Payload is what room members receive.
func (m Message) Payload() map[string]any {
	return map[string]any{
		"context": "user",
		"room":    m.Room,
		"from":    m.From,
		"message": m.Message,
		"sentAt":  m.SentAt.UnixMilli(),
	}
}

// Backplane fans chat messages out to every process subscribed to it,
// including the publisher.
type Backplane interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, handler func(Message)) error
	Close() error
}

// MemoryBackplane delivers in-process only.
type MemoryBackplane struct {
	mu       sync.RWMutex
	handlers []func(Message)
	closed   bool
}

func NewMemoryBackplane() *MemoryBackplane {
	return &MemoryBackplane{}
}

func (b *MemoryBackplane) Publish(_ context.Context, msg Message) error {
	b.mu.RLock()
	closed, handlers := b.closed, slices.Clone(b.handlers)
	b.mu.RUnlock()
	if closed {
		return ErrBackplaneClosed
	}
	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *MemoryBackplane) Subscribe(_ context.Context, handler func(Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackplaneClosed
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *MemoryBackplane) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = nil
	b.mu.Unlock()
	return nil
}

// NewBackplane picks redis when it is enabled in config, memory otherwise.
func NewBackplane(cfg config.RedisConfig, logger *slog.Logger) (Backplane, error) {
	if !cfg.Enabled {
		return NewMemoryBackplane(), nil
	}
	return NewRedisBackplane(cfg, logger)
}
