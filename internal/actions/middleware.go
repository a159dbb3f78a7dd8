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

package actions

import (
	"context"
	"fmt"
	"sync"
)

// Hook runs before or after an action body. A returned error aborts the
// chain and becomes the action's error.
type Hook func(ctx context.Context, data *Data) error

// Middleware is a named pair of hooks. Global middleware runs for every
// action; the rest only where a template names it.
type Middleware struct {
	Name          string
	Global        bool
	PreProcessor  Hook
	PostProcessor Hook
}

// MiddlewareRegistry keeps middleware in registration order.
type MiddlewareRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Middleware
	order  []string
}

func NewMiddlewareRegistry() *MiddlewareRegistry {
	return &MiddlewareRegistry{byName: make(map[string]*Middleware)}
}

func (r *MiddlewareRegistry) Add(m *Middleware) error {
	if m.Name == "" {
		return fmt.Errorf("%w: middleware without name", ErrInvalidAction)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[m.Name]; exists {
		return fmt.Errorf("%w: middleware %s", ErrDuplicateAction, m.Name)
	}
	r.byName[m.Name] = m
	r.order = append(r.order, m.Name)
	return nil
}

func (r *MiddlewareRegistry) Get(name string) (*Middleware, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Chain returns global middleware in registration order followed by the
// template's own middleware. Names that are not registered, or that are
// already included as global, are skipped.
func (r *MiddlewareRegistry) Chain(t *Template) []*Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var chain []*Middleware
	for _, name := range r.order {
		if m := r.byName[name]; m.Global {
			chain = append(chain, m)
			seen[name] = true
		}
	}
	for _, name := range t.Middleware {
		m, ok := r.byName[name]
		if !ok || seen[name] {
			continue
		}
		chain = append(chain, m)
		seen[name] = true
	}
	return chain
}

// Global lists the global middleware in registration order.
func (r *MiddlewareRegistry) Global() []*Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Middleware
	for _, name := range r.order {
		if m := r.byName[name]; m.Global {
			out = append(out, m)
		}
	}
	return out
}
