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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

var (
	ErrDuplicateAction = errors.New("action version already registered")
	ErrInvalidAction   = errors.New("invalid action template")
	ErrUnknownHandler  = errors.New("unknown action handler")
)

// Registry indexes templates by name and version.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]map[int]*Template
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		versions: make(map[string]map[int]*Template),
		logger:   logger,
	}
}

// Add registers a template. (name, version) pairs are unique.
func (r *Registry) Add(t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidAction)
	}
	if t.Run == nil {
		return fmt.Errorf("%w: %s has no run function", ErrInvalidAction, t.Name)
	}
	if t.Version <= 0 {
		t.Version = 1
	}
	for name, in := range t.Inputs {
		if err := in.check(); err != nil {
			return fmt.Errorf("%w: %s input %q: %v", ErrInvalidAction, t.Name, name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byVersion, ok := r.versions[t.Name]
	if !ok {
		byVersion = make(map[int]*Template)
		r.versions[t.Name] = byVersion
	}
	if _, exists := byVersion[t.Version]; exists {
		return fmt.Errorf("%w: %s@%d", ErrDuplicateAction, t.Name, t.Version)
	}
	byVersion[t.Version] = t
	return nil
}

// Load registers templates coming from one source (a module or a file) and
// logs each of them.
func (r *Registry) Load(source string, templates ...*Template) error {
	for _, t := range templates {
		if err := r.Add(t); err != nil {
			return fmt.Errorf("load %s: %w", source, err)
		}
		r.logger.Debug("action loaded", "action", t.Name, "api_version", t.Version, "source", source)
	}
	return nil
}

// Resolve returns the template for name. A version <= 0 selects the latest
// registered version.
func (r *Registry) Resolve(name string, version int) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byVersion, ok := r.versions[name]
	if !ok || len(byVersion) == 0 {
		return nil, false
	}
	if version <= 0 {
		version = latest(byVersion)
	}
	t, ok := byVersion[version]
	return t, ok
}

// Versions lists the registered versions of name in ascending order.
func (r *Registry) Versions(name string) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, 0, len(r.versions[name]))
	for v := range r.versions[name] {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Names lists every registered action name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.versions))
	for name := range r.versions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Templates returns every template, sorted by name then version.
func (r *Registry) Templates() []*Template {
	var out []*Template
	for _, name := range r.Names() {
		for _, v := range r.Versions(name) {
			if t, ok := r.Resolve(name, v); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

func latest(byVersion map[int]*Template) int {
	top := 0
	for v := range byVersion {
		if v > top {
			top = v
		}
	}
	return top
}
