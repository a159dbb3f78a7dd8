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

package routing

import (
	"strings"
	"sync"
)

// MethodAll matches every HTTP method.
const MethodAll = "ALL"

// Route maps an HTTP method and path pattern onto an action. Path segments
// starting with ':' capture into params.
type Route struct {
	Method     string
	Path       string
	Action     string
	APIVersion int
}

func (r *Route) segments() []string {
	return split(r.Path)
}

// Table holds the routes in registration order; the first match wins.
type Table struct {
	mu     sync.RWMutex
	routes []*Route
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(route *Route) {
	t.mu.Lock()
	t.routes = append(t.routes, route)
	t.mu.Unlock()
}

// Remove drops every route with the given method and path.
func (t *Table) Remove(method, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.routes[:0]
	for _, r := range t.routes {
		if r.Method == method && r.Path == path {
			continue
		}
		kept = append(kept, r)
	}
	t.routes = kept
}

func (t *Table) ReplaceAll(routes []*Route) {
	cp := make([]*Route, len(routes))
	copy(cp, routes)
	t.mu.Lock()
	t.routes = cp
	t.mu.Unlock()
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Match finds the route for method and path. Captured segments are
// returned as params.
func (t *Table) Match(method, path string) (*Route, map[string]string, bool) {
	parts := split(path)
	method = strings.ToUpper(method)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.routes {
		if r.Method != MethodAll && r.Method != method {
			continue
		}
		if params, ok := matchSegments(r.segments(), parts); ok {
			return r, params, true
		}
	}
	return nil, nil, false
}

func matchSegments(pattern, parts []string) (map[string]string, bool) {
	if len(pattern) != len(parts) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			params[seg[1:]] = parts[i]
			continue
		}
		if !strings.EqualFold(seg, parts[i]) {
			return nil, false
		}
	}
	return params, true
}

func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
