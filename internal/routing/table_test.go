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
	"strconv"
	"sync"
	"testing"
)

func TestTableAddAndMatch(t *testing.T) {
	table := NewTable()
	table.Add(&Route{Method: "GET", Path: "/users/:id", Action: "getUser"})

	route, params, ok := table.Match("get", "/users/42")
	if !ok {
		t.Fatal("expected route to match")
	}
	if route.Action != "getUser" {
		t.Fatalf("expected action getUser, got %s", route.Action)
	}
	if params["id"] != "42" {
		t.Fatalf("expected id 42, got %q", params["id"])
	}
}

func TestTableMatchMiss(t *testing.T) {
	table := NewTable()
	table.Add(&Route{Method: "GET", Path: "/users/:id", Action: "getUser"})

	tests := []struct {
		method, path string
	}{
		{"POST", "/users/42"},
		{"GET", "/users"},
		{"GET", "/users/42/posts"},
		{"GET", "/teams/42"},
	}
	for _, tt := range tests {
		if _, _, ok := table.Match(tt.method, tt.path); ok {
			t.Errorf("expected %s %s not to match", tt.method, tt.path)
		}
	}
}

func TestTableMethodAllAndOrder(t *testing.T) {
	table := NewTable()
	table.Add(&Route{Method: MethodAll, Path: "/things/special", Action: "special"})
	table.Add(&Route{Method: "DELETE", Path: "/things/:name", Action: "deleteThing"})

	route, _, ok := table.Match("DELETE", "/things/special")
	if !ok || route.Action != "special" {
		t.Fatalf("expected the first registered route to win, got %+v", route)
	}
	route, params, ok := table.Match("DELETE", "/Things/other/")
	if !ok || route.Action != "deleteThing" || params["name"] != "other" {
		t.Fatalf("expected deleteThing with name=other, got %+v %v", route, params)
	}
}

func TestTableRemove(t *testing.T) {
	table := NewTable()
	table.Add(&Route{Method: "GET", Path: "/a", Action: "a"})
	table.Add(&Route{Method: "POST", Path: "/a", Action: "a2"})
	table.Remove("GET", "/a")

	if _, _, ok := table.Match("GET", "/a"); ok {
		t.Fatal("expected GET /a to be removed")
	}
	if _, _, ok := table.Match("POST", "/a"); !ok {
		t.Fatal("expected POST /a to remain")
	}
}

func TestTableReplaceAll(t *testing.T) {
	table := NewTable()
	table.Add(&Route{Method: "GET", Path: "/old", Action: "old"})

	table.ReplaceAll([]*Route{
		{Method: "GET", Path: "/new-a", Action: "a"},
		{Method: "GET", Path: "/new-b", Action: "b"},
	})

	if _, _, ok := table.Match("GET", "/old"); ok {
		t.Fatal("expected old route to be removed")
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 routes, got %d", table.Len())
	}
}

func TestTableConcurrentAccess(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			table.Add(&Route{Method: "GET", Path: "/r/" + strconv.Itoa(n), Action: "r"})
			table.Match("GET", "/r/1")
		}(i)
	}
	wg.Wait()
	if table.Len() != 100 {
		t.Fatalf("expected 100 routes, got %d", table.Len())
	}
}
