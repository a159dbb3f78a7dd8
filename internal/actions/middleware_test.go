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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(chain []*Middleware) []string {
	out := make([]string, 0, len(chain))
	for _, m := range chain {
		out = append(out, m.Name)
	}
	return out
}

func TestMiddlewareChain(t *testing.T) {
	r := NewMiddlewareRegistry()
	require.NoError(t, r.Add(&Middleware{Name: "trace", Global: true}))
	require.NoError(t, r.Add(&Middleware{Name: "auth"}))
	require.NoError(t, r.Add(&Middleware{Name: "limit", Global: true}))
	require.NoError(t, r.Add(&Middleware{Name: "audit"}))

	assert.Equal(t, []string{"trace", "limit"}, names(r.Global()))

	chain := r.Chain(&Template{Middleware: []string{"audit", "limit", "ghost", "auth", "audit"}})
	assert.Equal(t, []string{"trace", "limit", "audit", "auth"}, names(chain))

	m, ok := r.Get("auth")
	require.True(t, ok)
	assert.False(t, m.Global)
}

func TestMiddlewareRejects(t *testing.T) {
	r := NewMiddlewareRegistry()
	require.NoError(t, r.Add(&Middleware{Name: "once"}))
	assert.ErrorIs(t, r.Add(&Middleware{Name: "once"}), ErrDuplicateAction)
	assert.ErrorIs(t, r.Add(&Middleware{}), ErrInvalidAction)
}
