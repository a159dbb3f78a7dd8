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

package middleware

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(rps float64, burst int) (*RateLimiter, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rps, burst, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rl.now = func() time.Time { return now }
	return rl, &now
}

func conn(connType, fingerprint, ip string) *core.Connection {
	return core.NewConnection("id-"+fingerprint+ip, connType, core.ConnectionDetails{
		RemoteIP:      ip,
		RemotePort:    "1",
		Fingerprint:   fingerprint,
		RawConnection: struct{}{},
	})
}

func TestAllowPerClient(t *testing.T) {
	rl, now := newLimiter(1, 2)
	a := conn(core.TypeWeb, "a", "10.0.0.1")
	b := conn(core.TypeWeb, "", "10.0.0.2")

	assert.True(t, rl.Allow(a))
	assert.True(t, rl.Allow(a))
	assert.False(t, rl.Allow(a))
	assert.True(t, rl.Allow(b), "other clients have their own bucket")

	*now = now.Add(time.Second)
	assert.True(t, rl.Allow(a))
}

func TestInternalConnectionsAreExempt(t *testing.T) {
	rl, _ := newLimiter(1, 1)
	c := conn(core.TypeInternal, "", "127.0.0.1")
	for range 5 {
		assert.True(t, rl.Allow(c))
	}
}

func TestMiddlewareRejects(t *testing.T) {
	rl, _ := newLimiter(1, 1)
	m := rl.Middleware()
	data := &actions.Data{Connection: conn(core.TypeTCP, "fp", "10.0.0.3"), Template: &actions.Template{Name: "x"}}

	require.NoError(t, m.PreProcessor(context.Background(), data))
	err := m.PreProcessor(context.Background(), data)
	require.Error(t, err)
	assert.Equal(t, core.StatusTooManyRequests, core.StatusOf(err))
	assert.True(t, m.Global)
}

func TestCleanup(t *testing.T) {
	rl, now := newLimiter(1, 1)
	rl.Allow(conn(core.TypeWeb, "old", ""))
	*now = now.Add(time.Minute)
	rl.Allow(conn(core.TypeWeb, "new", ""))

	assert.Equal(t, 1, rl.Cleanup(30*time.Second))
	assert.Len(t, rl.limiters, 1)
}
