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

// Package middleware holds action middleware shipped with the engine.
package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/StellarFw/stellar-sub002/pkg/core"
	"golang.org/x/time/rate"
)

const RateLimitName = "rateLimit"

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client. Clients are identified by
// fingerprint, falling back to remote ip.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	logger   *slog.Logger
	now      func() time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
		now:      time.Now,
	}
}

func key(conn *core.Connection) string {
	if fp := conn.Fingerprint(); fp != "" {
		return fp
	}
	return conn.RemoteIP
}

func (rl *RateLimiter) getLimiter(k string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.limiters[k]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[k] = e
	}
	e.lastSeen = rl.now()
	return e.limiter
}

// Allow consumes one token for conn. Internal connections are never limited.
func (rl *RateLimiter) Allow(conn *core.Connection) bool {
	if conn.Type == core.TypeInternal {
		return true
	}
	return rl.getLimiter(key(conn)).AllowN(rl.now(), 1)
}

// Middleware returns the global middleware enforcing the limit.
func (rl *RateLimiter) Middleware() *actions.Middleware {
	return &actions.Middleware{
		Name:   RateLimitName,
		Global: true,
		PreProcessor: func(ctx context.Context, data *actions.Data) error {
			if rl.Allow(data.Connection) {
				return nil
			}
			rl.logger.Warn("rate limit exceeded",
				"key", key(data.Connection),
				"action", data.Template.Name,
				"connection_type", data.Connection.Type,
			)
			return &core.ActionError{
				Status:  core.StatusTooManyRequests,
				Message: "rate limit exceeded",
			}
		},
	}
}

// Cleanup drops limiters idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rl.Cleanup(interval); n > 0 {
					rl.logger.Debug("rate limiters evicted", "count", n)
				}
			}
		}
	}()
}
