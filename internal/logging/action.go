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

package logging

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/StellarFw/stellar-sub002/pkg/core"
)

// LevelEmergency sits above Error and marks failures that stop the process.
const LevelEmergency = slog.Level(12)

const filtered = "[FILTERED]"

// ActionRecord is the loggable summary of one completed action.
type ActionRecord struct {
	Action     string
	Version    int
	Status     core.ActionStatus
	Connection *core.Connection
	Params     map[string]any
	Duration   time.Duration
	Err        error
	Level      slog.Level
}

// ActionLogger writes one line per completed action, with filtered params
// masked and long values truncated.
type ActionLogger struct {
	logger    *slog.Logger
	filtered  []string
	maxLength int
}

func NewActionLogger(logger *slog.Logger, filteredParams []string, maxLength int) *ActionLogger {
	return &ActionLogger{logger: logger, filtered: filteredParams, maxLength: maxLength}
}

func (a *ActionLogger) Log(ctx context.Context, rec ActionRecord) {
	attrs := []any{
		"action", rec.Action,
		"api_version", rec.Version,
		"status", string(rec.Status),
		"duration_ms", rec.Duration.Milliseconds(),
		"params", a.Sanitize(rec.Params),
	}
	if c := rec.Connection; c != nil {
		attrs = append(attrs,
			"connection_id", c.ID,
			"connection_type", c.Type,
			"remote_ip", c.RemoteIP,
		)
	}
	if rec.Err != nil {
		attrs = append(attrs, "error", rec.Err.Error())
	}
	a.logger.Log(ctx, rec.Level, fmt.Sprintf("[ action @ %s ]", rec.Action), attrs...)
}

// Sanitize returns a copy of params safe to log.
func (a *ActionLogger) Sanitize(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if slices.Contains(a.filtered, k) {
			out[k] = filtered
			continue
		}
		s := fmt.Sprint(v)
		if a.maxLength > 0 && len(s) > a.maxLength {
			cut := a.maxLength
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut] + "..."
		}
		out[k] = s
	}
	return out
}
