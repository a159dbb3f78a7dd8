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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	a := NewActionLogger(slog.Default(), []string{"password"}, 5)
	out := a.Sanitize(map[string]any{
		"password": "hunter2",
		"name":     "abcdefgh",
		"n":        12,
	})
	assert.Equal(t, map[string]string{
		"password": "[FILTERED]",
		"name":     "abcde...",
		"n":        "12",
	}, out)
}

func TestSanitizeKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name  string
		value string
		max   int
		want  string
	}{
		{"ascii", "abcdef", 3, "abc..."},
		{"cut inside rune", "héllo", 2, "h..."},
		{"cut on boundary", "héllo", 3, "hé..."},
		{"three byte runes", "日本語", 4, "日..."},
		{"short", "日本", 10, "日本"},
	}
	for _, tt := range tests {
		a := NewActionLogger(slog.Default(), nil, tt.max)
		got := a.Sanitize(map[string]any{"v": tt.value})["v"]
		if got != tt.want {
			t.Errorf("%s: Sanitize(%q) = %q, want %q", tt.name, tt.value, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("%s: %q is not valid UTF-8", tt.name, got)
		}
	}
}

func TestLogRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewActionLogger(logger, nil, 0)

	conn := core.NewConnection("c-1", core.TypeTCP, core.ConnectionDetails{RemoteIP: "10.1.1.1"})
	a.Log(context.Background(), ActionRecord{
		Action:     "sum",
		Version:    2,
		Status:     core.StatusValidatorErrors,
		Connection: conn,
		Params:     map[string]any{"a": 1},
		Duration:   1500 * time.Millisecond,
		Err:        errors.New("a is not valid"),
		Level:      slog.LevelWarn,
	})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.True(t, strings.Contains(rec["msg"].(string), "sum"))
	assert.Equal(t, "validator_errors", rec["status"])
	assert.Equal(t, float64(1500), rec["duration_ms"])
	assert.Equal(t, "c-1", rec["connection_id"])
	assert.Equal(t, "a is not valid", rec["error"])
	assert.Equal(t, map[string]any{"a": "1"}, rec["params"])
}

func TestEmergencyLevelIsAboveError(t *testing.T) {
	assert.Greater(t, LevelEmergency, slog.LevelError)
}
