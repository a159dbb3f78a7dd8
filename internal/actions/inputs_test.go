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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatters(t *testing.T) {
	tests := []struct {
		name    string
		format  Formatter
		in      any
		want    any
		wantErr bool
	}{
		{"int from string", FormatInteger, " 42 ", 42, false},
		{"int from whole float", FormatInteger, 7.0, 7, false},
		{"int from json number", FormatInteger, json.Number("9"), 9, false},
		{"int from fraction", FormatInteger, 7.5, nil, true},
		{"int from word", FormatInteger, "seven", nil, true},
		{"int from bool", FormatInteger, true, nil, true},
		{"float from string", FormatFloat, "1.5", 1.5, false},
		{"float from int", FormatFloat, 2, 2.0, false},
		{"float from word", FormatFloat, "x", nil, true},
		{"string from number", FormatString, 12, "12", false},
		{"string from map", FormatString, map[string]any{"a": 1}, `{"a":1}`, false},
		{"bool from string", FormatBool, "true", true, false},
		{"bool from number", FormatBool, 0.0, false, false},
		{"bool from word", FormatBool, "maybe", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.format(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFormat)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMissing(t *testing.T) {
	assert.True(t, Missing(nil, true))
	assert.True(t, Missing("x", false))
	assert.True(t, Missing("", true))
	assert.False(t, Missing(0, true))
	assert.False(t, Missing(false, true))
}
