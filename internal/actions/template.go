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
	"log/slog"
	"slices"

	"github.com/StellarFw/stellar-sub002/pkg/core"
)

// RunFunc is an action body. It fills data.Response and returns nil, or
// returns the error to hand back to the client. ctx is cancelled when the
// action times out; bodies that ignore it keep running, but their result is
// discarded.
type RunFunc func(ctx context.Context, data *Data) error

// Caller runs an action through the full pipeline on an internal
// connection. Actions use it to call other actions, private ones included.
type Caller interface {
	Call(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

// Data is what an action body and its middleware see.
type Data struct {
	Connection *core.Connection
	Template   *Template
	Params     map[string]any
	Response   map[string]any
	API        Caller
	Logger     *slog.Logger
}

// Param is a convenience for reading a param.
func (d *Data) Param(key string) any {
	return d.Params[key]
}

// Template is a named, versioned unit of business logic.
type Template struct {
	Name        string
	Description string
	// Version defaults to 1.
	Version                int
	Inputs                 map[string]Input
	Middleware             []string
	Private                bool
	BlockedConnectionTypes []string
	// LogLevel overrides the level of the completion log line.
	LogLevel slog.Level
	// ToDocument hides the template from showDocumentation when false.
	ToDocument *bool
	Run        RunFunc
}

// Blocks reports whether connType may not invoke this template.
func (t *Template) Blocks(connType string) bool {
	return slices.Contains(t.BlockedConnectionTypes, connType)
}

// Documented reports whether the template shows up in documentation.
func (t *Template) Documented() bool {
	if t.Private {
		return false
	}
	return t.ToDocument == nil || *t.ToDocument
}
