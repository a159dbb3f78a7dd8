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

package core

import (
	"errors"
	"strings"
)

var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionDestroyed  = errors.New("connection destroyed")
	ErrMissingConnectionKey = errors.New("missing required connection property")
	ErrDuplicateConnection  = errors.New("connection id already registered")
	ErrNoTransport          = errors.New("connection has no bound transport")
	ErrServerNotFound       = errors.New("server not found")
	ErrPublisherNotFound    = errors.New("publisher not found")
)

// ActionStatus is the terminal outcome tag of one action invocation.
type ActionStatus string

const (
	StatusSuccess               ActionStatus = "success"
	StatusServerShuttingDown    ActionStatus = "server_shutting_down"
	StatusTooManyRequests       ActionStatus = "too_many_requests"
	StatusUnknownAction         ActionStatus = "unknown_action"
	StatusUnsupportedServerType ActionStatus = "unsupported_server_type"
	StatusPrivateActionCalled   ActionStatus = "private_action_called"
	StatusMissingParams         ActionStatus = "missing_params"
	StatusValidatorErrors       ActionStatus = "validator_errors"
	StatusServerError           ActionStatus = "server_error"
	StatusResponseTimeout       ActionStatus = "response_timeout"
	// StatusError is an error returned by an action body or a middleware hook.
	StatusError ActionStatus = "error"
)

// ActionError is the client-facing error of a failed action.
type ActionError struct {
	Status  ActionStatus
	Message string
	// Fields names the params behind missing_params and validator_errors.
	Fields []string
	Err    error
}

func (e *ActionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Status)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// StatusOf extracts the status tag from err. Plain errors report StatusError.
func StatusOf(err error) ActionStatus {
	if err == nil {
		return StatusSuccess
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return StatusError
}

// FieldErrors joins per-field messages in a stable, readable form.
func FieldErrors(msgs []string) string {
	return strings.Join(msgs, "; ")
}
