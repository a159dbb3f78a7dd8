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

// Package cluster runs a fleet of worker processes from one parent and
// keeps their number and state in line with what was asked for.
package cluster

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind tags a message on the parent/worker channel.
type Kind string

const (
	// KindState is sent by a worker whenever its state changes.
	KindState Kind = "state"
	// KindException reports an unrecovered error in a worker.
	KindException Kind = "uncaughtException"
	// KindStop and KindRestart are commands sent by the parent.
	KindStop    Kind = "stop"
	KindRestart Kind = "restart"
)

// State is the lifecycle position of one worker.
type State string

const (
	StateStarting   State = "starting"
	StateStarted    State = "started"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateRestarting State = "restarting"
)

// Transitional states block spawning and rolling restarts.
func (s State) Transitional() bool {
	return s == StateStarting || s == StateRestarting || s == StateStopping
}

var ErrUnknownKind = errors.New("unknown message kind")

// Message is one line on the channel. State is set for KindState and Error
// for KindException.
type Message struct {
	Kind  Kind   `json:"kind"`
	State State  `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

func (m Message) validate() error {
	switch m.Kind {
	case KindState:
		if m.State == "" {
			return fmt.Errorf("state message without state")
		}
	case KindException, KindStop, KindRestart:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// WriteMessage encodes m as a single JSON line.
func WriteMessage(w io.Writer, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// ReadMessages decodes lines from r until EOF. Malformed lines are passed
// to onError and skipped.
func ReadMessages(r io.Reader, fn func(Message), onError func(error)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		err := json.Unmarshal(line, &m)
		if err == nil {
			err = m.validate()
		}
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("decode message: %w", err))
			}
			continue
		}
		fn(m)
	}
	return sc.Err()
}
