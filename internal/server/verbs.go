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

package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/StellarFw/stellar-sub002/pkg/core"
)

var (
	ErrUnknownVerb  = errors.New("unknown verb")
	ErrVerbArgs     = errors.New("invalid verb arguments")
	ErrChatDisabled = errors.New("chat is not available on this server")
)

// DefaultVerbs are the verbs of persistent transports.
var DefaultVerbs = []string{
	"quit", "exit",
	"paramAdd", "paramDelete", "paramView", "paramsView", "paramsDelete",
	"roomAdd", "roomLeave", "roomView", "say",
	"detailsView", "documentation",
}

// IsVerb reports whether name is a verb this server accepts.
func (b *Base) IsVerb(name string) bool {
	return slices.Contains(b.attrs.Verbs, name)
}

// RunVerb executes a verb for conn. The returned value is sent to the
// client as the data of the response. quit and exit destroy the connection
// and return nil.
func (b *Base) RunVerb(ctx context.Context, conn *core.Connection, verb string, args []string) (any, error) {
	if !b.IsVerb(verb) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVerb, verb)
	}
	switch verb {
	case "quit", "exit":
		b.Destroy(conn)
		return nil, nil

	case "paramAdd":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: paramAdd key=value", ErrVerbArgs)
		}
		key, value, ok := strings.Cut(strings.Join(args, " "), "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: paramAdd key=value", ErrVerbArgs)
		}
		conn.SetParam(key, value)
		return nil, nil

	case "paramDelete":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: paramDelete key", ErrVerbArgs)
		}
		conn.DeleteParam(args[0])
		return nil, nil

	case "paramView":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: paramView key", ErrVerbArgs)
		}
		v, _ := conn.Param(args[0])
		return v, nil

	case "paramsView":
		return conn.Params(), nil

	case "paramsDelete":
		conn.ReplaceParams(nil)
		return nil, nil

	case "detailsView":
		return b.details(conn), nil

	case "documentation":
		if b.actions == nil {
			return map[string]any{}, nil
		}
		return b.actions.Documentation(), nil
	}

	return b.chatVerb(ctx, conn, verb, args)
}

func (b *Base) chatVerb(ctx context.Context, conn *core.Connection, verb string, args []string) (any, error) {
	if b.chat == nil || !b.attrs.CanChat {
		return nil, ErrChatDisabled
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s room", ErrVerbArgs, verb)
	}
	room := args[0]
	switch verb {
	case "roomAdd":
		return nil, b.chat.Add(conn, room)
	case "roomLeave":
		return nil, b.chat.Leave(conn, room)
	case "roomView":
		members, err := b.chat.Members(room)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"room":         room,
			"members":      members,
			"membersCount": len(members),
		}, nil
	case "say":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: say room message", ErrVerbArgs)
		}
		return nil, b.chat.Say(ctx, conn, room, strings.Join(args[1:], " "))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownVerb, verb)
}

func (b *Base) details(conn *core.Connection) map[string]any {
	out := map[string]any{
		"id":             conn.ID,
		"type":           conn.Type,
		"fingerprint":    conn.Fingerprint(),
		"remoteIP":       conn.RemoteIP,
		"remotePort":     conn.RemotePort,
		"params":         conn.Params(),
		"connectedAt":    conn.ConnectedAt.UnixMilli(),
		"totalActions":   conn.TotalActions(),
		"pendingActions": conn.PendingActions(),
	}
	if b.chat != nil {
		out["rooms"] = b.chat.RoomsOf(conn)
	}
	return out
}
