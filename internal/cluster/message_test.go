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

package cluster

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{Kind: KindState, State: StateStarted}))
	require.NoError(t, WriteMessage(&buf, Message{Kind: KindException, Error: "boom"}))
	require.NoError(t, WriteMessage(&buf, Message{Kind: KindStop}))

	var got []Message
	require.NoError(t, ReadMessages(&buf, func(m Message) { got = append(got, m) }, nil))
	assert.Equal(t, []Message{
		{Kind: KindState, State: StateStarted},
		{Kind: KindException, Error: "boom"},
		{Kind: KindStop},
	}, got)
}

func TestMessageValidation(t *testing.T) {
	assert.ErrorIs(t, WriteMessage(io.Discard, Message{Kind: "dance"}), ErrUnknownKind)
	assert.Error(t, WriteMessage(io.Discard, Message{Kind: KindState}))

	input := strings.Join([]string{
		`{"kind":"restart"}`,
		`not json`,
		`{"kind":"dance"}`,
		``,
		`{"kind":"stop"}`,
	}, "\n")
	var kinds []Kind
	var bad int
	require.NoError(t, ReadMessages(strings.NewReader(input), func(m Message) {
		kinds = append(kinds, m.Kind)
	}, func(error) { bad++ }))

	assert.Equal(t, []Kind{KindRestart, KindStop}, kinds)
	assert.Equal(t, 2, bad)
}

func TestChildReportsAndCommands(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader(`{"kind":"restart"}` + "\n")
	c := NewChild(in, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, c.Report(StateStarted))
	assert.JSONEq(t, `{"kind":"state","state":"started"}`, strings.TrimSpace(out.String()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmds := c.Commands(ctx)
	assert.Equal(t, KindRestart, <-cmds)
	assert.Equal(t, KindStop, <-cmds, "a closed channel means stop")
	_, open := <-cmds
	assert.False(t, open)
}

func TestStateTransitional(t *testing.T) {
	assert.True(t, StateStarting.Transitional())
	assert.True(t, StateRestarting.Transitional())
	assert.True(t, StateStopping.Transitional())
	assert.False(t, StateStarted.Transitional())
	assert.False(t, StateStopped.Transitional())
}
