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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// WorkerEnv is set in the environment of every spawned worker. Its value
// is the worker id.
const WorkerEnv = "STELLAR_CLUSTER_WORKER"

// reportFD is the descriptor a worker writes its messages to. The parent
// passes it as the first extra file.
const reportFD = 3

// Child is the worker end of the channel. Commands arrive on stdin and
// reports leave on fd 3.
type Child struct {
	in     io.Reader
	out    io.Writer
	mu     sync.Mutex
	logger *slog.Logger
}

// NewChild wires a Child to explicit streams.
func NewChild(in io.Reader, out io.Writer, logger *slog.Logger) *Child {
	return &Child{in: in, out: out, logger: logger}
}

// ChildFromEnv returns the channel of this process when it was spawned by
// a cluster parent.
func ChildFromEnv(logger *slog.Logger) (*Child, bool) {
	if os.Getenv(WorkerEnv) == "" {
		return nil, false
	}
	out := os.NewFile(reportFD, "cluster-report")
	if out == nil {
		return nil, false
	}
	return NewChild(os.Stdin, out, logger), true
}

func (c *Child) send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WriteMessage(c.out, m); err != nil {
		return fmt.Errorf("report %s: %w", m.Kind, err)
	}
	return nil
}

// Report tells the parent this worker entered state s.
func (c *Child) Report(s State) error {
	return c.send(Message{Kind: KindState, State: s})
}

// ReportException forwards an unrecovered error to the parent.
func (c *Child) ReportException(err error) error {
	return c.send(Message{Kind: KindException, Error: err.Error()})
}

// Commands delivers stop and restart commands until ctx ends or the parent
// closes the channel. A closed channel is delivered as a stop.
func (c *Child) Commands(ctx context.Context) <-chan Kind {
	out := make(chan Kind)
	go func() {
		defer close(out)
		deliver := func(k Kind) bool {
			select {
			case out <- k:
				return true
			case <-ctx.Done():
				return false
			}
		}
		err := ReadMessages(c.in, func(m Message) {
			if m.Kind == KindStop || m.Kind == KindRestart {
				deliver(m.Kind)
			}
		}, func(err error) {
			c.logger.Warn("bad command from parent", "error", err)
		})
		if err != nil && !errors.Is(err, os.ErrClosed) {
			c.logger.Warn("parent channel failed", "error", err)
		}
		deliver(KindStop)
	}()
	return out
}
