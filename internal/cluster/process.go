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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"sync"
)

// ProcessSpawner runs each worker as a copy of this binary.
type ProcessSpawner struct {
	// Path defaults to the running executable.
	Path string
	// Args are passed before --id.
	Args     []string
	IDPrefix string
	Logger   *slog.Logger
}

type process struct {
	id    int
	cmd   *exec.Cmd
	mu    sync.Mutex
	stdin io.WriteCloser
}

func (p *process) ID() int { return p.id }

func (p *process) Send(k Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return WriteMessage(p.stdin, Message{Kind: k})
}

func (p *process) Kill() error {
	return p.cmd.Process.Kill()
}

// WorkerName is the node id handed to worker n.
func (s *ProcessSpawner) WorkerName(n int) string {
	prefix := s.IDPrefix
	if prefix == "" {
		prefix = "worker-"
	}
	return prefix + strconv.Itoa(n)
}

func (s *ProcessSpawner) Spawn(id int, notify func(Event)) (Worker, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reportR, reportW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("report pipe: %w", err)
	}
	args := append(slices.Clone(s.Args), "--id", s.WorkerName(id))
	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), WorkerEnv+"="+strconv.Itoa(id))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{reportW}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		reportR.Close()
		reportW.Close()
		return nil, fmt.Errorf("command pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		reportR.Close()
		reportW.Close()
		return nil, fmt.Errorf("start worker %d: %w", id, err)
	}
	reportW.Close()

	p := &process{id: id, cmd: cmd, stdin: stdin}
	go func() {
		err := ReadMessages(reportR, func(m Message) {
			notify(Event{WorkerID: id, Message: m})
		}, func(err error) {
			logger.Warn("bad report from worker", "worker_id", id, "error", err)
		})
		if err != nil {
			logger.Warn("worker report channel failed", "worker_id", id, "error", err)
		}
		reportR.Close()
		notify(Event{WorkerID: id, Exited: true, Err: cmd.Wait()})
	}()
	return p, nil
}
