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

// Package builtin holds the actions every engine ships with.
package builtin

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/actions"
	"github.com/shirou/gopsutil/v3/process"
)

// Source is the engine state the status action reports on.
type Source interface {
	ID() string
	BootTime() time.Time
	ConnectionCounts() map[string]int
}

const (
	healthy   = "Node Healthy"
	unhealthy = "Node Unhealthy"
)

// Options tune the health thresholds of the status action.
type Options struct {
	// MaxMemory is the resident set size above which the node reports
	// itself unhealthy. Zero disables the check.
	MaxMemory uint64
}

// Register adds status and showDocumentation to reg.
func Register(reg *actions.Registry, src Source, opts Options) error {
	return reg.Load("builtin",
		&actions.Template{
			Name:        "status",
			Description: "Reports the health of this node.",
			Run: func(ctx context.Context, d *actions.Data) error {
				status, err := Status(ctx, src, opts)
				if err != nil {
					return err
				}
				for k, v := range status {
					d.Response[k] = v
				}
				return nil
			},
		},
		&actions.Template{
			Name:        "showDocumentation",
			Description: "Lists every public action with its inputs.",
			Run: func(_ context.Context, d *actions.Data) error {
				d.Response["documentation"] = reg.Documentation()
				return nil
			},
		},
	)
}

// Status collects node and process information.
func Status(ctx context.Context, src Source, opts Options) (map[string]any, error) {
	counts := src.ConnectionCounts()
	total := 0
	for _, n := range counts {
		total += n
	}

	proc, err := processInfo(ctx)
	if err != nil {
		return nil, err
	}

	var problems []string
	if rss, _ := proc["memoryRss"].(uint64); opts.MaxMemory > 0 && rss > opts.MaxMemory {
		problems = append(problems, fmt.Sprintf("using more than %d bytes of memory", opts.MaxMemory))
	}
	nodeStatus := healthy
	if len(problems) > 0 {
		nodeStatus = unhealthy
	}

	uptime := time.Duration(0)
	if boot := src.BootTime(); !boot.IsZero() {
		uptime = time.Since(boot)
	}
	return map[string]any{
		"id":          src.ID(),
		"nodeStatus":  nodeStatus,
		"problems":    problems,
		"uptime":      uptime.Milliseconds(),
		"uptimeHuman": uptime.Round(time.Second).String(),
		"connections": map[string]any{"total": total, "byType": counts},
		"process":     proc,
	}, nil
}

func processInfo(ctx context.Context) (map[string]any, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("inspect process: %w", err)
	}
	info := map[string]any{
		"pid":        p.Pid,
		"goroutines": runtime.NumGoroutine(),
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		info["memoryRss"] = mem.RSS
		info["memoryVms"] = mem.VMS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		info["cpuPercent"] = cpu
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		info["threads"] = threads
	}
	return info, nil
}
