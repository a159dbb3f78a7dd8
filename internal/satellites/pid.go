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

package satellites

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/StellarFw/stellar-sub002/internal/engine"
)

// PID writes <pid_dir>/<id>.pid once the node is up. The engine's final
// stop step removes it.
type PID struct{}

func (p *PID) Name() string { return "pid" }

func (p *PID) Priorities() engine.Priorities {
	return engine.Priorities{Start: 950}
}

func (p *PID) Start(_ context.Context, api *engine.API) error {
	dir := api.Config.General.PIDDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	path := filepath.Join(dir, pidName(api.ID())+".pid")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	api.PIDFile = path
	api.Logger.Debug("pid file written", "path", path)
	return nil
}

// pidName keeps ids like "10.0.0.1:8080" usable as file names.
func pidName(id string) string {
	out := []rune(id)
	for i, r := range out {
		if r == '/' || r == ':' || r == '\\' {
			out[i] = '_'
		}
	}
	return string(out)
}
