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

// Package satellites wires the engine's subsystems into the boot phases.
package satellites

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/StellarFw/stellar-sub002/internal/engine"
	"github.com/StellarFw/stellar-sub002/internal/logging"
	"github.com/StellarFw/stellar-sub002/internal/routing"
	"github.com/StellarFw/stellar-sub002/pkg/config"
)

// Config is the stage 0 satellite. It loads the configuration file when
// one exists, overlays the environment and watches the file for route
// changes.
type Config struct {
	Path string
}

func (c *Config) Name() string { return "config" }

func (c *Config) Priorities() engine.Priorities {
	return engine.Priorities{Start: 1}
}

func (c *Config) Load(_ context.Context, api *engine.API) error {
	cfg := config.Defaults()
	if c.Path != "" {
		loaded, err := config.Load(c.Path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, os.ErrNotExist):
			api.Logger.Warn("config file not found, using defaults", "path", c.Path)
		default:
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("config env: %w", err)
	}

	api.Config = cfg
	api.ConfigPath = c.Path
	api.SetID(cfg.General.ID)
	api.ActionLog = logging.NewActionLogger(api.Logger, cfg.General.FilteredParams, cfg.General.LogParamMaxLength)
	api.Routes = routing.NewTable()
	api.Routes.ReplaceAll(cfg.RoutesOf())

	if c.Path != "" {
		if _, err := os.Stat(c.Path); err == nil {
			api.Watcher = config.NewWatcher(c.Path, api.Routes, api.Logger.With("component", "config_watcher"))
			api.Watcher.OnReload(func(next *config.Config) {
				api.Logger.Info("configuration reloaded", "path", c.Path, "routes", len(next.Routes))
			})
		}
	}
	api.Logger.Info("configuration loaded", "id", api.ID(), "routes", api.Routes.Len())
	return nil
}

// Start begins watching. The engine's final stop step unwatches.
func (c *Config) Start(ctx context.Context, api *engine.API) error {
	if api.Watcher != nil {
		api.Watcher.Watch(context.WithoutCancel(ctx))
	}
	return nil
}
