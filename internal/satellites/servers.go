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

	"github.com/StellarFw/stellar-sub002/internal/engine"
	"github.com/StellarFw/stellar-sub002/internal/server"
	"github.com/StellarFw/stellar-sub002/internal/staticfile"
	"github.com/StellarFw/stellar-sub002/pkg/plugins"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/tcp"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/web"
	"github.com/StellarFw/stellar-sub002/pkg/plugins/websocket"
)

// Servers builds the enabled transports. They start last and stop first.
type Servers struct{}

func (s *Servers) Name() string { return "servers" }

func (s *Servers) Priorities() engine.Priorities {
	return engine.Priorities{Load: 50, Start: 900, Stop: 100}
}

func (s *Servers) Load(_ context.Context, api *engine.API) error {
	if api.Plugins == nil {
		api.Plugins = plugins.NewRegistry(api.Logger.With("component", "plugins"))
	}
	cfg := api.Config
	opts := server.Options{
		Connections:    api.Connections,
		Dispatcher:     api.Dispatcher,
		Actions:        api.Actions,
		Files:          staticfile.NewResolver(cfg.General.PublicDir, cfg.Servers.Web.DirectoryIndex),
		Chat:           api.Chat,
		WelcomeMessage: cfg.General.WelcomeMessage,
		Logger:         api.Logger,
	}
	if api.Metrics != nil {
		opts.SendObserver = api.Metrics.MessageSent
	}

	if cfg.Servers.Web.Enabled {
		webOpts := web.Options{ServerName: cfg.General.ServerName, Routes: api.Routes}
		if api.Metrics != nil {
			webOpts.Metrics = api.Metrics.Handler()
		}
		api.Plugins.RegisterServer(web.New(cfg.Servers.Web, webOpts, opts))
	}
	if cfg.Servers.TCP.Enabled {
		api.Plugins.RegisterServer(tcp.New(cfg.Servers.TCP, opts))
	}
	if cfg.Servers.WebSocket.Enabled {
		api.Plugins.RegisterServer(websocket.New(cfg.Servers.WebSocket, opts))
	}
	return nil
}

func (s *Servers) Start(ctx context.Context, api *engine.API) error {
	return api.Plugins.StartServers(ctx)
}

func (s *Servers) Stop(ctx context.Context, api *engine.API) error {
	return api.Plugins.StopServers(ctx)
}
