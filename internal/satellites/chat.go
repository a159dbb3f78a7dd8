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
	"errors"

	"github.com/StellarFw/stellar-sub002/internal/chat"
	"github.com/StellarFw/stellar-sub002/internal/engine"
)

// Chat owns the chat rooms and their backplane. Stop closes the backplane;
// a later start attaches a fresh one and keeps the rooms.
type Chat struct {
	closed bool
}

func (c *Chat) Name() string { return "chat" }

func (c *Chat) Priorities() engine.Priorities {
	return engine.Priorities{Load: 40, Start: 200, Stop: 400}
}

func (c *Chat) Load(_ context.Context, api *engine.API) error {
	logger := api.Logger.With("component", "chat")
	backplane, err := chat.NewBackplane(api.Config.Redis, logger)
	if err != nil {
		return err
	}
	api.Chat = chat.New(api.ID(), api.Connections, backplane, logger)
	return nil
}

func (c *Chat) Start(ctx context.Context, api *engine.API) error {
	if c.closed {
		backplane, err := chat.NewBackplane(api.Config.Redis, api.Logger.With("component", "chat"))
		if err != nil {
			return err
		}
		if err := api.Chat.Attach(ctx, backplane); err != nil {
			return err
		}
		c.closed = false
	} else if err := api.Chat.Start(ctx); err != nil {
		return err
	}

	for _, room := range api.Config.General.StartingChatRooms {
		if err := api.Chat.Create(room); err != nil && !errors.Is(err, chat.ErrRoomExists) {
			return err
		}
	}
	return nil
}

func (c *Chat) Stop(_ context.Context, api *engine.API) error {
	c.closed = true
	return api.Chat.Stop()
}
