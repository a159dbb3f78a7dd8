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

package core

import (
	"context"
	"time"
)

// ServerAttributes describe how the generic server treats a transport.
type ServerAttributes struct {
	// Bidirectional transports keep the socket open between actions and
	// receive a goodbye when their connection is destroyed.
	Bidirectional      bool
	CanChat            bool
	LogConnections     bool
	LogExits           bool
	SendWelcomeMessage bool
	WelcomeDelay       time.Duration
	Verbs              []string
}

// Server is a transport specialization. Every transport implements its own
// wire behaviour for all four lifecycle and I/O hooks.
type Server interface {
	Type() string
	Attributes() ServerAttributes
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SendMessage(conn *Connection, msg any, messageID string) error
	Goodbye(conn *Connection)
}

// FileSender is implemented by transports that can stream static files.
type FileSender interface {
	SendFile(conn *Connection, file *File, err error) error
}

// Publisher ships engine events to an external broker.
type Publisher interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, evt Event) error
}
