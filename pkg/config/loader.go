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

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/StellarFw/stellar-sub002/internal/routing"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

type Config struct {
	General    GeneralConfig     `yaml:"general"`
	Servers    ServersConfig     `yaml:"servers"`
	Redis      RedisConfig       `yaml:"redis"`
	Publishers []PublisherConfig `yaml:"publishers"`
	Routes     []RouteConfig     `yaml:"routes"`
	Cluster    ClusterConfig     `yaml:"cluster"`
}

type GeneralConfig struct {
	ID                          string          `yaml:"id" env:"STELLAR_ID"`
	ServerName                  string          `yaml:"server_name" env:"STELLAR_SERVER_NAME"`
	SimultaneousActions         int             `yaml:"simultaneous_actions" env:"STELLAR_SIMULTANEOUS_ACTIONS"`
	ActionTimeout               time.Duration   `yaml:"action_timeout" env:"STELLAR_ACTION_TIMEOUT"`
	DisableParamScrubbing       bool            `yaml:"disable_param_scrubbing" env:"STELLAR_DISABLE_PARAM_SCRUBBING"`
	EnforceConnectionProperties bool            `yaml:"enforce_connection_properties" env:"STELLAR_ENFORCE_CONNECTION_PROPERTIES"`
	FilteredParams              []string        `yaml:"filtered_params"`
	LogParamMaxLength           int             `yaml:"log_param_max_length"`
	WelcomeMessage              string          `yaml:"welcome_message"`
	PublicDir                   string          `yaml:"public_dir" env:"STELLAR_PUBLIC_DIR"`
	PIDDir                      string          `yaml:"pid_dir" env:"STELLAR_PID_DIR"`
	StartingChatRooms           []string        `yaml:"starting_chat_rooms"`
	ActionFiles                 []string        `yaml:"action_files"`
	MaxMemory                   uint64          `yaml:"max_memory" env:"STELLAR_MAX_MEMORY"`
	RateLimit                   RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" env:"STELLAR_RATE_LIMIT_ENABLED"`
	RPS     float64 `yaml:"rps" env:"STELLAR_RATE_LIMIT_RPS"`
	Burst   int     `yaml:"burst" env:"STELLAR_RATE_LIMIT_BURST"`
}

type ServersConfig struct {
	Web       WebConfig       `yaml:"web"`
	TCP       TCPConfig       `yaml:"tcp"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type WebConfig struct {
	Enabled           bool          `yaml:"enabled" env:"STELLAR_WEB_ENABLED"`
	Bind              string        `yaml:"bind" env:"STELLAR_WEB_BIND"`
	Port              int           `yaml:"port" env:"STELLAR_WEB_PORT"`
	ActionsPath       string        `yaml:"actions_path"`
	FilesPath         string        `yaml:"files_path"`
	DirectoryIndex    string        `yaml:"directory_index"`
	ReturnErrorCodes  bool          `yaml:"return_error_codes" env:"STELLAR_WEB_RETURN_ERROR_CODES"`
	Compress          bool          `yaml:"compress" env:"STELLAR_WEB_COMPRESS"`
	MetricsPath       string        `yaml:"metrics_path"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	MaxBodySize       int64         `yaml:"max_body_size"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	FingerprintCookie bool          `yaml:"fingerprint_cookie"`
	FileCacheMaxAge   time.Duration `yaml:"file_cache_max_age"`
}

type TCPConfig struct {
	Enabled        bool   `yaml:"enabled" env:"STELLAR_TCP_ENABLED"`
	Bind           string `yaml:"bind" env:"STELLAR_TCP_BIND"`
	Port           int    `yaml:"port" env:"STELLAR_TCP_PORT"`
	Delimiter      string `yaml:"delimiter"`
	MaxDataLength  int    `yaml:"max_data_length"`
	LogConnections bool   `yaml:"log_connections"`
}

type WebSocketConfig struct {
	Enabled        bool          `yaml:"enabled" env:"STELLAR_WEBSOCKET_ENABLED"`
	Bind           string        `yaml:"bind" env:"STELLAR_WEBSOCKET_BIND"`
	Port           int           `yaml:"port" env:"STELLAR_WEBSOCKET_PORT"`
	Path           string        `yaml:"path"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	WelcomeDelay   time.Duration `yaml:"welcome_delay"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"STELLAR_REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"STELLAR_REDIS_ADDR"`
	Password string `yaml:"password" env:"STELLAR_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"STELLAR_REDIS_DB"`
	Channel  string `yaml:"channel"`
}

type PublisherConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type RouteConfig struct {
	Method     string `yaml:"method"`
	Path       string `yaml:"path"`
	Action     string `yaml:"action"`
	APIVersion int    `yaml:"api_version"`
}

type ClusterConfig struct {
	Workers     int           `yaml:"workers" env:"STELLAR_CLUSTER_WORKERS"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// Defaults returns a complete configuration. Files and environment only
// override what they name.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			ServerName:                  "stellar",
			SimultaneousActions:         5,
			ActionTimeout:               30 * time.Second,
			EnforceConnectionProperties: true,
			FilteredParams:              []string{"password"},
			LogParamMaxLength:           100,
			WelcomeMessage:              "Welcome to Stellar!",
			PublicDir:                   "public",
			PIDDir:                      "pids",
			StartingChatRooms:           []string{"defaultRoom"},
			RateLimit:                   RateLimitConfig{RPS: 50, Burst: 100},
		},
		Servers: ServersConfig{
			Web: WebConfig{
				Enabled:           true,
				Port:              8080,
				ActionsPath:       "api",
				FilesPath:         "public",
				DirectoryIndex:    "index.html",
				ReturnErrorCodes:  true,
				Compress:          true,
				MetricsPath:       "/metrics",
				AllowedOrigins:    []string{"*"},
				MaxBodySize:       1 << 20,
				ShutdownTimeout:   5 * time.Second,
				FingerprintCookie: true,
				FileCacheMaxAge:   60 * time.Second,
			},
			TCP: TCPConfig{
				Port:          5000,
				Delimiter:     "\n",
				MaxDataLength: 64 << 10,
			},
			WebSocket: WebSocketConfig{
				Port:           8081,
				Path:           "/ws",
				MaxMessageSize: 1 << 20,
				AllowedOrigins: []string{"*"},
			},
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "stellar:chat",
		},
		Cluster: ClusterConfig{
			Workers:     1,
			StopTimeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML file on top of Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays STELLAR_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode env: %w", err)
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	if c.General.SimultaneousActions <= 0 {
		return fmt.Errorf("%w: general.simultaneous_actions must be positive", ErrInvalid)
	}
	if c.General.ActionTimeout <= 0 {
		return fmt.Errorf("%w: general.action_timeout must be positive", ErrInvalid)
	}
	if c.Servers.TCP.Delimiter == "" {
		return fmt.Errorf("%w: servers.tcp.delimiter must not be empty", ErrInvalid)
	}
	for i, p := range c.Publishers {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("%w: publishers[%d] needs name and type", ErrInvalid, i)
		}
	}
	for i, r := range c.Routes {
		if r.Path == "" || r.Action == "" {
			return fmt.Errorf("%w: routes[%d] needs path and action", ErrInvalid, i)
		}
	}
	return nil
}

var ErrInvalid = errors.New("invalid configuration")

func (rc RouteConfig) ToRoute() *routing.Route {
	method := strings.ToUpper(rc.Method)
	if method == "" {
		method = "ALL"
	}
	return &routing.Route{
		Method:     method,
		Path:       rc.Path,
		Action:     rc.Action,
		APIVersion: rc.APIVersion,
	}
}

// RoutesOf converts the configured routes.
func (c *Config) RoutesOf() []*routing.Route {
	routes := make([]*routing.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		routes = append(routes, rc.ToRoute())
	}
	return routes
}
