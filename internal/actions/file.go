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

package actions

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk shape of action definitions. Bodies are Go
// functions registered by name; the file supplies everything else.
type definitionFile struct {
	Actions []definition `yaml:"actions"`
}

type definition struct {
	Name                   string                     `yaml:"name"`
	Version                int                        `yaml:"version"`
	Description            string                     `yaml:"description"`
	Handler                string                     `yaml:"handler"`
	Private                bool                       `yaml:"private"`
	BlockedConnectionTypes []string                   `yaml:"blocked_connection_types"`
	Middleware             []string                   `yaml:"middleware"`
	LogLevel               string                     `yaml:"log_level"`
	ToDocument             *bool                      `yaml:"to_document"`
	Inputs                 map[string]inputDefinition `yaml:"inputs"`
}

type inputDefinition struct {
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Validator   string `yaml:"validator"`
	Format      string `yaml:"format"`
}

// LoadFile registers every action defined in a YAML file. handlers maps the
// definitions' handler names (defaulting to the action name) to bodies.
func (r *Registry) LoadFile(path string, handlers map[string]RunFunc) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read action file: %w", err)
	}
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse action file %s: %w", path, err)
	}

	templates := make([]*Template, 0, len(file.Actions))
	for _, def := range file.Actions {
		t, err := def.template(handlers)
		if err != nil {
			return fmt.Errorf("action file %s: %w", path, err)
		}
		templates = append(templates, t)
	}
	return r.Load(path, templates...)
}

func (d definition) template(handlers map[string]RunFunc) (*Template, error) {
	handler := d.Handler
	if handler == "" {
		handler = d.Name
	}
	run, ok := handlers[handler]
	if !ok {
		return nil, fmt.Errorf("%w: %s (action %s)", ErrUnknownHandler, handler, d.Name)
	}

	var level slog.Level
	if d.LogLevel != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(d.LogLevel))); err != nil {
			return nil, fmt.Errorf("%w: %s log level: %v", ErrInvalidAction, d.Name, err)
		}
	}

	inputs := make(map[string]Input, len(d.Inputs))
	for name, in := range d.Inputs {
		input := Input{
			Description: in.Description,
			Required:    in.Required,
			Default:     in.Default,
		}
		if in.Format != "" {
			f, ok := Formatters[in.Format]
			if !ok {
				return nil, fmt.Errorf("%w: %s input %s: unknown format %q", ErrInvalidAction, d.Name, name, in.Format)
			}
			input.Format = f
		}
		if in.Validator != "" {
			v, err := ParseRules(in.Validator)
			if err != nil {
				return nil, fmt.Errorf("%w: %s input %s: %v", ErrInvalidAction, d.Name, name, err)
			}
			input.Validator = v
		}
		inputs[name] = input
	}

	return &Template{
		Name:                   d.Name,
		Description:            d.Description,
		Version:                d.Version,
		Inputs:                 inputs,
		Middleware:             d.Middleware,
		Private:                d.Private,
		BlockedConnectionTypes: d.BlockedConnectionTypes,
		LogLevel:               level,
		ToDocument:             d.ToDocument,
		Run:                    run,
	}, nil
}
