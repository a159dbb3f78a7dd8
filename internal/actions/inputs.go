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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Validator checks a present param value.
type Validator func(value any, data *Data) error

// Formatter converts a param value before validation.
type Formatter func(value any) (any, error)

// Input is the constraint set on one declared param.
type Input struct {
	Description string
	Required    bool
	// Default is used when the param is missing. DefaultFunc wins over it
	// and can look at the rest of the request.
	Default     any
	DefaultFunc func(data *Data) any
	Format      Formatter
	Validator   Validator
}

func (in Input) check() error {
	if in.Default != nil && in.DefaultFunc != nil {
		return errors.New("default and default func are mutually exclusive")
	}
	return nil
}

// Missing reports whether a param value counts as not supplied.
func Missing(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	if s, ok := v.(string); ok && s == "" {
		return true
	}
	return false
}

var ErrFormat = errors.New("cannot format value")

func FormatInteger(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrFormat, t)
		}
		return int(t), nil
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrFormat, t)
		}
		return i, nil
	}
	return nil, fmt.Errorf("%w: %T to integer", ErrFormat, v)
}

func FormatFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrFormat, t)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %T to float", ErrFormat, v)
}

func FormatString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

func FormatBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrFormat, t)
		}
		return b, nil
	case float64:
		return t != 0, nil
	case int:
		return t != 0, nil
	}
	return nil, fmt.Errorf("%w: %T to boolean", ErrFormat, v)
}

// Formatters maps the names usable in action definition files.
var Formatters = map[string]Formatter{
	"integer": FormatInteger,
	"float":   FormatFloat,
	"number":  FormatFloat,
	"string":  FormatString,
	"boolean": FormatBool,
}
