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
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Regexp validates the string form of a value against pattern.
func Regexp(pattern string) Validator {
	re := regexp.MustCompile(pattern)
	return func(value any, _ *Data) error {
		if !re.MatchString(fmt.Sprint(value)) {
			return fmt.Errorf("does not match %s", pattern)
		}
		return nil
	}
}

// Rule is a predefined named check. args come from "name:a,b".
type Rule func(value any, args []string) error

// Rules maps rule names to their checks.
var Rules = map[string]Rule{
	"numeric":   ruleNumeric,
	"integer":   ruleInteger,
	"boolean":   ruleBoolean,
	"string":    ruleString,
	"alpha":     ruleAlpha,
	"alpha_num": ruleAlphaNum,
	"email":     ruleEmail,
	"url":       ruleURL,
	"uuid":      ruleUUID,
	"array":     ruleKind(reflect.Slice, "an array"),
	"object":    ruleKind(reflect.Map, "an object"),
	"min":       ruleMin,
	"max":       ruleMax,
	"between":   ruleBetween,
	"in":        ruleIn,
	"not_in":    ruleNotIn,
	"regex":     ruleRegex,
}

var errBadRule = errors.New("invalid validation rule")

// ParseRules builds a validator from a "|" separated rule list, for
// example "numeric|min:1|max:10". Unknown rules fail at parse time.
func ParseRules(expr string) (Validator, error) {
	type bound struct {
		name string
		rule Rule
		args []string
	}
	var rules []bound
	for _, part := range strings.Split(expr, "|") {
		part = strings.TrimSpace(part)
		if part == "" || part == "required" {
			continue
		}
		name, rawArgs, _ := strings.Cut(part, ":")
		rule, ok := Rules[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errBadRule, name)
		}
		var args []string
		if rawArgs != "" {
			if name == "regex" {
				args = []string{rawArgs}
			} else {
				args = strings.Split(rawArgs, ",")
			}
		}
		rules = append(rules, bound{name: name, rule: rule, args: args})
	}
	return func(value any, _ *Data) error {
		for _, b := range rules {
			if err := b.rule(value, b.args); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// MustRules is ParseRules for static rule lists.
func MustRules(expr string) Validator {
	v, err := ParseRules(expr)
	if err != nil {
		panic(err)
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func ruleNumeric(v any, _ []string) error {
	if _, ok := toFloat(v); !ok {
		return errors.New("must be numeric")
	}
	return nil
}

func ruleInteger(v any, _ []string) error {
	if _, err := FormatInteger(v); err != nil {
		return errors.New("must be an integer")
	}
	return nil
}

func ruleBoolean(v any, _ []string) error {
	if _, err := FormatBool(v); err != nil {
		return errors.New("must be a boolean")
	}
	return nil
}

func ruleString(v any, _ []string) error {
	if _, ok := v.(string); !ok {
		return errors.New("must be a string")
	}
	return nil
}

func ruleAlpha(v any, _ []string) error {
	s, ok := v.(string)
	if !ok || s == "" || strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }) >= 0 {
		return errors.New("must contain only letters")
	}
	return nil
}

func ruleAlphaNum(v any, _ []string) error {
	s, ok := v.(string)
	if !ok || s == "" || strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) >= 0 {
		return errors.New("must contain only letters and digits")
	}
	return nil
}

func ruleEmail(v any, _ []string) error {
	s, ok := v.(string)
	if !ok {
		return errors.New("must be an email address")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return errors.New("must be an email address")
	}
	return nil
}

func ruleURL(v any, _ []string) error {
	s, ok := v.(string)
	if !ok {
		return errors.New("must be a URL")
	}
	u, err := url.ParseRequestURI(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("must be a URL")
	}
	return nil
}

func ruleUUID(v any, _ []string) error {
	s, ok := v.(string)
	if !ok {
		return errors.New("must be a UUID")
	}
	if _, err := uuid.Parse(s); err != nil {
		return errors.New("must be a UUID")
	}
	return nil
}

func ruleKind(kind reflect.Kind, what string) Rule {
	return func(v any, _ []string) error {
		if v == nil || reflect.TypeOf(v).Kind() != kind {
			return fmt.Errorf("must be %s", what)
		}
		return nil
	}
}

// size is the numeric value of numbers and the length of everything else.
func size(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		return float64(len([]rune(s))), true
	}
	if f, ok := toFloat(v); ok {
		return f, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return float64(rv.Len()), true
	}
	return 0, false
}

func ruleArg(args []string, i int) (float64, error) {
	if len(args) <= i {
		return 0, errBadRule
	}
	f, err := strconv.ParseFloat(args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errBadRule, err)
	}
	return f, nil
}

func ruleMin(v any, args []string) error {
	lo, err := ruleArg(args, 0)
	if err != nil {
		return err
	}
	if n, ok := size(v); !ok || n < lo {
		return fmt.Errorf("must be at least %s", args[0])
	}
	return nil
}

func ruleMax(v any, args []string) error {
	hi, err := ruleArg(args, 0)
	if err != nil {
		return err
	}
	if n, ok := size(v); !ok || n > hi {
		return fmt.Errorf("must be at most %s", args[0])
	}
	return nil
}

func ruleBetween(v any, args []string) error {
	lo, err := ruleArg(args, 0)
	if err != nil {
		return err
	}
	hi, err := ruleArg(args, 1)
	if err != nil {
		return err
	}
	if n, ok := size(v); !ok || n < lo || n > hi {
		return fmt.Errorf("must be between %s and %s", args[0], args[1])
	}
	return nil
}

func ruleIn(v any, args []string) error {
	if !slices.Contains(args, fmt.Sprint(v)) {
		return fmt.Errorf("must be one of %s", strings.Join(args, ", "))
	}
	return nil
}

func ruleNotIn(v any, args []string) error {
	if slices.Contains(args, fmt.Sprint(v)) {
		return fmt.Errorf("must not be one of %s", strings.Join(args, ", "))
	}
	return nil
}

func ruleRegex(v any, args []string) error {
	if len(args) == 0 {
		return errBadRule
	}
	re, err := regexp.Compile(args[0])
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRule, err)
	}
	if !re.MatchString(fmt.Sprint(v)) {
		return fmt.Errorf("does not match %s", args[0])
	}
	return nil
}
