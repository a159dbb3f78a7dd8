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

import "strconv"

// InputDoc is the public description of one input.
type InputDoc struct {
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

// Doc is the public description of one action version.
type Doc struct {
	Name        string              `json:"name"`
	Version     int                 `json:"version"`
	Description string              `json:"description,omitempty"`
	Inputs      map[string]InputDoc `json:"inputs"`
	Middleware  []string            `json:"middleware,omitempty"`
}

// Documentation lists documented templates as name -> version -> doc.
// Private templates and those with ToDocument false are left out.
func (r *Registry) Documentation() map[string]map[string]Doc {
	out := make(map[string]map[string]Doc)
	for _, t := range r.Templates() {
		if !t.Documented() {
			continue
		}
		inputs := make(map[string]InputDoc, len(t.Inputs))
		for name, in := range t.Inputs {
			inputs[name] = InputDoc{
				Description: in.Description,
				Required:    in.Required,
				Default:     in.Default,
			}
		}
		if out[t.Name] == nil {
			out[t.Name] = make(map[string]Doc)
		}
		out[t.Name][strconv.Itoa(t.Version)] = Doc{
			Name:        t.Name,
			Version:     t.Version,
			Description: t.Description,
			Inputs:      inputs,
			Middleware:  t.Middleware,
		}
	}
	return out
}
