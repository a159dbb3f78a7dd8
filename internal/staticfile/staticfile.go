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

// Package staticfile resolves request paths to files under the public
// directory.
package staticfile

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/StellarFw/stellar-sub002/pkg/core"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrNotFound  = errors.New("file not found")
	ErrForbidden = errors.New("file access forbidden")
)

// Resolver serves files from one root directory.
type Resolver struct {
	root  string
	index string
}

func NewResolver(root, index string) *Resolver {
	if index == "" {
		index = "index.html"
	}
	return &Resolver{root: root, index: index}
}

func (r *Resolver) Root() string { return r.root }

// Resolve opens the file for a slash separated request path. Directories
// resolve to their index file. The caller closes File.Body.
func (r *Resolver) Resolve(requestPath string) (*core.File, error) {
	clean := path.Clean("/" + strings.ReplaceAll(requestPath, "\\", "/"))
	full := filepath.Join(r.root, filepath.FromSlash(clean))

	root, err := filepath.Abs(r.root)
	if err != nil {
		return nil, fmt.Errorf("public dir: %w", err)
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestPath)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, requestPath)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestPath)
	}
	if info.IsDir() {
		abs = filepath.Join(abs, r.index)
		if info, err = os.Stat(abs); err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, requestPath)
		}
	}

	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrForbidden, requestPath)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestPath)
	}

	mimeType, err := detect(f, abs)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &core.File{
		Path:     abs,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		MimeType: mimeType,
		Body:     f,
	}, nil
}

// detect uses the extension first and falls back to sniffing the content.
// f is rewound afterwards.
func detect(f *os.File, name string) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t, nil
	}
	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detect mime type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", name, err)
	}
	return m.String(), nil
}
