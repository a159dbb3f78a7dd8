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

package staticfile

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publicDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "index.html"), []byte("<p>docs</p>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob"), []byte("%PDF-1.4\n%..."), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o755))
	return dir
}

func TestResolve(t *testing.T) {
	r := NewResolver(publicDir(t), "")

	tests := []struct {
		path string
		body string
		mime string
	}{
		{"/", "<html></html>", "text/html; charset=utf-8"},
		{"index.html", "<html></html>", "text/html; charset=utf-8"},
		{"/docs", "<p>docs</p>", "text/html; charset=utf-8"},
		{"/docs/../docs/", "<p>docs</p>", "text/html; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, err := r.Resolve(tt.path)
			require.NoError(t, err)
			defer f.Body.Close()
			b, err := io.ReadAll(f.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(b))
			assert.Equal(t, tt.mime, f.MimeType)
			assert.Equal(t, int64(len(tt.body)), f.Size)
		})
	}
}

func TestResolveSniffsContent(t *testing.T) {
	r := NewResolver(publicDir(t), "")

	f, err := r.Resolve("/blob")
	require.NoError(t, err)
	defer f.Body.Close()

	assert.Equal(t, "application/pdf", f.MimeType)
	b, err := io.ReadAll(f.Body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4\n%...", string(b), "body is rewound after sniffing")
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver(publicDir(t), "")

	_, err := r.Resolve("/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Resolve("/empty")
	assert.ErrorIs(t, err, ErrNotFound)

	f, err := r.Resolve("/../../etc/passwd")
	if err == nil {
		f.Body.Close()
	}
	assert.ErrorIs(t, err, ErrNotFound, "paths are clamped to the public dir")
}
