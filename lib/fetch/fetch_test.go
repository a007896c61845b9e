/*
Copyright 2026 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport/lib/types"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompress(t *testing.T) {
	compressed := gzipBytes(t, []byte("log line\n"))

	name, data := decompress("access.log.gz", compressed)
	require.Equal(t, "access.log", name)
	require.Equal(t, "log line\n", string(data))

	// invalid gzip keeps the original bytes and name
	name, data = decompress("broken.gz", []byte("not gzip at all"))
	require.Equal(t, "broken.gz", name)
	require.Equal(t, "not gzip at all", string(data))

	// non-gz names pass through untouched
	name, data = decompress("access.log", []byte("plain"))
	require.Equal(t, "access.log", name)
	require.Equal(t, "plain", string(data))
}

func TestDiscoveryPatterns(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		rotated  bool
		expected []string
	}{
		{name: "log glob grows rotated", pattern: "*.log", rotated: true, expected: []string{"*.log", "*.log.*"}},
		{name: "plain name grows rotated", pattern: "access.log", rotated: true, expected: []string{"access.log", "access.log.*"}},
		{name: "wildcard stays alone", pattern: "*", rotated: true, expected: []string{"*"}},
		{name: "rotation off", pattern: "*.log", rotated: false, expected: []string{"*.log"}},
		{name: "empty becomes star", pattern: "", rotated: false, expected: []string{"*"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, discoveryPatterns(tt.pattern, tt.rotated))
		})
	}
}

func TestDedupe(t *testing.T) {
	require.Equal(t,
		[]string{"/a", "/b", "/c"},
		dedupe([]string{"/a", "/b", "/a", "/c", "/b"}))
}

func TestLocalFetcherDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}
	write("access.log", []byte("current\n"))
	write("access.log.1", []byte("rotated\n"))
	write("access.log.2.gz", gzipBytes(t, []byte("old rotated\n")))
	write("error.log", []byte("errors\n"))
	write("notes.txt", []byte("not a log\n"))

	f, err := NewLocalFetcher(LocalConfig{Path: dir, Pattern: "access.log"})
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.TestConnection(context.Background()))

	files, err := f.Fetch(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	contents := make(map[string]string)
	for _, file := range files {
		names = append(names, file.Name)
		contents[file.Name] = string(file.Data)
		require.Equal(t, int64(len(file.Data)), file.Size)
	}
	sort.Strings(names)
	require.Equal(t, []string{"access.log", "access.log.1", "access.log.2"}, names)
	require.Equal(t, "old rotated\n", contents["access.log.2"])
}

func TestLocalFetcherSingleFileWithRotation(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("a\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log.1"), []byte("b\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), []byte("c\n"), 0o600))

	f, err := NewLocalFetcher(LocalConfig{Path: filepath.Join(dir, "app.log")})
	require.NoError(t, err)

	files, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "app.log", files[0].Name)
	require.Equal(t, "app.log.1", files[1].Name)
}

func TestLocalFetcherMissingPath(t *testing.T) {
	f, err := NewLocalFetcher(LocalConfig{Path: filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)

	err = f.TestConnection(context.Background())
	require.True(t, trace.IsNotFound(err))

	_, err = f.Fetch(context.Background())
	require.True(t, trace.IsNotFound(err))
}

func TestSFTPConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SFTPConfig
	}{
		{name: "missing host", cfg: SFTPConfig{Username: "u", RemotePath: "/var/log", Password: "p"}},
		{name: "missing username", cfg: SFTPConfig{Host: "h", RemotePath: "/var/log", Password: "p"}},
		{name: "missing remote path", cfg: SFTPConfig{Host: "h", Username: "u", Password: "p"}},
		{name: "missing credentials", cfg: SFTPConfig{Host: "h", Username: "u", RemotePath: "/var/log"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.CheckAndSetDefaults()
			require.True(t, trace.IsBadParameter(err))
		})
	}

	cfg := SFTPConfig{Host: "h", Username: "u", RemotePath: "/var/log/nginx", Password: "p"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, 22, cfg.Port)
	require.Equal(t, "*", cfg.Pattern)
	require.True(t, *cfg.IncludeRotated)
	require.Equal(t, 2, *cfg.Retries)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	f, err := New(context.Background(), types.LogSource{
		Type:             types.SourceLocal,
		ConnectionConfig: map[string]any{"path": dir, "pattern": "*.log"},
	}, nil)
	require.NoError(t, err)
	require.IsType(t, &LocalFetcher{}, f)

	_, err = New(context.Background(), types.LogSource{
		Type:             types.SourceType("ftp"),
		ConnectionConfig: map[string]any{},
	}, nil)
	require.True(t, trace.IsBadParameter(err))

	// numeric fields arrive as json numbers
	_, err = New(context.Background(), types.LogSource{
		Type: types.SourceSFTP,
		ConnectionConfig: map[string]any{
			"host":        "logs.example.com",
			"username":    "deploy",
			"password":    "secret",
			"remote_path": "/var/log/nginx",
			"port":        float64(2022),
			"retries":     float64(3),
		},
	}, nil)
	require.NoError(t, err)
}
