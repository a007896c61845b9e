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

// Package fetch pulls log files from remote sources: SFTP servers, S3
// and GCS buckets, and local directories. Fetchers discover files
// (rotated siblings included), transparently decompress gzip and
// return whole file contents for the pipeline to store and parse.
package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"path"
	"strings"
)

// File is one fetched log file.
type File struct {
	// Name is the file's base name, with the .gz suffix stripped
	// when the content was decompressed
	Name string
	// Data is the whole file content
	Data []byte
	// Size is len(Data)
	Size int64
}

// Fetcher pulls log files from one configured source.
type Fetcher interface {
	// TestConnection verifies the source is reachable with the
	// configured credentials and that the configured path exists
	TestConnection(ctx context.Context) error
	// Fetch discovers and downloads the source's log files
	Fetch(ctx context.Context) ([]File, error)
	// Close releases any held connections
	Close() error
}

// decompress applies best-effort gzip handling: names ending in .gz
// are decompressed and the suffix stripped; content that turns out
// not to be valid gzip is kept as is under the original name.
func decompress(name string, data []byte) (string, []byte) {
	if !strings.HasSuffix(name, ".gz") {
		return name, data
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return name, data
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return name, data
	}
	if err := r.Close(); err != nil {
		return name, data
	}
	return strings.TrimSuffix(name, ".gz"), plain
}

// discoveryPatterns expands a glob into the pattern list used when
// scanning a directory. Rotated siblings (access.log.1,
// access.log.2026-01-20.gz) are included for plain names and *.log
// globs.
func discoveryPatterns(pattern string, includeRotated bool) []string {
	if pattern == "" {
		pattern = "*"
	}
	patterns := []string{pattern}
	if includeRotated {
		if strings.HasSuffix(pattern, ".log") || !strings.ContainsAny(pattern, "*?") {
			patterns = append(patterns, pattern+".*")
		}
	}
	return patterns
}

// matchesAny reports whether name matches one of the glob patterns.
func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// dedupe removes duplicate paths preserving first-seen order.
func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
