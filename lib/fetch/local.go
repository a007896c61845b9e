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
	"context"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
)

// LocalConfig configures the local directory fetcher, used for
// development and tests.
type LocalConfig struct {
	// Path is the log file or directory to fetch
	Path string `json:"path"`
	// Pattern filters directory entries, * when unset
	Pattern string `json:"pattern"`
	// IncludeRotated also fetches rotated siblings
	IncludeRotated *bool `json:"include_rotated"`
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *LocalConfig) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("missing parameter path")
	}
	if c.Pattern == "" {
		c.Pattern = "*"
	}
	if c.IncludeRotated == nil {
		on := true
		c.IncludeRotated = &on
	}
	return nil
}

// LocalFetcher fetches log files from a directory on the worker
// host. Discovery semantics mirror the SFTP fetcher.
type LocalFetcher struct {
	cfg LocalConfig
	*log.Entry
}

// NewLocalFetcher returns a fetcher for the configured path.
func NewLocalFetcher(cfg LocalConfig) (*LocalFetcher, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &LocalFetcher{
		cfg: cfg,
		Entry: log.WithFields(log.Fields{
			logport.Component: logport.ComponentFetcher,
			"path":            cfg.Path,
		}),
	}, nil
}

// TestConnection verifies the path exists.
func (f *LocalFetcher) TestConnection(ctx context.Context) error {
	if _, err := os.Stat(f.cfg.Path); err != nil {
		if os.IsNotExist(err) {
			return trace.NotFound("path not found: %v", f.cfg.Path)
		}
		return trace.Wrap(err)
	}
	return nil
}

// Fetch reads the configured file or directory.
func (f *LocalFetcher) Fetch(ctx context.Context) ([]File, error) {
	paths, err := f.discover()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	files := make([]File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			f.WithError(err).Warningf("Failed to read %v, skipping.", p)
			continue
		}
		name, data := decompress(filepath.Base(p), data)
		files = append(files, File{Name: name, Data: data, Size: int64(len(data))})
	}
	return files, nil
}

func (f *LocalFetcher) discover() ([]string, error) {
	fi, err := os.Stat(f.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, trace.NotFound("path not found: %v", f.cfg.Path)
		}
		return nil, trace.Wrap(err)
	}

	var paths []string
	if fi.IsDir() {
		entries, err := os.ReadDir(f.cfg.Path)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		patterns := discoveryPatterns(f.cfg.Pattern, *f.cfg.IncludeRotated)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if matchesAny(entry.Name(), patterns) {
				paths = append(paths, filepath.Join(f.cfg.Path, entry.Name()))
			}
		}
	} else {
		paths = append(paths, f.cfg.Path)
		if *f.cfg.IncludeRotated {
			dir, base := filepath.Dir(f.cfg.Path), filepath.Base(f.cfg.Path)
			entries, err := os.ReadDir(dir)
			if err != nil {
				entries = nil
			}
			for _, entry := range entries {
				if entry.Name() == base || entry.IsDir() {
					continue
				}
				if matchesAny(entry.Name(), []string{base + ".*"}) {
					paths = append(paths, filepath.Join(dir, entry.Name()))
				}
			}
		}
	}
	return dedupe(paths), nil
}

// Close is a no-op.
func (f *LocalFetcher) Close() error {
	return nil
}
