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
	"encoding/json"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/logport/lib/types"
)

// New builds the fetcher matching the source's type from its
// connection config.
func New(ctx context.Context, source types.LogSource, clock clockwork.Clock) (Fetcher, error) {
	switch source.Type {
	case types.SourceSSH, types.SourceSFTP:
		var cfg SFTPConfig
		if err := decodeConfig(source.ConnectionConfig, &cfg); err != nil {
			return nil, trace.Wrap(err)
		}
		return NewSFTPFetcher(cfg)
	case types.SourceS3:
		var cfg S3Config
		if err := decodeConfig(source.ConnectionConfig, &cfg); err != nil {
			return nil, trace.Wrap(err)
		}
		cfg.Clock = clock
		return NewS3Fetcher(ctx, cfg)
	case types.SourceGCS:
		var cfg GCSConfig
		if err := decodeConfig(source.ConnectionConfig, &cfg); err != nil {
			return nil, trace.Wrap(err)
		}
		cfg.Clock = clock
		return NewGCSFetcher(ctx, cfg)
	case types.SourceLocal:
		var cfg LocalConfig
		if err := decodeConfig(source.ConnectionConfig, &cfg); err != nil {
			return nil, trace.Wrap(err)
		}
		return NewLocalFetcher(cfg)
	}
	return nil, trace.BadParameter("unsupported source type %q", source.Type)
}

// decodeConfig maps the opaque connection config onto a typed fetcher
// config via its JSON tags.
func decodeConfig(config map[string]any, out any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return trace.BadParameter("invalid connection config: %v", err)
	}
	return nil
}
