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

package types

import "github.com/gravitational/logport"

var sensitiveConfigKeys = map[SourceType][]string{
	SourceSSH:   {"password", "private_key"},
	SourceSFTP:  {"password", "private_key"},
	SourceS3:    {"access_key_id", "secret_access_key"},
	SourceGCS:   {"access_key_id", "secret_access_key"},
	SourceLocal: nil,
}

// RedactConnectionConfig returns a copy of config with credential
// fields replaced. Every representation of a source that leaves the
// process (API responses, logs, task payloads) must pass through here.
func RedactConnectionConfig(config map[string]any, sourceType SourceType) map[string]any {
	redacted := make(map[string]any, len(config))
	for k, v := range config {
		redacted[k] = v
	}
	for _, key := range sensitiveConfigKeys[sourceType] {
		if _, ok := redacted[key]; ok {
			redacted[key] = logport.RedactedValue
		}
	}
	return redacted
}

// Redacted returns a copy of the source safe for egress.
func (s LogSource) Redacted() LogSource {
	out := s
	out.ConnectionConfig = RedactConnectionConfig(s.ConnectionConfig, s.Type)
	return out
}
