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

package store

// schema is applied on startup by Bootstrap. Every statement is
// idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	log_format TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS log_sources (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites (id),
	name TEXT NOT NULL,
	source_type TEXT NOT NULL,
	status TEXT NOT NULL,
	connection_config JSONB NOT NULL DEFAULT '{}',
	schedule JSONB NOT NULL DEFAULT '{}',
	last_fetch_at TIMESTAMPTZ,
	last_fetch_status TEXT,
	last_fetch_error TEXT,
	last_fetched_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS log_files (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites (id),
	source_id TEXT REFERENCES log_sources (id),
	filename TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	sha256 TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	status TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	log_file_id TEXT NOT NULL REFERENCES log_files (id),
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	result_summary TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS hourly_aggregates (
	site_id TEXT NOT NULL REFERENCES sites (id),
	log_file_id TEXT NOT NULL REFERENCES log_files (id),
	hour_bucket TIMESTAMPTZ NOT NULL,
	requests_count INT NOT NULL,
	status_2xx INT NOT NULL,
	status_3xx INT NOT NULL,
	status_4xx INT NOT NULL,
	status_5xx INT NOT NULL,
	total_bytes BIGINT NOT NULL,
	unique_ips INT NOT NULL,
	unique_paths INT NOT NULL,
	top_paths JSONB NOT NULL DEFAULT '[]',
	top_ips JSONB NOT NULL DEFAULT '[]',
	top_user_agents JSONB NOT NULL DEFAULT '[]',
	top_status_codes JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (site_id, log_file_id, hour_bucket)
);
CREATE INDEX IF NOT EXISTS hourly_aggregates_site_hour
	ON hourly_aggregates (site_id, hour_bucket);

CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites (id),
	log_file_id TEXT NOT NULL REFERENCES log_files (id),
	finding_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	evidence JSONB NOT NULL DEFAULT '[]',
	suggested_action TEXT,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS findings_site
	ON findings (site_id, created_at);

CREATE TABLE IF NOT EXISTS error_groups (
	id TEXT PRIMARY KEY,
	site_id TEXT NOT NULL REFERENCES sites (id),
	fingerprint TEXT NOT NULL,
	error_type TEXT NOT NULL,
	error_message TEXT NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL,
	occurrence_count BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	resolved_at TIMESTAMPTZ,
	deployment_id TEXT,
	UNIQUE (site_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS error_occurrences (
	id TEXT PRIMARY KEY,
	error_group_id TEXT NOT NULL REFERENCES error_groups (id),
	log_file_id TEXT REFERENCES log_files (id),
	occurred_at TIMESTAMPTZ NOT NULL,
	error_type TEXT NOT NULL,
	error_message TEXT NOT NULL,
	stack_trace TEXT,
	file_path TEXT,
	line_number INT NOT NULL DEFAULT 0,
	function_name TEXT,
	request_url TEXT,
	request_method TEXT,
	user_id TEXT,
	ip_address TEXT,
	user_agent TEXT,
	context JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS error_occurrences_group
	ON error_occurrences (error_group_id, occurred_at);
`
