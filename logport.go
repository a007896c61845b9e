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

// Package logport defines constants shared across the log ingestion
// and analytics pipeline.
package logport

const (
	// Component is the name of the logging field that carries
	// the component name
	Component = "component"

	// ComponentParser is the access log parser
	ComponentParser = "parser"

	// ComponentAggregator is the hourly traffic aggregator
	ComponentAggregator = "aggregator"

	// ComponentDetector is the security rule detector
	ComponentDetector = "detector"

	// ComponentAnomaly is the statistical anomaly detector
	ComponentAnomaly = "anomaly"

	// ComponentErrorLog is the application error log parser
	ComponentErrorLog = "errlog"

	// ComponentFetcher is the remote log fetcher
	ComponentFetcher = "fetcher"

	// ComponentScheduler is the fetch scheduler
	ComponentScheduler = "scheduler"

	// ComponentJobs is the job runner
	ComponentJobs = "jobs"

	// ComponentWorker is the task queue worker loop
	ComponentWorker = "worker"

	// ComponentQueue is the task queue
	ComponentQueue = "queue"

	// ComponentStorage is the object storage client
	ComponentStorage = "storage"

	// ComponentStore is the relational job store
	ComponentStore = "store"

	// ComponentService is the top level service supervisor
	ComponentService = "service"
)

const (
	// TaskFetchLogs pulls log files from a remote source into
	// object storage and enqueues parse jobs for them
	TaskFetchLogs = "fetch_logs_from_source"

	// TaskParseLogFile runs the parse/aggregate/detect pipeline
	// over one uploaded log file
	TaskParseLogFile = "parse_log_file"

	// TaskAnalyzeErrors runs error log parsing and grouping over
	// one uploaded log file
	TaskAnalyzeErrors = "analyze_error_logs"

	// TaskTestConnection verifies a log source's connection
	// settings without fetching
	TaskTestConnection = "test_source_connection"
)

const (
	// TopNItems is how many entries top-K rollups keep
	TopNItems = 10

	// MaxEvidenceSamples caps evidence lines attached to a finding
	MaxEvidenceSamples = 5

	// MaxFailedLineSamples caps parse error samples kept per file
	MaxFailedLineSamples = 10

	// MinParseSuccessRate is the parsed/non-empty ratio under which
	// a parse result is flagged as a likely format mismatch
	MinParseSuccessRate = 0.8

	// RedactedValue replaces sensitive connection fields on egress
	RedactedValue = "***REDACTED***"
)
