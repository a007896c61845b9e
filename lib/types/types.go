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

// Package types defines the entities persisted and exchanged by the
// log ingestion pipeline: sites, sources, files, jobs, findings and
// error groups.
package types

import (
	"time"

	"github.com/gravitational/trace"
)

// LogFormat names a supported access log format.
type LogFormat string

const (
	// FormatNginxCombined is the nginx combined access log format
	FormatNginxCombined LogFormat = "nginx_combined"
	// FormatApacheCombined is the apache combined access log format
	FormatApacheCombined LogFormat = "apache_combined"
)

// SourceType says which fetcher a log source uses.
type SourceType string

const (
	// SourceSSH fetches over an SSH session (SFTP subsystem)
	SourceSSH SourceType = "ssh"
	// SourceSFTP fetches over SFTP
	SourceSFTP SourceType = "sftp"
	// SourceS3 fetches from an S3 compatible bucket
	SourceS3 SourceType = "s3"
	// SourceGCS fetches from a Google Cloud Storage bucket
	SourceGCS SourceType = "gcs"
	// SourceLocal fetches from a directory on the worker host
	SourceLocal SourceType = "local"
)

// SourceStatus is the lifecycle state of a log source.
type SourceStatus string

const (
	SourceStatusActive SourceStatus = "active"
	SourceStatusPaused SourceStatus = "paused"
	SourceStatusError  SourceStatus = "error"
)

// ScheduleType selects how fetch due times are computed.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// FetchStatus records the outcome of the most recent fetch.
type FetchStatus string

const (
	FetchStatusSuccess FetchStatus = "success"
	FetchStatusError   FetchStatus = "error"
)

// Schedule tells the scheduler when a source is due.
type Schedule struct {
	// Type is interval or cron
	Type ScheduleType `json:"type"`
	// IntervalMinutes spaces fetches for interval schedules
	IntervalMinutes int `json:"interval_minutes,omitempty"`
	// Cron is a standard five field cron expression
	Cron string `json:"cron,omitempty"`
}

// Check validates the schedule.
func (s Schedule) Check() error {
	switch s.Type {
	case ScheduleInterval:
		if s.IntervalMinutes <= 0 {
			return trace.BadParameter("interval schedule requires interval_minutes > 0")
		}
	case ScheduleCron:
		if s.Cron == "" {
			return trace.BadParameter("cron schedule requires an expression")
		}
	default:
		return trace.BadParameter("unknown schedule type %q", s.Type)
	}
	return nil
}

// LogSource is a remote location logs are fetched from on a schedule.
type LogSource struct {
	ID     string       `json:"id"`
	SiteID string       `json:"site_id"`
	Name   string       `json:"name"`
	Type   SourceType   `json:"source_type"`
	Status SourceStatus `json:"status"`

	// ConnectionConfig holds fetcher settings (host, credentials,
	// paths). It is opaque to the pipeline and must be redacted
	// before leaving the process.
	ConnectionConfig map[string]any `json:"connection_config"`

	Schedule Schedule `json:"schedule"`

	LastFetchAt      *time.Time  `json:"last_fetch_at,omitempty"`
	LastFetchStatus  FetchStatus `json:"last_fetch_status,omitempty"`
	LastFetchError   string      `json:"last_fetch_error,omitempty"`
	LastFetchedBytes int64       `json:"last_fetched_bytes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Site is the owner of log files and findings. The pipeline only
// needs its declared access log format.
type Site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	LogFormat LogFormat `json:"log_format"`
}

// LogFileStatus tracks an uploaded file through the pipeline.
type LogFileStatus string

const (
	LogFilePendingUpload LogFileStatus = "pending_upload"
	LogFileUploaded      LogFileStatus = "uploaded"
	LogFileProcessing    LogFileStatus = "processing"
	LogFileProcessed     LogFileStatus = "processed"
	LogFileFailed        LogFileStatus = "failed"
)

// LogFile is one uploaded log file held in object storage.
type LogFile struct {
	ID         string        `json:"id"`
	SiteID     string        `json:"site_id"`
	SourceID   string        `json:"source_id,omitempty"`
	Filename   string        `json:"filename"`
	SizeBytes  int64         `json:"size_bytes"`
	SHA256     string        `json:"sha256"`
	StorageKey string        `json:"storage_key"`
	Status     LogFileStatus `json:"status"`
	UploadedAt time.Time     `json:"uploaded_at"`
}

// JobType is the kind of background job.
type JobType string

const (
	JobParse   JobType = "parse"
	JobDetect  JobType = "detect"
	JobAnomaly JobType = "anomaly"
	JobExplain JobType = "explain"
)

// JobStatus is the job state machine state.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one unit of pipeline work over a log file. Progress moves
// through fixed milestones and never decreases.
type Job struct {
	ID            string     `json:"id"`
	LogFileID     string     `json:"log_file_id"`
	Type          JobType    `json:"type"`
	Status        JobStatus  `json:"status"`
	Progress      int        `json:"progress"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ResultSummary string     `json:"result_summary,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Severity ranks findings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Evidence is one sample attached to a finding. Security findings
// carry {"line": n, "raw": s} pairs; anomaly findings carry the
// observed hour and values.
type Evidence map[string]any

// FindingCandidate is a detector result not yet persisted. Detectors
// emit candidates; the job runner attaches file and site identity and
// stores them as findings.
type FindingCandidate struct {
	Type            string         `json:"finding_type"`
	Severity        Severity       `json:"severity"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Evidence        []Evidence     `json:"evidence"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
	Metadata        map[string]any `json:"metadata"`
}

// Finding is a persisted finding row.
type Finding struct {
	ID        string    `json:"id"`
	SiteID    string    `json:"site_id"`
	LogFileID string    `json:"log_file_id"`
	CreatedAt time.Time `json:"created_at"`
	FindingCandidate
}

// ErrorGroupStatus is the triage state of an error group.
type ErrorGroupStatus string

const (
	ErrorGroupUnresolved ErrorGroupStatus = "unresolved"
	ErrorGroupResolved   ErrorGroupStatus = "resolved"
	ErrorGroupIgnored    ErrorGroupStatus = "ignored"
)

// ErrorGroup collects recurring application errors that share a
// fingerprint. (SiteID, Fingerprint) is unique.
type ErrorGroup struct {
	ID              string           `json:"id"`
	SiteID          string           `json:"site_id"`
	Fingerprint     string           `json:"fingerprint"`
	ErrorType       string           `json:"error_type"`
	ErrorMessage    string           `json:"error_message"`
	FirstSeen       time.Time        `json:"first_seen"`
	LastSeen        time.Time        `json:"last_seen"`
	OccurrenceCount int64            `json:"occurrence_count"`
	Status          ErrorGroupStatus `json:"status"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
	DeploymentID    string           `json:"deployment_id,omitempty"`
}

// ErrorOccurrence is one observed instance of a grouped error.
type ErrorOccurrence struct {
	ID            string            `json:"id"`
	GroupID       string            `json:"error_group_id"`
	LogFileID     string            `json:"log_file_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	ErrorType     string            `json:"error_type"`
	ErrorMessage  string            `json:"error_message"`
	StackTrace    string            `json:"stack_trace,omitempty"`
	FilePath      string            `json:"file_path,omitempty"`
	LineNumber    int               `json:"line_number,omitempty"`
	FunctionName  string            `json:"function_name,omitempty"`
	RequestURL    string            `json:"request_url,omitempty"`
	RequestMethod string            `json:"request_method,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
}
