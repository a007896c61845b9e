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

// Package defaults contains default constants set in various parts of
// the logport codebase
package defaults

import "time"

const (
	// SchedulerTick is the cadence at which the scheduler checks
	// sources for due fetches
	SchedulerTick = 60 * time.Second

	// MinFetchInterval is the smallest interval a source may be
	// fetched on
	MinFetchInterval = 5 * time.Minute

	// MaxFetchInterval is the largest interval a source may be
	// fetched on (one week)
	MaxFetchInterval = 7 * 24 * time.Hour
)

const (
	// SFTPConnectTimeout bounds the SSH dial when fetching over SFTP
	SFTPConnectTimeout = 10 * time.Second

	// FetchRetries is how many times a transient fetch failure is
	// retried before giving up
	FetchRetries = 2

	// FetchRetryDelay is the base spacing between fetch retries,
	// growing linearly per attempt
	FetchRetryDelay = 2 * time.Second

	// ObjectStoreTimeout bounds one object storage round trip
	ObjectStoreTimeout = 10 * time.Second

	// PresignExpiry is how long presigned URLs stay valid
	PresignExpiry = time.Hour
)

const (
	// JobTimeout is the hard limit on one queued task
	JobTimeout = time.Hour

	// WorkerCount is how many queue workers a worker process runs
	WorkerCount = 4

	// QueuePendingKey is the redis list holding enqueued tasks
	QueuePendingKey = "logport:tasks:pending"

	// QueueProcessingPrefix prefixes per-consumer in-flight lists
	QueueProcessingPrefix = "logport:tasks:processing:"
)

const (
	// BaselineDays is the span of history the anomaly detector
	// compares a target hour against
	BaselineDays = 7

	// MinBaselineHours is the fewest baseline snapshots required
	// before anomaly scoring runs
	MinBaselineHours = 24

	// ZScoreThreshold is the z-score at or above which a spike
	// becomes a finding
	ZScoreThreshold = 3.0

	// NewPathMinCount is the request count a previously unseen path
	// needs to count as a new endpoint burst
	NewPathMinCount = 20
)

const (
	// DiagnosticsAddr serves /metrics and /healthz
	DiagnosticsAddr = "127.0.0.1:3070"

	// ConfigFilePath is where the service looks for its
	// configuration unless overridden with --config
	ConfigFilePath = "/etc/logport.yaml"
)
