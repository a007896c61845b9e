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

// Package store persists pipeline state: sites, sources, files, jobs,
// hourly aggregates, findings and error groups. The Postgres
// implementation backs production, the memory implementation backs
// tests and the local profile.
package store

import (
	"context"
	"time"

	"github.com/gravitational/logport/lib/aggregate"
	"github.com/gravitational/logport/lib/anomaly"
	"github.com/gravitational/logport/lib/types"
)

// JobStore is the persistence surface of the job pipeline. Get methods
// return trace.NotFound for unknown IDs; Create methods return
// trace.AlreadyExists on duplicate IDs.
type JobStore interface {
	// GetSite returns the site by ID.
	GetSite(ctx context.Context, id string) (types.Site, error)

	// GetLogSource returns the source by ID.
	GetLogSource(ctx context.Context, id string) (types.LogSource, error)
	// CreateLogSource inserts a new source.
	CreateLogSource(ctx context.Context, source types.LogSource) error
	// UpdateLogSource replaces the stored source.
	UpdateLogSource(ctx context.Context, source types.LogSource) error
	// ListActiveSources returns all sources in the active state.
	ListActiveSources(ctx context.Context) ([]types.LogSource, error)

	// GetLogFile returns the file by ID.
	GetLogFile(ctx context.Context, id string) (types.LogFile, error)
	// CreateLogFile inserts a new file record.
	CreateLogFile(ctx context.Context, file types.LogFile) error
	// UpdateLogFile replaces the stored file record.
	UpdateLogFile(ctx context.Context, file types.LogFile) error

	// GetJob returns the job by ID.
	GetJob(ctx context.Context, id string) (types.Job, error)
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job types.Job) error
	// UpdateJob replaces the stored job.
	UpdateJob(ctx context.Context, job types.Job) error

	// UpsertAggregates stores one row per (site, logfile, hour),
	// replacing any prior rows for the same logfile.
	UpsertAggregates(ctx context.Context, siteID, logFileID string, buckets []aggregate.BucketSummary) error
	// InsertFindings stores the findings.
	InsertFindings(ctx context.Context, findings []types.Finding) error
	// SaveAnalysis stores a file's aggregates and findings in one
	// transaction, replacing the file's prior aggregates.
	SaveAnalysis(ctx context.Context, siteID, logFileID string, buckets []aggregate.BucketSummary, findings []types.Finding) error
	// LoadBaselineSnapshots returns the site's hourly snapshots with
	// hour >= fromHour, ordered by hour ascending.
	LoadBaselineSnapshots(ctx context.Context, siteID string, fromHour time.Time) ([]anomaly.Snapshot, error)

	// UpsertErrorGroup inserts the group or, when (site, fingerprint)
	// exists, widens its first/last seen range and adds the occurrence
	// count. Returns the stored group.
	UpsertErrorGroup(ctx context.Context, group types.ErrorGroup) (types.ErrorGroup, error)
	// InsertOccurrences appends error occurrence rows.
	InsertOccurrences(ctx context.Context, occurrences []types.ErrorOccurrence) error
}
