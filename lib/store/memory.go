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

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/logport/lib/aggregate"
	"github.com/gravitational/logport/lib/anomaly"
	"github.com/gravitational/logport/lib/types"
)

// aggregateRow is one stored hourly aggregate.
type aggregateRow struct {
	siteID    string
	logFileID string
	bucket    aggregate.BucketSummary
}

// MemoryStore is an in-process JobStore for tests and the local
// profile.
type MemoryStore struct {
	clock clockwork.Clock

	mu          sync.Mutex
	sites       map[string]types.Site
	sources     map[string]types.LogSource
	files       map[string]types.LogFile
	jobs        map[string]types.Job
	aggregates  []aggregateRow
	findings    []types.Finding
	groups      map[string]types.ErrorGroup
	occurrences []types.ErrorOccurrence
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock:   clock,
		sites:   make(map[string]types.Site),
		sources: make(map[string]types.LogSource),
		files:   make(map[string]types.LogFile),
		jobs:    make(map[string]types.Job),
		groups:  make(map[string]types.ErrorGroup),
	}
}

func cloneSource(source types.LogSource) types.LogSource {
	source.ConnectionConfig = maps.Clone(source.ConnectionConfig)
	return source
}

// CreateSite inserts a site.
func (s *MemoryStore) CreateSite(ctx context.Context, site types.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sites[site.ID]; ok {
		return trace.AlreadyExists("site %q already exists", site.ID)
	}
	s.sites[site.ID] = site
	return nil
}

// GetSite returns the site by ID.
func (s *MemoryStore) GetSite(ctx context.Context, id string) (types.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return types.Site{}, trace.NotFound("site %q not found", id)
	}
	return site, nil
}

// GetLogSource returns the source by ID.
func (s *MemoryStore) GetLogSource(ctx context.Context, id string) (types.LogSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return types.LogSource{}, trace.NotFound("log source %q not found", id)
	}
	return cloneSource(source), nil
}

// CreateLogSource inserts a new source.
func (s *MemoryStore) CreateLogSource(ctx context.Context, source types.LogSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[source.ID]; ok {
		return trace.AlreadyExists("log source %q already exists", source.ID)
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = s.clock.Now().UTC()
	}
	source.UpdatedAt = s.clock.Now().UTC()
	s.sources[source.ID] = cloneSource(source)
	return nil
}

// UpdateLogSource replaces the stored source.
func (s *MemoryStore) UpdateLogSource(ctx context.Context, source types.LogSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sources[source.ID]
	if !ok {
		return trace.NotFound("log source %q not found", source.ID)
	}
	source.CreatedAt = stored.CreatedAt
	source.UpdatedAt = s.clock.Now().UTC()
	s.sources[source.ID] = cloneSource(source)
	return nil
}

// ListActiveSources returns all sources in the active state ordered by
// creation time.
func (s *MemoryStore) ListActiveSources(ctx context.Context) ([]types.LogSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sources []types.LogSource
	for _, source := range s.sources {
		if source.Status == types.SourceStatusActive {
			sources = append(sources, cloneSource(source))
		}
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].CreatedAt.Before(sources[j].CreatedAt)
	})
	return sources, nil
}

// GetLogFile returns the file by ID.
func (s *MemoryStore) GetLogFile(ctx context.Context, id string) (types.LogFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[id]
	if !ok {
		return types.LogFile{}, trace.NotFound("log file %q not found", id)
	}
	return file, nil
}

// CreateLogFile inserts a new file record.
func (s *MemoryStore) CreateLogFile(ctx context.Context, file types.LogFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[file.ID]; ok {
		return trace.AlreadyExists("log file %q already exists", file.ID)
	}
	s.files[file.ID] = file
	return nil
}

// UpdateLogFile replaces the stored file record.
func (s *MemoryStore) UpdateLogFile(ctx context.Context, file types.LogFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[file.ID]; !ok {
		return trace.NotFound("log file %q not found", file.ID)
	}
	s.files[file.ID] = file
	return nil
}

// GetJob returns the job by ID.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return types.Job{}, trace.NotFound("job %q not found", id)
	}
	return job, nil
}

// CreateJob inserts a new job.
func (s *MemoryStore) CreateJob(ctx context.Context, job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return trace.AlreadyExists("job %q already exists", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now().UTC()
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces the stored job.
func (s *MemoryStore) UpdateJob(ctx context.Context, job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return trace.NotFound("job %q not found", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) replaceAggregates(siteID, logFileID string, buckets []aggregate.BucketSummary) {
	kept := s.aggregates[:0]
	for _, row := range s.aggregates {
		if row.logFileID != logFileID {
			kept = append(kept, row)
		}
	}
	s.aggregates = kept
	for i := range buckets {
		s.aggregates = append(s.aggregates, aggregateRow{
			siteID:    siteID,
			logFileID: logFileID,
			bucket:    buckets[i],
		})
	}
}

// UpsertAggregates stores one row per (site, logfile, hour), replacing
// any prior rows for the same logfile.
func (s *MemoryStore) UpsertAggregates(ctx context.Context, siteID, logFileID string, buckets []aggregate.BucketSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceAggregates(siteID, logFileID, buckets)
	return nil
}

// InsertFindings stores the findings.
func (s *MemoryStore) InsertFindings(ctx context.Context, findings []types.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, findings...)
	return nil
}

// SaveAnalysis stores aggregates and findings together.
func (s *MemoryStore) SaveAnalysis(ctx context.Context, siteID, logFileID string, buckets []aggregate.BucketSummary, findings []types.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceAggregates(siteID, logFileID, buckets)
	s.findings = append(s.findings, findings...)
	return nil
}

// Findings returns all stored findings. Test helper.
func (s *MemoryStore) Findings() []types.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// LoadBaselineSnapshots returns the site's hourly snapshots with
// hour >= fromHour, ordered by hour ascending.
func (s *MemoryStore) LoadBaselineSnapshots(ctx context.Context, siteID string, fromHour time.Time) ([]anomaly.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snapshots []anomaly.Snapshot
	for _, row := range s.aggregates {
		if row.siteID != siteID || row.bucket.Hour.Before(fromHour) {
			continue
		}
		snapshots = append(snapshots, anomaly.Snapshot{
			Hour:      row.bucket.Hour,
			Requests:  row.bucket.Requests,
			Status5xx: row.bucket.Status5xx,
			UniqueIPs: row.bucket.UniqueIPs,
			TopPaths:  row.bucket.TopPaths,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Hour.Before(snapshots[j].Hour)
	})
	return snapshots, nil
}

// UpsertErrorGroup inserts the group or widens the existing
// (site, fingerprint) row.
func (s *MemoryStore) UpsertErrorGroup(ctx context.Context, group types.ErrorGroup) (types.ErrorGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group.ID == "" {
		return types.ErrorGroup{}, trace.BadParameter("missing parameter ID")
	}
	key := group.SiteID + "\x00" + group.Fingerprint
	stored, ok := s.groups[key]
	if !ok {
		group.Status = types.ErrorGroupUnresolved
		s.groups[key] = group
		return group, nil
	}
	if group.FirstSeen.Before(stored.FirstSeen) {
		stored.FirstSeen = group.FirstSeen
	}
	if group.LastSeen.After(stored.LastSeen) {
		stored.LastSeen = group.LastSeen
	}
	stored.OccurrenceCount += group.OccurrenceCount
	s.groups[key] = stored
	return stored, nil
}

// InsertOccurrences appends error occurrence rows.
func (s *MemoryStore) InsertOccurrences(ctx context.Context, occurrences []types.ErrorOccurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.occurrences = append(s.occurrences, occurrences...)
	return nil
}

// Groups returns all stored error groups. Test helper.
func (s *MemoryStore) Groups() []types.ErrorGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ErrorGroup, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out
}

// Occurrences returns all stored occurrences. Test helper.
func (s *MemoryStore) Occurrences() []types.ErrorOccurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ErrorOccurrence, len(s.occurrences))
	copy(out, s.occurrences)
	return out
}
