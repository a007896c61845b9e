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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport/lib/aggregate"
	"github.com/gravitational/logport/lib/types"
)

func TestMemoryStoreSources(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStore(clock)

	_, err := s.GetLogSource(ctx, "missing")
	require.True(t, trace.IsNotFound(err))

	source := types.LogSource{
		ID:     "src-1",
		SiteID: "site-1",
		Name:   "production nginx",
		Type:   types.SourceSFTP,
		Status: types.SourceStatusActive,
		ConnectionConfig: map[string]any{
			"host": "logs.example.com",
		},
		Schedule: types.Schedule{Type: types.ScheduleInterval, IntervalMinutes: 60},
	}
	require.NoError(t, s.CreateLogSource(ctx, source))
	require.True(t, trace.IsAlreadyExists(s.CreateLogSource(ctx, source)))

	paused := source
	paused.ID = "src-2"
	paused.Status = types.SourceStatusPaused
	clock.Advance(time.Minute)
	require.NoError(t, s.CreateLogSource(ctx, paused))

	active, err := s.ListActiveSources(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "src-1", active[0].ID)

	// stored config is isolated from the caller's map
	active[0].ConnectionConfig["host"] = "tampered"
	got, err := s.GetLogSource(ctx, "src-1")
	require.NoError(t, err)
	require.Equal(t, "logs.example.com", got.ConnectionConfig["host"])

	got.LastFetchStatus = types.FetchStatusSuccess
	require.NoError(t, s.UpdateLogSource(ctx, got))
	got, err = s.GetLogSource(ctx, "src-1")
	require.NoError(t, err)
	require.Equal(t, types.FetchStatusSuccess, got.LastFetchStatus)
}

func TestMemoryStoreJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(clockwork.NewFakeClock())

	job := types.Job{
		ID:        "job-1",
		LogFileID: "file-1",
		Type:      types.JobParse,
		Status:    types.JobPending,
	}
	require.NoError(t, s.CreateJob(ctx, job))

	stored, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, stored.CreatedAt.IsZero())

	stored.Status = types.JobProcessing
	stored.Progress = 20
	require.NoError(t, s.UpdateJob(ctx, stored))

	stored, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobProcessing, stored.Status)
	require.Equal(t, 20, stored.Progress)

	require.True(t, trace.IsNotFound(s.UpdateJob(ctx, types.Job{ID: "nope"})))
}

func TestMemoryStoreAggregatesReplaced(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	hour := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := []aggregate.BucketSummary{
		{Hour: hour, Requests: 100, UniqueIPs: 10},
		{Hour: hour.Add(time.Hour), Requests: 200, UniqueIPs: 20},
	}
	require.NoError(t, s.UpsertAggregates(ctx, "site-1", "file-1", first))

	// reprocessing the same file replaces its rows
	second := []aggregate.BucketSummary{
		{Hour: hour, Requests: 150, Status5xx: 5, UniqueIPs: 15},
	}
	require.NoError(t, s.UpsertAggregates(ctx, "site-1", "file-1", second))

	// another file's rows accumulate
	require.NoError(t, s.UpsertAggregates(ctx, "site-1", "file-2",
		[]aggregate.BucketSummary{{Hour: hour.Add(2 * time.Hour), Requests: 50}}))

	snaps, err := s.LoadBaselineSnapshots(ctx, "site-1", hour)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, hour, snaps[0].Hour)
	require.Equal(t, 150, snaps[0].Requests)
	require.Equal(t, 5, snaps[0].Status5xx)
	require.Equal(t, hour.Add(2*time.Hour), snaps[1].Hour)

	// fromHour excludes earlier buckets
	snaps, err = s.LoadBaselineSnapshots(ctx, "site-1", hour.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 1)
}

func TestMemoryStoreErrorGroupUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err := s.UpsertErrorGroup(ctx, types.ErrorGroup{
		SiteID:      "site-1",
		Fingerprint: "abc123",
	})
	require.True(t, trace.IsBadParameter(err), "group without an ID must be rejected")

	group, err := s.UpsertErrorGroup(ctx, types.ErrorGroup{
		ID:              "group-1",
		SiteID:          "site-1",
		Fingerprint:     "abc123",
		ErrorType:       "ValueError",
		ErrorMessage:    "bad id N",
		FirstSeen:       first,
		LastSeen:        first,
		OccurrenceCount: 3,
	})
	require.NoError(t, err)
	require.Equal(t, "group-1", group.ID)
	require.Equal(t, types.ErrorGroupUnresolved, group.Status)
	require.EqualValues(t, 3, group.OccurrenceCount)

	later := first.Add(2 * time.Hour)
	updated, err := s.UpsertErrorGroup(ctx, types.ErrorGroup{
		ID:              "group-2",
		SiteID:          "site-1",
		Fingerprint:     "abc123",
		ErrorType:       "ValueError",
		ErrorMessage:    "bad id N",
		FirstSeen:       later,
		LastSeen:        later,
		OccurrenceCount: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "group-1", updated.ID, "the stored row's identity wins on upsert")
	require.Equal(t, first, updated.FirstSeen)
	require.Equal(t, later, updated.LastSeen)
	require.EqualValues(t, 5, updated.OccurrenceCount)
}
