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

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/queue"
	"github.com/gravitational/logport/lib/storage"
	"github.com/gravitational/logport/lib/store"
	"github.com/gravitational/logport/lib/types"
)

type testEnv struct {
	clock   *clockwork.FakeClock
	store   *store.MemoryStore
	objects *storage.MemoryStore
	queue   *queue.MemoryQueue
	runner  *Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 21, 12, 0, 0, 0, time.UTC))
	env := &testEnv{
		clock:   clock,
		store:   store.NewMemoryStore(clock),
		objects: storage.NewMemoryStore(),
		queue:   queue.NewMemoryQueue(clock),
	}
	runner, err := NewRunner(Config{
		Store:   env.store,
		Objects: env.objects,
		Queue:   env.queue,
		Clock:   clock,
	})
	require.NoError(t, err)
	env.runner = runner

	require.NoError(t, env.store.CreateSite(context.Background(), types.Site{
		ID:        "site-1",
		Name:      "example.com",
		LogFormat: types.FormatNginxCombined,
	}))
	return env
}

// seedParseJob uploads content and creates the file and pending parse
// job for it, returning the job ID.
func (e *testEnv) seedParseJob(t *testing.T, content string) string {
	t.Helper()
	ctx := context.Background()
	key := "sites/site-1/logs/manual/file-1/access.log"
	require.NoError(t, e.objects.Put(ctx, key, []byte(content)))
	require.NoError(t, e.store.CreateLogFile(ctx, types.LogFile{
		ID:         "file-1",
		SiteID:     "site-1",
		Filename:   "access.log",
		SizeBytes:  int64(len(content)),
		StorageKey: key,
		Status:     types.LogFileUploaded,
		UploadedAt: e.clock.Now().UTC(),
	}))
	require.NoError(t, e.store.CreateJob(ctx, types.Job{
		ID:        "job-1",
		LogFileID: "file-1",
		Type:      types.JobParse,
		Status:    types.JobPending,
	}))
	return "job-1"
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func logLine(ip string, ts time.Time, method, path string, status, bytes int) string {
	return fmt.Sprintf(`%s - - [%s] "%s %s HTTP/1.1" %d %d "-" "Mozilla/5.0"`,
		ip, ts.Format("02/Jan/2006:15:04:05 -0700"), method, path, status, bytes)
}

func TestRunParseJobSingleLine(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	line := `192.168.1.1 - - [21/Jan/2026:10:30:00 +0000] "GET /api/users HTTP/1.1" 200 1234 "https://example.com" "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"`
	jobID := env.seedParseJob(t, line+"\n")

	require.NoError(t, env.runner.RunParseJob(ctx, jobID))

	job, err := env.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, job.Status)
	require.Equal(t, 100, job.Progress)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	file, err := env.store.GetLogFile(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, types.LogFileProcessed, file.Status)

	var summary resultSummary
	require.NoError(t, json.Unmarshal([]byte(job.ResultSummary), &summary))
	require.Equal(t, "completed", summary.Status)
	require.Equal(t, "file-1", summary.LogFileID)
	require.Equal(t, 1, summary.ParseStats.ParsedLines)
	require.False(t, summary.LowSuccessRate)
	require.Empty(t, summary.Findings)

	require.Len(t, summary.Aggregation.HourlyData, 1)
	bucket := summary.Aggregation.HourlyData[0]
	require.Equal(t, time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC), bucket.Hour)
	require.Equal(t, 1, bucket.Requests)
	require.Equal(t, 1, bucket.Status2xx)
	require.Equal(t, 1, bucket.UniqueIPs)
	require.Equal(t, "/api/users", bucket.TopPaths[0].Path)

	// aggregates landed in the store
	snaps, err := env.store.LoadBaselineSnapshots(ctx, "site-1", time.Time{})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, 1, snaps[0].Requests)
}

func TestRunParseJobSecurityFindings(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	base := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)
	var lines []string
	for i := 0; i < 8; i++ {
		lines = append(lines, logLine("10.0.0.5", base.Add(time.Duration(i)*time.Second),
			"GET", "/../../etc/passwd", 404, 153))
	}
	for i := 0; i < 2; i++ {
		lines = append(lines, logLine("10.0.0.5", base.Add(time.Duration(8+i)*time.Second),
			"GET", "/.env", 404, 153))
	}
	jobID := env.seedParseJob(t, strings.Join(lines, "\n")+"\n")

	require.NoError(t, env.runner.RunParseJob(ctx, jobID))

	byType := make(map[string]types.Finding)
	for _, f := range env.store.Findings() {
		byType[f.Type] = f
	}
	traversal, ok := byType["path_traversal"]
	require.True(t, ok, "expected a path_traversal finding")
	require.Equal(t, types.SeverityHigh, traversal.Severity)
	require.Equal(t, "10.0.0.5", traversal.Metadata["source_ip"])
	require.EqualValues(t, 8, traversal.Metadata["count"])
	require.LessOrEqual(t, len(traversal.Evidence), logport.MaxEvidenceSamples)

	envFile, ok := byType["env_file_access"]
	require.True(t, ok, "expected an env_file_access finding")
	require.Equal(t, types.SeverityCritical, envFile.Severity)
	require.EqualValues(t, 2, envFile.Metadata["count"])

	require.Equal(t, "site-1", traversal.SiteID)
	require.Equal(t, "file-1", traversal.LogFileID)
}

func TestRunParseJobBurst(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	base := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)
	var lines []string
	for i := 0; i < 12; i++ {
		lines = append(lines, logLine("1.2.3.4", base.Add(time.Duration(i*40)*time.Second),
			"GET", fmt.Sprintf("/missing-%d", i), 404, 153))
	}
	jobID := env.seedParseJob(t, strings.Join(lines, "\n")+"\n")

	require.NoError(t, env.runner.RunParseJob(ctx, jobID))

	var burst *types.Finding
	for _, f := range env.store.Findings() {
		if f.Type == "burst_404" {
			burst = &f
			break
		}
	}
	require.NotNil(t, burst, "expected a burst_404 finding")
	require.Equal(t, types.SeverityMedium, burst.Severity)
	require.LessOrEqual(t, len(burst.Evidence), logport.MaxEvidenceSamples)
	count, ok := burst.Metadata["count"].(int)
	require.True(t, ok)
	require.GreaterOrEqual(t, count, 10)
}

func TestRunParseJobFormatMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	jobID := env.seedParseJob(t, "this is not an access log\nneither is this\n")

	err := env.runner.RunParseJob(ctx, jobID)
	require.True(t, trace.IsBadParameter(err))

	job, err := env.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, job.Status)
	require.Contains(t, job.ErrorMessage, "format")

	file, err := env.store.GetLogFile(ctx, "file-1")
	require.NoError(t, err)
	require.Equal(t, types.LogFileFailed, file.Status)
}

func TestRunParseJobMissingObject(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.CreateLogFile(ctx, types.LogFile{
		ID:         "file-1",
		SiteID:     "site-1",
		Filename:   "gone.log",
		StorageKey: "sites/site-1/gone",
		Status:     types.LogFileUploaded,
	}))
	require.NoError(t, env.store.CreateJob(ctx, types.Job{
		ID: "job-1", LogFileID: "file-1", Type: types.JobParse, Status: types.JobPending,
	}))

	err := env.runner.RunParseJob(ctx, "job-1")
	require.True(t, trace.IsNotFound(err))

	job, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, job.Status)
}

func TestRunParseJobCompletedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	line := logLine("192.168.1.1", time.Date(2026, 1, 21, 10, 30, 0, 0, time.UTC),
		"GET", "/", 200, 100)
	jobID := env.seedParseJob(t, line+"\n")

	require.NoError(t, env.runner.RunParseJob(ctx, jobID))
	findings := len(env.store.Findings())

	// a redelivered completed job is a no-op
	require.NoError(t, env.runner.RunParseJob(ctx, jobID))
	require.Len(t, env.store.Findings(), findings)
}

func TestRunFetchLocalSource(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	dir := t.TempDir()
	line := logLine("192.168.1.1", time.Date(2026, 1, 21, 10, 30, 0, 0, time.UTC),
		"GET", "/api/users", 200, 1234)
	require.NoError(t, writeFile(dir+"/access.log", line+"\n"))

	require.NoError(t, env.store.CreateLogSource(ctx, types.LogSource{
		ID:     "src-1",
		SiteID: "site-1",
		Name:   "local logs",
		Type:   types.SourceLocal,
		Status: types.SourceStatusActive,
		ConnectionConfig: map[string]any{
			"path":    dir,
			"pattern": "access.log",
		},
		Schedule: types.Schedule{Type: types.ScheduleInterval, IntervalMinutes: 60},
	}))

	require.NoError(t, env.runner.RunFetch(ctx, "src-1"))

	source, err := env.store.GetLogSource(ctx, "src-1")
	require.NoError(t, err)
	require.Equal(t, types.FetchStatusSuccess, source.LastFetchStatus)
	require.NotNil(t, source.LastFetchAt)
	require.Empty(t, source.LastFetchError)
	require.EqualValues(t, len(line)+1, source.LastFetchedBytes)

	// the fetched file got a pending parse job and queued task
	task, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, logport.TaskParseLogFile, task.Name)

	job, err := env.store.GetJob(ctx, task.Args["job_id"])
	require.NoError(t, err)
	require.Equal(t, types.JobParse, job.Type)
	require.Equal(t, types.JobPending, job.Status)

	file, err := env.store.GetLogFile(ctx, job.LogFileID)
	require.NoError(t, err)
	require.Equal(t, "access.log", file.Filename)
	require.Len(t, file.SHA256, 64)
	require.Equal(t, types.LogFileUploaded, file.Status)

	// and the parse job completes over the stored bytes
	require.NoError(t, env.runner.RunParseJob(ctx, job.ID))
	job, err = env.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, job.Status)
}

func TestRunFetchRecordsFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.CreateLogSource(ctx, types.LogSource{
		ID:     "src-1",
		SiteID: "site-1",
		Name:   "broken",
		Type:   types.SourceLocal,
		Status: types.SourceStatusActive,
		ConnectionConfig: map[string]any{
			"path": t.TempDir() + "/does-not-exist",
		},
		Schedule: types.Schedule{Type: types.ScheduleInterval, IntervalMinutes: 60},
	}))

	// fetch errors are recorded, not raised: the schedule retries
	require.NoError(t, env.runner.RunFetch(ctx, "src-1"))

	source, err := env.store.GetLogSource(ctx, "src-1")
	require.NoError(t, err)
	require.Equal(t, types.FetchStatusError, source.LastFetchStatus)
	require.NotEmpty(t, source.LastFetchError)
	require.NotNil(t, source.LastFetchAt)
}

func TestTestSourceConnection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	dir := t.TempDir()
	require.NoError(t, env.store.CreateLogSource(ctx, types.LogSource{
		ID:               "src-1",
		SiteID:           "site-1",
		Name:             "local",
		Type:             types.SourceLocal,
		Status:           types.SourceStatusActive,
		ConnectionConfig: map[string]any{"path": dir},
		Schedule:         types.Schedule{Type: types.ScheduleInterval, IntervalMinutes: 60},
	}))

	require.NoError(t, env.runner.TestSourceConnection(ctx, "src-1"))
	source, err := env.store.GetLogSource(ctx, "src-1")
	require.NoError(t, err)
	require.Equal(t, types.FetchStatusSuccess, source.LastFetchStatus)
}

func TestRunErrorAnalysis(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	content := `2026-01-21 10:00:00,123 ERROR: Something bad happened
Traceback (most recent call last):
  File "/app/handlers.py", line 42, in handle
    raise ValueError("bad id 123")
ValueError: bad id 123

2026-01-21 10:05:00,456 ERROR: Something bad happened
Traceback (most recent call last):
  File "/app/handlers.py", line 42, in handle
    raise ValueError("bad id 7")
ValueError: bad id 7
`
	key := "sites/site-1/logs/manual/file-1/app-error.log"
	require.NoError(t, env.objects.Put(ctx, key, []byte(content)))
	require.NoError(t, env.store.CreateLogFile(ctx, types.LogFile{
		ID:         "file-1",
		SiteID:     "site-1",
		Filename:   "app-error.log",
		SizeBytes:  int64(len(content)),
		StorageKey: key,
		Status:     types.LogFileUploaded,
		UploadedAt: env.clock.Now().UTC(),
	}))
	require.NoError(t, env.store.CreateJob(ctx, types.Job{
		ID: "job-1", LogFileID: "file-1", Type: types.JobDetect, Status: types.JobPending,
	}))

	require.NoError(t, env.runner.RunErrorAnalysis(ctx, "job-1"))

	job, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, job.Status)
	require.Equal(t, 100, job.Progress)

	var summary errorSummary
	require.NoError(t, json.Unmarshal([]byte(job.ResultSummary), &summary))
	// both records normalize to the same fingerprint
	require.Equal(t, 1, summary.Groups)
	require.Equal(t, 2, summary.Occurrences)

	occurrences := env.store.Occurrences()
	require.Len(t, occurrences, 2)
	require.Equal(t, "ValueError", occurrences[0].ErrorType)
	require.NotEmpty(t, occurrences[0].GroupID)
	require.Equal(t, occurrences[0].GroupID, occurrences[1].GroupID)
	require.Equal(t, "/app/handlers.py", occurrences[0].FilePath)
	require.Equal(t, 42, occurrences[0].LineNumber)
}

func TestRunErrorAnalysisDistinctGroups(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	content := `Traceback (most recent call last):
  File "/app/handlers.py", line 42, in handle
    raise ValueError("bad id 123")
ValueError: bad id 123

Traceback (most recent call last):
  File "/app/billing.py", line 17, in charge
    raise KeyError("customer")
KeyError: customer
`
	key := "sites/site-1/logs/manual/file-1/app-error.log"
	require.NoError(t, env.objects.Put(ctx, key, []byte(content)))
	require.NoError(t, env.store.CreateLogFile(ctx, types.LogFile{
		ID:         "file-1",
		SiteID:     "site-1",
		Filename:   "app-error.log",
		SizeBytes:  int64(len(content)),
		StorageKey: key,
		Status:     types.LogFileUploaded,
		UploadedAt: env.clock.Now().UTC(),
	}))
	require.NoError(t, env.store.CreateJob(ctx, types.Job{
		ID: "job-1", LogFileID: "file-1", Type: types.JobDetect, Status: types.JobPending,
	}))

	require.NoError(t, env.runner.RunErrorAnalysis(ctx, "job-1"))

	job, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, job.Status)

	var summary errorSummary
	require.NoError(t, json.Unmarshal([]byte(job.ResultSummary), &summary))
	require.Equal(t, 2, summary.Groups)
	require.Equal(t, 2, summary.Occurrences)

	groups := env.store.Groups()
	require.Len(t, groups, 2)
	require.NotEmpty(t, groups[0].ID)
	require.NotEmpty(t, groups[1].ID)
	require.NotEqual(t, groups[0].ID, groups[1].ID)
	require.NotEqual(t, groups[0].Fingerprint, groups[1].Fingerprint)

	groupIDs := map[string]bool{groups[0].ID: true, groups[1].ID: true}
	occurrences := env.store.Occurrences()
	require.Len(t, occurrences, 2)
	for _, occurrence := range occurrences {
		require.True(t, groupIDs[occurrence.GroupID],
			"occurrence %v points at unknown group %q", occurrence.ID, occurrence.GroupID)
	}
}

func TestRunExplainNotImplemented(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.CreateLogFile(ctx, types.LogFile{
		ID: "file-1", SiteID: "site-1", Filename: "a.log", StorageKey: "k",
		Status: types.LogFileUploaded,
	}))
	require.NoError(t, env.store.CreateJob(ctx, types.Job{
		ID: "job-1", LogFileID: "file-1", Type: types.JobExplain, Status: types.JobPending,
	}))

	err := env.runner.RunExplain(ctx, "job-1")
	require.True(t, trace.IsNotImplemented(err))

	job, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, job.Status)
}
