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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/aggregate"
	"github.com/gravitational/logport/lib/store"
	"github.com/gravitational/logport/lib/types"
)

func newTestWorker(t *testing.T, env *testEnv) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{
		Runner: env.runner,
		Queue:  env.queue,
		Name:   "test",
	})
	require.NoError(t, err)
	return w
}

func TestWorkerProcessesParseTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	w := newTestWorker(t, env)

	line := logLine("192.168.1.1", time.Date(2026, 1, 21, 10, 30, 0, 0, time.UTC),
		"GET", "/", 200, 100)
	jobID := env.seedParseJob(t, line+"\n")
	_, err := env.queue.Enqueue(ctx, logport.TaskParseLogFile, map[string]string{"job_id": jobID})
	require.NoError(t, err)

	task, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	w.process(ctx, task)

	job, err := env.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, job.Status)
	require.Zero(t, env.queue.Len())
}

func TestWorkerDropsPermanentFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	w := newTestWorker(t, env)

	// job points at a missing file: redelivery cannot help
	require.NoError(t, env.store.CreateJob(ctx, types.Job{
		ID: "job-1", LogFileID: "missing-file", Type: types.JobParse, Status: types.JobPending,
	}))
	_, err := env.queue.Enqueue(ctx, logport.TaskParseLogFile, map[string]string{"job_id": "job-1"})
	require.NoError(t, err)

	task, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	w.process(ctx, task)
	require.Zero(t, env.queue.Len())

	job, err := env.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, job.Status)
}

func TestWorkerDropsUnknownTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	w := newTestWorker(t, env)

	_, err := env.queue.Enqueue(ctx, "no_such_task", nil)
	require.NoError(t, err)

	task, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	w.process(ctx, task)
	require.Zero(t, env.queue.Len())
}

// flakyStore fails SaveAnalysis a configured number of times to
// exercise the redelivery path.
type flakyStore struct {
	*store.MemoryStore
	failures int
}

func (s *flakyStore) SaveAnalysis(ctx context.Context, siteID, logFileID string, buckets []aggregate.BucketSummary, findings []types.Finding) error {
	if s.failures > 0 {
		s.failures--
		return trace.ConnectionProblem(nil, "database hiccup")
	}
	return s.MemoryStore.SaveAnalysis(ctx, siteID, logFileID, buckets, findings)
}

func TestWorkerNacksTransientFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	flaky := &flakyStore{MemoryStore: env.store, failures: 1}
	runner, err := NewRunner(Config{
		Store:   flaky,
		Objects: env.objects,
		Queue:   env.queue,
		Clock:   env.clock,
	})
	require.NoError(t, err)
	w, err := NewWorker(WorkerConfig{Runner: runner, Queue: env.queue})
	require.NoError(t, err)

	line := logLine("192.168.1.1", time.Date(2026, 1, 21, 10, 30, 0, 0, time.UTC),
		"GET", "/", 200, 100)
	jobID := env.seedParseJob(t, line+"\n")
	_, err = env.queue.Enqueue(ctx, logport.TaskParseLogFile, map[string]string{"job_id": jobID})
	require.NoError(t, err)

	// first delivery hits the transient failure and is nacked
	task, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	w.process(ctx, task)
	require.Equal(t, 1, env.queue.Len())

	job, err := env.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, job.Status)

	// redelivery succeeds
	task, err = env.queue.Dequeue(ctx)
	require.NoError(t, err)
	w.process(ctx, task)
	require.Zero(t, env.queue.Len())

	job, err = env.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, job.Status)
}
