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

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport"
)

func TestMemoryQueueOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(clockwork.NewFakeClock())

	id1, err := q.Enqueue(ctx, logport.TaskFetchLogs, map[string]string{"source_id": "a"})
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, logport.TaskParseLogFile, map[string]string{"job_id": "b"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, id1, task.ID)
	require.Equal(t, logport.TaskFetchLogs, task.Name)
	require.Equal(t, "a", task.Args["source_id"])
	require.NoError(t, q.Ack(ctx, task))

	task, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, id2, task.ID)
	require.NoError(t, q.Ack(ctx, task))
	require.Zero(t, q.Len())
}

func TestMemoryQueueNackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(nil)

	_, err := q.Enqueue(ctx, logport.TaskAnalyzeErrors, nil)
	require.NoError(t, err)

	task, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Zero(t, q.Len())

	require.NoError(t, q.Nack(ctx, task))
	require.Equal(t, 1, q.Len())

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, task.ID, again.ID)
}

func TestMemoryQueueDequeueCanceled(t *testing.T) {
	q := NewMemoryQueue(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
}

func TestMemoryQueueBlocksUntilEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(nil)

	done := make(chan *Task, 1)
	go func() {
		task, err := q.Dequeue(ctx)
		require.NoError(t, err)
		done <- task
	}()

	time.Sleep(10 * time.Millisecond)
	id, err := q.Enqueue(ctx, logport.TaskTestConnection, nil)
	require.NoError(t, err)

	select {
	case task := <-done:
		require.Equal(t, id, task.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not wake up")
	}
}
