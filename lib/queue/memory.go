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
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// MemoryQueue is an in-process Queue used in tests and the local
// profile. Nack returns the task to the front of the queue, which is
// enough to exercise redelivery paths.
type MemoryQueue struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pending []*Task
	wake    chan struct{}
}

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue(clock clockwork.Clock) *MemoryQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryQueue{
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Enqueue adds a named task.
func (q *MemoryQueue) Enqueue(ctx context.Context, name string, args map[string]string) (string, error) {
	task := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       args,
		EnqueuedAt: q.clock.Now().UTC(),
	}
	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()
	q.signal()
	return task.ID, nil
}

// Dequeue blocks until a task is available or the context is
// canceled.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			task := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return task, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-ctx.Done():
			return nil, trace.Wrap(ctx.Err())
		}
	}
}

// Ack drops the task.
func (q *MemoryQueue) Ack(ctx context.Context, task *Task) error {
	return nil
}

// Nack puts the task back at the front of the queue.
func (q *MemoryQueue) Nack(ctx context.Context, task *Task) error {
	q.mu.Lock()
	q.pending = append([]*Task{task}, q.pending...)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Len returns the number of pending tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
