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

// Package queue carries named tasks from the scheduler and API to the
// workers. Delivery is at-least-once: a task is acknowledged only
// after the worker finished it, and a lost worker's tasks are
// redelivered.
package queue

import (
	"context"
	"time"
)

// Task is one unit of queued work.
type Task struct {
	// ID identifies the task instance for acknowledgment
	ID string `json:"id"`
	// Name selects the handler, one of the logport.Task* constants
	Name string `json:"name"`
	// Args carries the task parameters, e.g. a source or job ID
	Args map[string]string `json:"args,omitempty"`
	// EnqueuedAt is when the task entered the queue, UTC
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a durable task queue with late acknowledgment.
type Queue interface {
	// Enqueue adds a named task and returns its ID
	Enqueue(ctx context.Context, name string, args map[string]string) (string, error)
	// Dequeue blocks until a task is available or the context is
	// canceled. The task stays in flight until Ack or Nack.
	Dequeue(ctx context.Context) (*Task, error)
	// Ack marks the task done and removes it permanently
	Ack(ctx context.Context, task *Task) error
	// Nack returns the task to the queue for redelivery
	Nack(ctx context.Context, task *Task) error
}
