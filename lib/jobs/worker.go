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
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/defaults"
	"github.com/gravitational/logport/lib/queue"
	"github.com/gravitational/logport/lib/types"
)

// WorkerConfig configures one worker loop.
type WorkerConfig struct {
	// Runner executes the dispatched tasks
	Runner *Runner
	// Queue supplies the tasks
	Queue queue.Queue
	// TaskTimeout bounds one task execution
	TaskTimeout time.Duration
	// Name labels the worker in logs
	Name string
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *WorkerConfig) CheckAndSetDefaults() error {
	if c.Runner == nil {
		return trace.BadParameter("missing parameter Runner")
	}
	if c.Queue == nil {
		return trace.BadParameter("missing parameter Queue")
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = defaults.JobTimeout
	}
	if c.Name == "" {
		c.Name = "worker"
	}
	return nil
}

// Worker runs tasks from the queue one at a time with late
// acknowledgment: a task is acked only after its handler finished, so a
// lost worker's tasks redeliver.
type Worker struct {
	cfg WorkerConfig
	*log.Entry
}

// NewWorker returns a Worker with validated config.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Worker{
		cfg: cfg,
		Entry: log.WithFields(log.Fields{
			logport.Component: logport.ComponentWorker,
			"worker":          cfg.Name,
		}),
	}, nil
}

// Run processes tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.Info("Worker started.")
	for {
		task, err := w.cfg.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.Info("Worker stopped.")
				return nil
			}
			w.Warningf("Dequeue failed: %v.", err)
			continue
		}
		w.process(ctx, task)
		if ctx.Err() != nil {
			w.Info("Worker stopped.")
			return nil
		}
	}
}

// process runs one task and settles it with the queue.
func (w *Worker) process(ctx context.Context, task *queue.Task) {
	taskCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	err := w.dispatch(taskCtx, task)
	cancel()

	switch {
	case err == nil:
		tasksTotal.WithLabelValues(task.Name, "ok").Inc()
		w.ack(ctx, task)
	case isPermanent(err):
		// redelivery cannot fix these, drop the task
		tasksTotal.WithLabelValues(task.Name, "dropped").Inc()
		w.Warningf("Task %v (%v) failed permanently: %v.", task.Name, task.ID, err)
		w.ack(ctx, task)
	default:
		tasksTotal.WithLabelValues(task.Name, "retried").Inc()
		w.Warningf("Task %v (%v) failed, returning for redelivery: %v.", task.Name, task.ID, err)
		if nackErr := w.cfg.Queue.Nack(ctx, task); nackErr != nil {
			w.Warningf("Nack of task %v failed: %v.", task.ID, nackErr)
		}
	}
}

func (w *Worker) ack(ctx context.Context, task *queue.Task) {
	if err := w.cfg.Queue.Ack(ctx, task); err != nil {
		w.Warningf("Ack of task %v failed: %v.", task.ID, err)
	}
}

// dispatch routes a task to its Runner handler by name.
func (w *Worker) dispatch(ctx context.Context, task *queue.Task) error {
	switch task.Name {
	case logport.TaskFetchLogs:
		return trace.Wrap(w.cfg.Runner.RunFetch(ctx, task.Args["source_id"]))
	case logport.TaskTestConnection:
		return trace.Wrap(w.cfg.Runner.TestSourceConnection(ctx, task.Args["source_id"]))
	case logport.TaskParseLogFile:
		return trace.Wrap(w.runJob(ctx, task.Args["job_id"]))
	case logport.TaskAnalyzeErrors:
		return trace.Wrap(w.cfg.Runner.RunErrorAnalysis(ctx, task.Args["job_id"]))
	}
	return trace.BadParameter("unknown task %q", task.Name)
}

// runJob routes a job task by the job's stored type.
func (w *Worker) runJob(ctx context.Context, jobID string) error {
	job, err := w.cfg.Runner.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return trace.Wrap(err)
	}
	switch job.Type {
	case types.JobParse, types.JobDetect, types.JobAnomaly:
		return trace.Wrap(w.cfg.Runner.RunParseJob(ctx, jobID))
	case types.JobExplain:
		return trace.Wrap(w.cfg.Runner.RunExplain(ctx, jobID))
	}
	return trace.BadParameter("unknown job type %q", job.Type)
}

// isPermanent reports whether redelivering the task could change the
// outcome.
func isPermanent(err error) bool {
	return trace.IsBadParameter(err) ||
		trace.IsNotFound(err) ||
		trace.IsNotImplemented(err) ||
		trace.IsAccessDenied(err)
}
