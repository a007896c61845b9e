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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logport_jobs_total",
		Help: "Number of finished jobs by type and terminal status",
	}, []string{"type", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logport_job_duration_seconds",
		Help:    "Time from job start to completion",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"type"})

	parsedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logport_parsed_lines_total",
		Help: "Number of access log lines parsed successfully",
	})

	failedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logport_failed_lines_total",
		Help: "Number of access log lines that failed to parse",
	})

	fetchedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logport_fetched_bytes_total",
		Help: "Bytes fetched from log sources",
	})

	fetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logport_fetch_errors_total",
		Help: "Number of fetches that failed and were recorded on the source",
	})

	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logport_worker_tasks_total",
		Help: "Number of tasks processed by the worker loop",
	}, []string{"task", "outcome"})
)
