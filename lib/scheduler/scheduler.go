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

// Package scheduler decides when log sources are due for a fetch and
// enqueues fetch tasks for the workers.
package scheduler

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/defaults"
	"github.com/gravitational/logport/lib/queue"
	"github.com/gravitational/logport/lib/types"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logport_scheduler_ticks_total",
		Help: "Number of scheduler ticks run",
	})
	scheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logport_scheduler_fetches_scheduled_total",
		Help: "Number of fetch tasks enqueued by the scheduler",
	})
	skippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logport_scheduler_sources_skipped_total",
		Help: "Number of sources skipped as not due or misconfigured",
	})
)

// Sources lists the log sources eligible for scheduling.
type Sources interface {
	ListActiveSources(ctx context.Context) ([]types.LogSource, error)
}

// Config configures the scheduler.
type Config struct {
	// Sources supplies the active log sources
	Sources Sources
	// Queue receives fetch tasks for due sources
	Queue queue.Queue
	// TickInterval spaces scheduler passes
	TickInterval time.Duration
	// Clock drives ticks and due evaluation
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Sources == nil {
		return trace.BadParameter("missing parameter Sources")
	}
	if c.Queue == nil {
		return trace.BadParameter("missing parameter Queue")
	}
	if c.TickInterval == 0 {
		c.TickInterval = defaults.SchedulerTick
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// TickResult summarizes one scheduler pass.
type TickResult struct {
	// Total is how many active sources were evaluated
	Total int
	// Scheduled is how many fetch tasks were enqueued
	Scheduled int
	// Skipped is how many sources were not due or misconfigured
	Skipped int
}

// Scheduler runs the periodic due-source evaluation. Single threaded;
// one instance per deployment.
type Scheduler struct {
	cfg Config
	*log.Entry
}

// New returns a Scheduler with validated config.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Scheduler{
		cfg:   cfg,
		Entry: log.WithField(logport.Component, logport.ComponentScheduler),
	}, nil
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Infof("Scheduler started, tick interval %v.", s.cfg.TickInterval)
	ticker := s.cfg.Clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			result, err := s.Tick(ctx)
			if err != nil {
				s.Warningf("Scheduler tick failed: %v.", err)
				continue
			}
			if result.Scheduled > 0 {
				s.Infof("Scheduled %v of %v sources, skipped %v.",
					result.Scheduled, result.Total, result.Skipped)
			}
		case <-ctx.Done():
			s.Info("Scheduler stopped.")
			return nil
		}
	}
}

// Tick evaluates all active sources once and enqueues fetch tasks for
// the due ones.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	ticksTotal.Inc()

	sources, err := s.cfg.Sources.ListActiveSources(ctx)
	if err != nil {
		return TickResult{}, trace.Wrap(err)
	}

	now := s.cfg.Clock.Now().UTC()
	result := TickResult{Total: len(sources)}
	for i := range sources {
		source := &sources[i]
		if !s.isDue(source, now) {
			result.Skipped++
			skippedTotal.Inc()
			continue
		}
		if _, err := s.cfg.Queue.Enqueue(ctx, logport.TaskFetchLogs,
			map[string]string{"source_id": source.ID}); err != nil {
			return result, trace.Wrap(err)
		}
		result.Scheduled++
		scheduledTotal.Inc()
		s.Debugf("Scheduled fetch for source %v (%v).", source.ID, source.Name)
	}
	return result, nil
}

// isDue reports whether the source needs a fetch at the given instant.
// Never-fetched sources are always due.
func (s *Scheduler) isDue(source *types.LogSource, now time.Time) bool {
	if source.Status != types.SourceStatusActive {
		return false
	}
	if source.LastFetchAt == nil {
		return true
	}
	last := source.LastFetchAt.UTC()

	switch source.Schedule.Type {
	case types.ScheduleInterval:
		interval := clampInterval(source.Schedule.IntervalMinutes)
		return now.Sub(last) >= interval
	case types.ScheduleCron:
		sched, err := cron.ParseStandard(source.Schedule.Cron)
		if err != nil {
			s.Warningf("Source %v has invalid cron expression %q: %v.",
				source.ID, source.Schedule.Cron, err)
			return false
		}
		return !sched.Next(last).After(now)
	}
	s.Warningf("Source %v has unknown schedule type %q.", source.ID, source.Schedule.Type)
	return false
}

// clampInterval bounds a configured interval to the supported range.
func clampInterval(minutes int) time.Duration {
	interval := time.Duration(minutes) * time.Minute
	if interval < defaults.MinFetchInterval {
		return defaults.MinFetchInterval
	}
	if interval > defaults.MaxFetchInterval {
		return defaults.MaxFetchInterval
	}
	return interval
}
