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

// Package jobs runs the pipeline's background work: fetching log files
// from sources, parsing and analyzing them, and grouping application
// errors. The Worker loop dispatches queued tasks to the Runner.
package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/aggregate"
	"github.com/gravitational/logport/lib/anomaly"
	"github.com/gravitational/logport/lib/detect"
	"github.com/gravitational/logport/lib/errlog"
	"github.com/gravitational/logport/lib/fetch"
	"github.com/gravitational/logport/lib/parser"
	"github.com/gravitational/logport/lib/queue"
	"github.com/gravitational/logport/lib/storage"
	"github.com/gravitational/logport/lib/store"
	"github.com/gravitational/logport/lib/types"
)

// Config configures the Runner.
type Config struct {
	// Store persists jobs, files, aggregates and findings
	Store store.JobStore
	// Objects holds the raw log file bytes
	Objects storage.ObjectStore
	// Queue receives follow-up tasks (parse jobs after a fetch)
	Queue queue.Queue
	// Anomaly tunes the anomaly detector
	Anomaly anomaly.Config
	// Clock stamps state transitions
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Objects == nil {
		return trace.BadParameter("missing parameter Objects")
	}
	if c.Queue == nil {
		return trace.BadParameter("missing parameter Queue")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Runner executes pipeline jobs against the stores.
type Runner struct {
	cfg Config
	*log.Entry

	detector *anomaly.Detector
}

// NewRunner returns a Runner with validated config.
func NewRunner(cfg Config) (*Runner, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	detector, err := anomaly.New(cfg.Anomaly)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Runner{
		cfg:      cfg,
		Entry:    log.WithField(logport.Component, logport.ComponentJobs),
		detector: detector,
	}, nil
}

// resultSummary is the compact JSON written to a completed parse job.
type resultSummary struct {
	Status      string                   `json:"status"`
	LogFileID   string                   `json:"log_file_id"`
	Filename    string                   `json:"filename"`
	SizeBytes   int64                    `json:"size_bytes"`
	ParseStats  parser.Stats             `json:"parse_stats"`
	Aggregation *aggregate.Result        `json:"aggregation"`
	Findings    []types.FindingCandidate `json:"findings"`
	Anomalies   []types.FindingCandidate `json:"anomalies"`
	// LowSuccessRate flags a likely format mismatch when the parse
	// success rate fell under the accepted minimum
	LowSuccessRate bool `json:"low_success_rate,omitempty"`
}

// RunParseJob drives a parse job through its state machine: load, parse,
// aggregate, detect, persist, score anomalies, summarize. Each progress
// milestone is persisted before the next stage starts so pollers see
// monotonically non-decreasing progress.
func (r *Runner) RunParseJob(ctx context.Context, jobID string) error {
	job, err := r.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return trace.Wrap(err)
	}
	if job.Status == types.JobCompleted {
		r.Debugf("Job %v already completed, skipping redelivery.", jobID)
		return nil
	}

	started := r.cfg.Clock.Now().UTC()
	job.Status = types.JobProcessing
	job.StartedAt = &started
	job.Progress = 5
	job.ErrorMessage = ""
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return trace.Wrap(err)
	}

	file, err := r.cfg.Store.GetLogFile(ctx, job.LogFileID)
	if err != nil {
		return r.failJob(ctx, job, nil, err)
	}
	file.Status = types.LogFileProcessing
	if err := r.cfg.Store.UpdateLogFile(ctx, file); err != nil {
		return r.failJob(ctx, job, nil, err)
	}
	job.Progress = 10
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	data, err := r.cfg.Objects.Get(ctx, file.StorageKey)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	site, err := r.cfg.Store.GetSite(ctx, file.SiteID)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	p, err := parser.Get(site.LogFormat)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	job.Progress = 20
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	result, err := p.ParseBytes(data)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	if result.ParsedLines == 0 && result.TotalLines > result.EmptyLines {
		return r.failJob(ctx, job, &file, trace.BadParameter(
			"no lines of %q parsed as %v, the declared log format likely does not match",
			file.Filename, site.LogFormat))
	}
	job.Progress = 60
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	parsedLinesTotal.Add(float64(result.ParsedLines))
	failedLinesTotal.Add(float64(result.FailedLines))

	agg := aggregate.New()
	agg.AddAll(result.Events)
	aggResult := agg.Result(logport.TopNItems)
	job.Progress = 80
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	now := r.cfg.Clock.Now().UTC()
	security := detect.Detect(result.Events)
	findings := r.attachFindings(security, &site, &file, now)
	if err := r.cfg.Store.SaveAnalysis(ctx, site.ID, file.ID, aggResult.HourlyData, findings); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	anomalies, err := r.scoreAnomalies(ctx, &site, &file, aggResult.HourlyData, now)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	job.Progress = 90
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	summary := resultSummary{
		Status:         "completed",
		LogFileID:      file.ID,
		Filename:       file.Filename,
		SizeBytes:      file.SizeBytes,
		ParseStats:     result.Stats(),
		Aggregation:    aggResult,
		Findings:       security,
		Anomalies:      anomalies,
		LowSuccessRate: result.SuccessRate() < logport.MinParseSuccessRate,
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	completed := r.cfg.Clock.Now().UTC()
	job.Status = types.JobCompleted
	job.Progress = 100
	job.CompletedAt = &completed
	job.ResultSummary = string(encoded)
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	file.Status = types.LogFileProcessed
	if err := r.cfg.Store.UpdateLogFile(ctx, file); err != nil {
		return trace.Wrap(err)
	}

	jobsTotal.WithLabelValues(string(types.JobParse), string(types.JobCompleted)).Inc()
	jobDuration.WithLabelValues(string(types.JobParse)).Observe(completed.Sub(started).Seconds())
	r.Infof("Parse job %v completed: %v events, %v findings, %v anomalies.",
		jobID, result.ParsedLines, len(security), len(anomalies))
	return nil
}

// attachFindings turns detector candidates into persisted finding rows.
func (r *Runner) attachFindings(candidates []types.FindingCandidate, site *types.Site, file *types.LogFile, now time.Time) []types.Finding {
	findings := make([]types.Finding, 0, len(candidates))
	for _, c := range candidates {
		findings = append(findings, types.Finding{
			ID:               uuid.NewString(),
			SiteID:           site.ID,
			LogFileID:        file.ID,
			CreatedAt:        now,
			FindingCandidate: c,
		})
	}
	return findings
}

// scoreAnomalies loads the site's baseline, scores this file's hours
// against it and persists the anomaly findings.
func (r *Runner) scoreAnomalies(ctx context.Context, site *types.Site, file *types.LogFile, buckets []aggregate.BucketSummary, now time.Time) ([]types.FindingCandidate, error) {
	if len(buckets) == 0 {
		return nil, nil
	}
	window := time.Duration(r.detector.BaselineDays()) * 24 * time.Hour
	from := buckets[0].Hour.Add(-window)
	baseline, err := r.cfg.Store.LoadBaselineSnapshots(ctx, site.ID, from)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	targets := make([]anomaly.Snapshot, 0, len(buckets))
	for i := range buckets {
		targets = append(targets, anomaly.Snapshot{
			Hour:      buckets[i].Hour,
			Requests:  buckets[i].Requests,
			Status5xx: buckets[i].Status5xx,
			UniqueIPs: buckets[i].UniqueIPs,
			TopPaths:  buckets[i].TopPaths,
		})
	}

	anomalies := r.detector.Detect(baseline, targets)
	if len(anomalies) == 0 {
		return nil, nil
	}
	if err := r.cfg.Store.InsertFindings(ctx, r.attachFindings(anomalies, site, file, now)); err != nil {
		return nil, trace.Wrap(err)
	}
	return anomalies, nil
}

// failJob records the failure on the job (and the file when loaded) and
// returns the original error for the worker's retry policy.
func (r *Runner) failJob(ctx context.Context, job types.Job, file *types.LogFile, jobErr error) error {
	now := r.cfg.Clock.Now().UTC()
	job.Status = types.JobFailed
	job.ErrorMessage = jobErr.Error()
	job.CompletedAt = &now
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		r.Warningf("Failed to record job %v failure: %v.", job.ID, err)
	}
	if file != nil {
		file.Status = types.LogFileFailed
		if err := r.cfg.Store.UpdateLogFile(ctx, *file); err != nil {
			r.Warningf("Failed to record log file %v failure: %v.", file.ID, err)
		}
	}
	jobsTotal.WithLabelValues(string(job.Type), string(types.JobFailed)).Inc()
	r.Warningf("Job %v failed: %v.", job.ID, jobErr)
	return trace.Wrap(jobErr)
}

// RunFetch pulls a source's log files into object storage and enqueues
// a parse job per file. Fetch failures are recorded on the source and
// do not bubble up: the next scheduled fetch is the retry.
func (r *Runner) RunFetch(ctx context.Context, sourceID string) error {
	source, err := r.cfg.Store.GetLogSource(ctx, sourceID)
	if err != nil {
		return trace.Wrap(err)
	}

	// mark the fetch before it starts so the scheduler does not
	// enqueue this source again while it runs
	now := r.cfg.Clock.Now().UTC()
	source.LastFetchAt = &now
	if err := r.cfg.Store.UpdateLogSource(ctx, source); err != nil {
		return trace.Wrap(err)
	}

	fetcher, err := fetch.New(ctx, source, r.cfg.Clock)
	if err != nil {
		return r.recordFetchError(ctx, source, err)
	}
	defer fetcher.Close()

	files, err := fetcher.Fetch(ctx)
	if err != nil {
		return r.recordFetchError(ctx, source, err)
	}

	var totalBytes int64
	for _, f := range files {
		if err := r.storeFetchedFile(ctx, &source, f, now); err != nil {
			return r.recordFetchError(ctx, source, err)
		}
		totalBytes += f.Size
	}

	source.LastFetchStatus = types.FetchStatusSuccess
	source.LastFetchError = ""
	source.LastFetchedBytes = totalBytes
	if err := r.cfg.Store.UpdateLogSource(ctx, source); err != nil {
		return trace.Wrap(err)
	}
	fetchedBytesTotal.Add(float64(totalBytes))
	r.Infof("Fetched %v files (%v) from source %v.",
		len(files), humanize.Bytes(uint64(totalBytes)), sourceID)
	return nil
}

// storeFetchedFile uploads one fetched file, records it and enqueues
// its parse job.
func (r *Runner) storeFetchedFile(ctx context.Context, source *types.LogSource, f fetch.File, now time.Time) error {
	sum := sha256.Sum256(f.Data)
	fileID := uuid.NewString()
	key := fmt.Sprintf("sites/%s/logs/%s/%s/%s", source.SiteID, source.ID, fileID, f.Name)

	if err := r.cfg.Objects.Put(ctx, key, f.Data); err != nil {
		return trace.Wrap(err)
	}
	file := types.LogFile{
		ID:         fileID,
		SiteID:     source.SiteID,
		SourceID:   source.ID,
		Filename:   f.Name,
		SizeBytes:  int64(len(f.Data)),
		SHA256:     hex.EncodeToString(sum[:]),
		StorageKey: key,
		Status:     types.LogFileUploaded,
		UploadedAt: now,
	}
	if err := r.cfg.Store.CreateLogFile(ctx, file); err != nil {
		return trace.Wrap(err)
	}
	job := types.Job{
		ID:        uuid.NewString(),
		LogFileID: file.ID,
		Type:      types.JobParse,
		Status:    types.JobPending,
		CreatedAt: now,
	}
	if err := r.cfg.Store.CreateJob(ctx, job); err != nil {
		return trace.Wrap(err)
	}
	if _, err := r.cfg.Queue.Enqueue(ctx, logport.TaskParseLogFile,
		map[string]string{"job_id": job.ID}); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// recordFetchError stores the failure on the source. The error is not
// returned: scheduling stays intact and the next due fetch retries.
func (r *Runner) recordFetchError(ctx context.Context, source types.LogSource, fetchErr error) error {
	source.LastFetchStatus = types.FetchStatusError
	source.LastFetchError = trace.UserMessage(fetchErr)
	if err := r.cfg.Store.UpdateLogSource(ctx, source); err != nil {
		r.Warningf("Failed to record fetch error on source %v: %v.", source.ID, err)
	}
	fetchErrorsTotal.Inc()
	r.Warningf("Fetch from source %v failed: %v.", source.ID, fetchErr)
	return nil
}

// TestSourceConnection verifies a source's connection settings without
// fetching and records the outcome on the source.
func (r *Runner) TestSourceConnection(ctx context.Context, sourceID string) error {
	source, err := r.cfg.Store.GetLogSource(ctx, sourceID)
	if err != nil {
		return trace.Wrap(err)
	}

	fetcher, err := fetch.New(ctx, source, r.cfg.Clock)
	if err != nil {
		return r.recordFetchError(ctx, source, err)
	}
	defer fetcher.Close()

	if err := fetcher.TestConnection(ctx); err != nil {
		return r.recordFetchError(ctx, source, err)
	}

	source.LastFetchStatus = types.FetchStatusSuccess
	source.LastFetchError = ""
	if err := r.cfg.Store.UpdateLogSource(ctx, source); err != nil {
		return trace.Wrap(err)
	}
	r.Infof("Connection test for source %v succeeded.", sourceID)
	return nil
}

// errorSummary is the compact JSON written to a completed error
// analysis job.
type errorSummary struct {
	Status      string `json:"status"`
	LogFileID   string `json:"log_file_id"`
	Filename    string `json:"filename"`
	Records     int    `json:"records"`
	Groups      int    `json:"error_groups"`
	Occurrences int    `json:"occurrences"`
}

// RunErrorAnalysis parses an application error log, groups records by
// fingerprint and persists the groups and occurrences. The job reuses
// the parse state machine with the stages that apply.
func (r *Runner) RunErrorAnalysis(ctx context.Context, jobID string) error {
	job, err := r.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return trace.Wrap(err)
	}
	if job.Status == types.JobCompleted {
		r.Debugf("Job %v already completed, skipping redelivery.", jobID)
		return nil
	}

	started := r.cfg.Clock.Now().UTC()
	job.Status = types.JobProcessing
	job.StartedAt = &started
	job.Progress = 5
	job.ErrorMessage = ""
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return trace.Wrap(err)
	}

	file, err := r.cfg.Store.GetLogFile(ctx, job.LogFileID)
	if err != nil {
		return r.failJob(ctx, job, nil, err)
	}
	file.Status = types.LogFileProcessing
	if err := r.cfg.Store.UpdateLogFile(ctx, file); err != nil {
		return r.failJob(ctx, job, nil, err)
	}
	job.Progress = 10
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	data, err := r.cfg.Objects.Get(ctx, file.StorageKey)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	// records with no parseable timestamp fall back to the file's
	// upload time rather than wall clock
	p, err := errlog.New(errlog.Config{
		Clock: clockwork.NewFakeClockAt(file.UploadedAt),
	})
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	records, err := p.Parse(string(data), errlog.FormatAuto)
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	job.Progress = 60
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	groups, occurrences := r.groupErrorRecords(records, &file)
	persistedGroups := 0
	for fingerprint, group := range groups {
		stored, err := r.cfg.Store.UpsertErrorGroup(ctx, group)
		if err != nil {
			return r.failJob(ctx, job, &file, err)
		}
		persistedGroups++
		for i := range occurrences[fingerprint] {
			occurrences[fingerprint][i].GroupID = stored.ID
		}
	}
	var flat []types.ErrorOccurrence
	for _, rows := range occurrences {
		flat = append(flat, rows...)
	}
	if err := r.cfg.Store.InsertOccurrences(ctx, flat); err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	job.Progress = 90
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	encoded, err := json.Marshal(errorSummary{
		Status:      "completed",
		LogFileID:   file.ID,
		Filename:    file.Filename,
		Records:     len(records),
		Groups:      persistedGroups,
		Occurrences: len(flat),
	})
	if err != nil {
		return r.failJob(ctx, job, &file, err)
	}

	completed := r.cfg.Clock.Now().UTC()
	job.Status = types.JobCompleted
	job.Progress = 100
	job.CompletedAt = &completed
	job.ResultSummary = string(encoded)
	if err := r.cfg.Store.UpdateJob(ctx, job); err != nil {
		return r.failJob(ctx, job, &file, err)
	}
	file.Status = types.LogFileProcessed
	if err := r.cfg.Store.UpdateLogFile(ctx, file); err != nil {
		return trace.Wrap(err)
	}

	jobsTotal.WithLabelValues(string(types.JobDetect), string(types.JobCompleted)).Inc()
	jobDuration.WithLabelValues(string(types.JobDetect)).Observe(completed.Sub(started).Seconds())
	r.Infof("Error analysis job %v completed: %v records in %v groups.",
		jobID, len(records), persistedGroups)
	return nil
}

// groupErrorRecords folds parsed records into per-fingerprint groups
// and occurrence rows, deduplicating repeats of the same
// (fingerprint, timestamp, message) within this run.
func (r *Runner) groupErrorRecords(records []errlog.Record, file *types.LogFile) (map[string]types.ErrorGroup, map[string][]types.ErrorOccurrence) {
	groups := make(map[string]types.ErrorGroup)
	occurrences := make(map[string][]types.ErrorOccurrence)
	seen := make(map[string]bool)

	for i := range records {
		rec := &records[i]
		fingerprint := rec.Fingerprint()

		dedupeKey := fingerprint + "\x00" + rec.Timestamp.Format(time.RFC3339Nano) + "\x00" + rec.Message
		if seen[dedupeKey] {
			continue
		}
		seen[dedupeKey] = true

		group, ok := groups[fingerprint]
		if !ok {
			group = types.ErrorGroup{
				ID:           uuid.NewString(),
				SiteID:       file.SiteID,
				Fingerprint:  fingerprint,
				ErrorType:    rec.ErrorType,
				ErrorMessage: rec.Message,
				FirstSeen:    rec.Timestamp,
				LastSeen:     rec.Timestamp,
			}
		}
		if rec.Timestamp.Before(group.FirstSeen) {
			group.FirstSeen = rec.Timestamp
		}
		if rec.Timestamp.After(group.LastSeen) {
			group.LastSeen = rec.Timestamp
		}
		group.OccurrenceCount++
		groups[fingerprint] = group

		occurrences[fingerprint] = append(occurrences[fingerprint], types.ErrorOccurrence{
			ID:            uuid.NewString(),
			LogFileID:     file.ID,
			Timestamp:     rec.Timestamp,
			ErrorType:     rec.ErrorType,
			ErrorMessage:  rec.Message,
			StackTrace:    rec.StackTrace,
			FilePath:      rec.FilePath,
			LineNumber:    rec.LineNumber,
			FunctionName:  rec.FunctionName,
			RequestURL:    rec.RequestURL,
			RequestMethod: rec.RequestMethod,
			UserID:        rec.UserID,
			IPAddress:     rec.IPAddress,
			Context:       rec.Context,
		})
	}
	return groups, occurrences
}

// RunExplain is the placeholder for LLM-backed explanations.
func (r *Runner) RunExplain(ctx context.Context, jobID string) error {
	job, err := r.cfg.Store.GetJob(ctx, jobID)
	if err != nil {
		return trace.Wrap(err)
	}
	return r.failJob(ctx, job, nil, trace.NotImplemented("explain jobs are not supported"))
}
