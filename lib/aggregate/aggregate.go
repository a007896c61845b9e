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

// Package aggregate folds access log events into hourly buckets and
// whole-file rollups with top-K summaries.
package aggregate

import (
	"sort"
	"strconv"
	"time"

	"github.com/gravitational/logport/lib/parser"
)

// PathCount is one top-paths entry.
type PathCount struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// IPCount is one top-ips entry.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// AgentCount is one top-user-agents entry.
type AgentCount struct {
	UserAgent string `json:"user_agent"`
	Count     int    `json:"count"`
}

// RefererCount is one top-referers entry.
type RefererCount struct {
	Referer string `json:"referer"`
	Count   int    `json:"count"`
}

// StatusCount is one top-status-codes entry.
type StatusCount struct {
	Status int `json:"status"`
	Count  int `json:"count"`
}

// counter counts string keys and remembers first-seen order so top-K
// ties resolve deterministically.
type counter struct {
	counts map[string]int
	order  map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int), order: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order[key] = len(c.order)
	}
	c.counts[key]++
}

func (c *counter) len() int { return len(c.counts) }

type kv struct {
	key   string
	count int
}

// top returns the n most common keys, count descending, ties by
// first-seen order.
func (c *counter) top(n int) []kv {
	entries := make([]kv, 0, len(c.counts))
	for k, v := range c.counts {
		entries = append(entries, kv{key: k, count: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return c.order[entries[i].key] < c.order[entries[j].key]
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// bucket accumulates one hour of traffic.
type bucket struct {
	hour        time.Time
	requests    int
	status2xx   int
	status3xx   int
	status4xx   int
	status5xx   int
	totalBytes  int64
	ips         *counter
	paths       *counter
	userAgents  *counter
	statusCodes *counter
}

func newBucket(hour time.Time) *bucket {
	return &bucket{
		hour:        hour,
		ips:         newCounter(),
		paths:       newCounter(),
		userAgents:  newCounter(),
		statusCodes: newCounter(),
	}
}

// BucketSummary is the persisted form of one hourly bucket.
type BucketSummary struct {
	Hour           time.Time     `json:"hour_bucket"`
	Requests       int           `json:"requests_count"`
	Status2xx      int           `json:"status_2xx"`
	Status3xx      int           `json:"status_3xx"`
	Status4xx      int           `json:"status_4xx"`
	Status5xx      int           `json:"status_5xx"`
	TotalBytes     int64         `json:"total_bytes"`
	UniqueIPs      int           `json:"unique_ips"`
	UniquePaths    int           `json:"unique_paths"`
	TopPaths       []PathCount   `json:"top_paths"`
	TopIPs         []IPCount     `json:"top_ips"`
	TopUserAgents  []AgentCount  `json:"top_user_agents"`
	TopStatusCodes []StatusCount `json:"top_status_codes"`
}

// Summary is the whole-file rollup.
type Summary struct {
	TotalRequests  int64  `json:"total_requests"`
	TotalBytes     int64  `json:"total_bytes"`
	UniqueIPs      int    `json:"unique_ips"`
	UniquePaths    int    `json:"unique_paths"`
	FirstTimestamp string `json:"first_timestamp,omitempty"`
	LastTimestamp  string `json:"last_timestamp,omitempty"`
}

// StatusBreakdown counts events per status class.
type StatusBreakdown struct {
	Status2xx int `json:"2xx"`
	Status3xx int `json:"3xx"`
	Status4xx int `json:"4xx"`
	Status5xx int `json:"5xx"`
}

// Result is the complete aggregation of one file.
type Result struct {
	Summary         Summary         `json:"summary"`
	StatusBreakdown StatusBreakdown `json:"status_breakdown"`
	Methods         map[string]int  `json:"methods"`
	TopPaths        []PathCount     `json:"top_paths"`
	TopIPs          []IPCount       `json:"top_ips"`
	TopUserAgents   []AgentCount    `json:"top_user_agents"`
	TopReferers     []RefererCount  `json:"top_referers"`
	HourlyData      []BucketSummary `json:"hourly_data"`
}

// Aggregator consumes events and produces a Result. Zero value is not
// usable, construct with New.
type Aggregator struct {
	hourly map[time.Time]*bucket

	totalRequests int64
	totalBytes    int64
	breakdown     StatusBreakdown
	paths         *counter
	ips           *counter
	userAgents    *counter
	referers      *counter
	methods       *counter
	firstSeen     time.Time
	lastSeen      time.Time
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		hourly:     make(map[time.Time]*bucket),
		paths:      newCounter(),
		ips:        newCounter(),
		userAgents: newCounter(),
		referers:   newCounter(),
		methods:    newCounter(),
	}
}

// hourKey truncates the event time to the top of its UTC hour.
func hourKey(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}

// Add folds one event into the aggregation.
func (a *Aggregator) Add(event parser.LogEvent) {
	hour := hourKey(event.Timestamp)
	b, ok := a.hourly[hour]
	if !ok {
		b = newBucket(hour)
		a.hourly[hour] = b
	}

	b.requests++
	b.totalBytes += event.BytesSent
	b.ips.add(event.IP)
	b.paths.add(event.Path)
	b.statusCodes.add(strconv.Itoa(event.Status))
	if event.UserAgent != "" {
		b.userAgents.add(event.UserAgent)
	}

	class := event.StatusClass()
	switch class {
	case "2xx":
		b.status2xx++
		a.breakdown.Status2xx++
	case "3xx":
		b.status3xx++
		a.breakdown.Status3xx++
	case "4xx":
		b.status4xx++
		a.breakdown.Status4xx++
	case "5xx":
		b.status5xx++
		a.breakdown.Status5xx++
	}

	a.totalRequests++
	a.totalBytes += event.BytesSent
	a.ips.add(event.IP)
	a.paths.add(event.Path)
	a.methods.add(event.Method)
	if event.UserAgent != "" {
		a.userAgents.add(event.UserAgent)
	}
	if event.Referer != "" {
		a.referers.add(event.Referer)
	}

	if a.firstSeen.IsZero() || event.Timestamp.Before(a.firstSeen) {
		a.firstSeen = event.Timestamp
	}
	if a.lastSeen.IsZero() || event.Timestamp.After(a.lastSeen) {
		a.lastSeen = event.Timestamp
	}
}

// AddAll folds a slice of events.
func (a *Aggregator) AddAll(events []parser.LogEvent) {
	for i := range events {
		a.Add(events[i])
	}
}

// Result snapshots the aggregation with top-K lists capped at topN.
// Buckets are ordered by hour ascending.
func (a *Aggregator) Result(topN int) *Result {
	hours := make([]time.Time, 0, len(a.hourly))
	for h := range a.hourly {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	buckets := make([]BucketSummary, 0, len(hours))
	for _, h := range hours {
		buckets = append(buckets, a.hourly[h].summary(topN))
	}

	r := &Result{
		Summary: Summary{
			TotalRequests: a.totalRequests,
			TotalBytes:    a.totalBytes,
			UniqueIPs:     a.ips.len(),
			UniquePaths:   a.paths.len(),
		},
		StatusBreakdown: a.breakdown,
		Methods:         make(map[string]int, topN),
		TopPaths:        toPathCounts(a.paths.top(topN)),
		TopIPs:          toIPCounts(a.ips.top(topN)),
		TopUserAgents:   toAgentCounts(a.userAgents.top(topN), 100),
		TopReferers:     toRefererCounts(a.referers.top(topN), 200),
		HourlyData:      buckets,
	}
	if !a.firstSeen.IsZero() {
		r.Summary.FirstTimestamp = a.firstSeen.Format(time.RFC3339)
		r.Summary.LastTimestamp = a.lastSeen.Format(time.RFC3339)
	}
	for _, m := range a.methods.top(topN) {
		r.Methods[m.key] = m.count
	}
	return r
}

func (b *bucket) summary(topN int) BucketSummary {
	s := BucketSummary{
		Hour:           b.hour,
		Requests:       b.requests,
		Status2xx:      b.status2xx,
		Status3xx:      b.status3xx,
		Status4xx:      b.status4xx,
		Status5xx:      b.status5xx,
		TotalBytes:     b.totalBytes,
		UniqueIPs:      b.ips.len(),
		UniquePaths:    b.paths.len(),
		TopPaths:       toPathCounts(b.paths.top(topN)),
		TopIPs:         toIPCounts(b.ips.top(topN)),
		TopUserAgents:  toAgentCounts(b.userAgents.top(topN), 0),
		TopStatusCodes: make([]StatusCount, 0, topN),
	}
	for _, e := range b.statusCodes.top(topN) {
		status, _ := strconv.Atoi(e.key)
		s.TopStatusCodes = append(s.TopStatusCodes, StatusCount{Status: status, Count: e.count})
	}
	return s
}

func toPathCounts(entries []kv) []PathCount {
	out := make([]PathCount, 0, len(entries))
	for _, e := range entries {
		out = append(out, PathCount{Path: e.key, Count: e.count})
	}
	return out
}

func toIPCounts(entries []kv) []IPCount {
	out := make([]IPCount, 0, len(entries))
	for _, e := range entries {
		out = append(out, IPCount{IP: e.key, Count: e.count})
	}
	return out
}

func toAgentCounts(entries []kv, maxLen int) []AgentCount {
	out := make([]AgentCount, 0, len(entries))
	for _, e := range entries {
		ua := e.key
		if maxLen > 0 && len(ua) > maxLen {
			ua = ua[:maxLen]
		}
		out = append(out, AgentCount{UserAgent: ua, Count: e.count})
	}
	return out
}

func toRefererCounts(entries []kv, maxLen int) []RefererCount {
	out := make([]RefererCount, 0, len(entries))
	for _, e := range entries {
		ref := e.key
		if maxLen > 0 && len(ref) > maxLen {
			ref = ref[:maxLen]
		}
		out = append(out, RefererCount{Referer: ref, Count: e.count})
	}
	return out
}
