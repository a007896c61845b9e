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

package aggregate

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/logport/lib/parser"
)

func event(ts time.Time, ip, path string, status int, bytes int64) parser.LogEvent {
	return parser.LogEvent{
		Timestamp: ts,
		IP:        ip,
		Method:    "GET",
		Path:      path,
		Status:    status,
		BytesSent: bytes,
	}
}

func TestSingleEventBucket(t *testing.T) {
	a := New()
	ts := time.Date(2026, 1, 21, 10, 30, 0, 0, time.UTC)
	e := event(ts, "192.168.1.1", "/api/users", 200, 1234)
	e.UserAgent = "Mozilla/5.0"
	a.Add(e)

	r := a.Result(10)
	require.Len(t, r.HourlyData, 1)

	b := r.HourlyData[0]
	require.Equal(t, time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC), b.Hour)
	require.Equal(t, 1, b.Requests)
	require.Equal(t, 1, b.Status2xx)
	require.Equal(t, 1, b.UniqueIPs)
	require.Equal(t, []PathCount{{Path: "/api/users", Count: 1}}, b.TopPaths)
	require.Equal(t, []IPCount{{IP: "192.168.1.1", Count: 1}}, b.TopIPs)
	require.Equal(t, []StatusCount{{Status: 200, Count: 1}}, b.TopStatusCodes)

	require.Equal(t, int64(1), r.Summary.TotalRequests)
	require.Equal(t, int64(1234), r.Summary.TotalBytes)
	require.Equal(t, 1, r.StatusBreakdown.Status2xx)
	require.Equal(t, "2026-01-21T10:30:00Z", r.Summary.FirstTimestamp)
}

func TestBucketPartition(t *testing.T) {
	a := New()
	base := time.Date(2026, 1, 21, 0, 0, 0, 0, time.UTC)

	total := 0
	for hour := 0; hour < 5; hour++ {
		for i := 0; i <= hour; i++ {
			a.Add(event(base.Add(time.Duration(hour)*time.Hour+time.Duration(i)*time.Minute),
				"10.0.0.1", "/x", 200, 1))
			total++
		}
	}
	// boundary events land in their own hours
	a.Add(event(base.Add(59*time.Minute+59*time.Second), "10.0.0.1", "/x", 200, 1))
	a.Add(event(base.Add(time.Hour), "10.0.0.1", "/x", 200, 1))
	total += 2

	r := a.Result(10)
	sum := 0
	for _, b := range r.HourlyData {
		sum += b.Requests
		require.Equal(t, b.Hour, b.Hour.Truncate(time.Hour))
	}
	require.Equal(t, total, sum)
	require.Equal(t, int64(total), r.Summary.TotalRequests)

	// buckets ordered by hour ascending
	for i := 1; i < len(r.HourlyData); i++ {
		require.True(t, r.HourlyData[i-1].Hour.Before(r.HourlyData[i].Hour))
	}
}

func TestStatusClassCoverage(t *testing.T) {
	a := New()
	ts := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)
	statuses := []int{200, 201, 301, 404, 404, 500, 503, 100, 700}
	for _, s := range statuses {
		a.Add(event(ts, "10.0.0.1", "/x", s, 0))
	}

	r := a.Result(10)
	b := r.HourlyData[0]
	require.Equal(t, 2, b.Status2xx)
	require.Equal(t, 1, b.Status3xx)
	require.Equal(t, 2, b.Status4xx)
	require.Equal(t, 2, b.Status5xx)
	classified := b.Status2xx + b.Status3xx + b.Status4xx + b.Status5xx
	require.Equal(t, len(statuses)-2, classified) // 100 and 700 are "other"
	require.GreaterOrEqual(t, b.Requests, classified)
}

func TestIdempotentDoubling(t *testing.T) {
	ts := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)
	events := []parser.LogEvent{
		event(ts, "10.0.0.1", "/a", 200, 10),
		event(ts.Add(time.Minute), "10.0.0.2", "/b", 404, 20),
		event(ts.Add(2*time.Hour), "10.0.0.1", "/a", 200, 30),
	}

	once := New()
	once.AddAll(events)
	twice := New()
	twice.AddAll(events)
	twice.AddAll(events)

	r1 := once.Result(10)
	r2 := twice.Result(10)

	require.Equal(t, 2*r1.Summary.TotalRequests, r2.Summary.TotalRequests)
	require.Equal(t, 2*r1.Summary.TotalBytes, r2.Summary.TotalBytes)
	// sets union-preserve: cardinality unchanged
	require.Equal(t, r1.Summary.UniqueIPs, r2.Summary.UniqueIPs)
	require.Equal(t, r1.Summary.UniquePaths, r2.Summary.UniquePaths)

	require.Len(t, r2.HourlyData, len(r1.HourlyData))
	for i := range r1.HourlyData {
		require.Equal(t, 2*r1.HourlyData[i].Requests, r2.HourlyData[i].Requests)
		require.Equal(t, r1.HourlyData[i].UniqueIPs, r2.HourlyData[i].UniqueIPs)
	}

	// monotonicity: every path count at least doubles, never shrinks
	counts1 := map[string]int{}
	for _, pc := range r1.TopPaths {
		counts1[pc.Path] = pc.Count
	}
	for _, pc := range r2.TopPaths {
		require.GreaterOrEqual(t, pc.Count, counts1[pc.Path])
	}
}

func TestBucketIPCounts(t *testing.T) {
	a := New()
	ts := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		a.Add(event(ts, "10.0.0.9", "/x", 200, 0))
	}
	a.Add(event(ts, "10.0.0.1", "/x", 200, 0))

	b := a.Result(10).HourlyData[0]
	require.Equal(t, 2, b.UniqueIPs)
	require.Equal(t, IPCount{IP: "10.0.0.9", Count: 3}, b.TopIPs[0])
	require.Equal(t, IPCount{IP: "10.0.0.1", Count: 1}, b.TopIPs[1])
}

func TestTopKOrderAndLimit(t *testing.T) {
	a := New()
	ts := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)

	// 15 distinct paths, counts 15..1
	for i := 0; i < 15; i++ {
		for j := 0; j < 15-i; j++ {
			a.Add(event(ts, "10.0.0.1", fmt.Sprintf("/p%02d", i), 200, 0))
		}
	}

	r := a.Result(10)
	require.Len(t, r.TopPaths, 10)
	require.Equal(t, PathCount{Path: "/p00", Count: 15}, r.TopPaths[0])
	for i := 1; i < len(r.TopPaths); i++ {
		require.GreaterOrEqual(t, r.TopPaths[i-1].Count, r.TopPaths[i].Count)
	}

	// ties keep first-seen order
	tie := New()
	tie.Add(event(ts, "10.0.0.1", "/first", 200, 0))
	tie.Add(event(ts, "10.0.0.1", "/second", 200, 0))
	top := tie.Result(10).TopPaths
	require.Equal(t, "/first", top[0].Path)
	require.Equal(t, "/second", top[1].Path)
}

func TestAgentAndRefererTruncation(t *testing.T) {
	a := New()
	ts := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)

	e := event(ts, "10.0.0.1", "/x", 200, 0)
	e.UserAgent = strings.Repeat("u", 150)
	e.Referer = strings.Repeat("r", 250)
	a.Add(e)

	r := a.Result(10)
	require.Len(t, r.TopUserAgents[0].UserAgent, 100)
	require.Len(t, r.TopReferers[0].Referer, 200)
	// bucket level keeps the full agent string
	require.Len(t, r.HourlyData[0].TopUserAgents[0].UserAgent, 150)
}

func TestMethodsRollup(t *testing.T) {
	a := New()
	ts := time.Date(2026, 1, 21, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		a.Add(event(ts, "10.0.0.1", "/x", 200, 0))
	}
	post := event(ts, "10.0.0.1", "/x", 201, 0)
	post.Method = "POST"
	a.Add(post)

	r := a.Result(10)
	require.Equal(t, map[string]int{"GET": 3, "POST": 1}, r.Methods)
}
