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

// Package anomaly scores hourly traffic aggregates against a rolling
// baseline and emits findings for statistical outliers.
//
// For each target hour the detector collects the baseline snapshots in
// the preceding window, computes population mean and standard
// deviation for requests, 5xx error rate and unique IPs, and flags
// values whose z-score crosses the threshold. Hours with a thin
// baseline or zero variance are skipped rather than guessed at.
package anomaly

import (
	"math"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/logport/lib/aggregate"
	"github.com/gravitational/logport/lib/defaults"
	"github.com/gravitational/logport/lib/types"
)

// Snapshot is the slice of an hourly aggregate the detector needs.
type Snapshot struct {
	// Hour is the top-of-hour UTC bucket key
	Hour time.Time `json:"hour_bucket"`
	// Requests is the request count for the hour
	Requests int `json:"requests_count"`
	// Status5xx is the 5xx response count for the hour
	Status5xx int `json:"status_5xx"`
	// UniqueIPs is the distinct client count for the hour
	UniqueIPs int `json:"unique_ips"`
	// TopPaths is the hour's top paths rollup
	TopPaths []aggregate.PathCount `json:"top_paths,omitempty"`
}

// Config tunes the detector.
type Config struct {
	// BaselineDays is how far back the baseline window reaches
	BaselineDays int
	// MinBaselineHours is the fewest baseline snapshots required to
	// score a target hour
	MinBaselineHours int
	// ZThreshold is the score at or above which a finding is emitted
	ZThreshold float64
	// NewPathMinCount is the request count a previously unseen path
	// needs to be flagged
	NewPathMinCount int
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.BaselineDays == 0 {
		c.BaselineDays = defaults.BaselineDays
	}
	if c.BaselineDays < 0 {
		return trace.BadParameter("baseline days must be positive, got %v", c.BaselineDays)
	}
	if c.MinBaselineHours == 0 {
		c.MinBaselineHours = defaults.MinBaselineHours
	}
	if c.MinBaselineHours < 2 {
		return trace.BadParameter("at least 2 baseline hours are required, got %v", c.MinBaselineHours)
	}
	if c.ZThreshold == 0 {
		c.ZThreshold = defaults.ZScoreThreshold
	}
	if c.ZThreshold < 0 {
		return trace.BadParameter("z-score threshold must be positive, got %v", c.ZThreshold)
	}
	if c.NewPathMinCount == 0 {
		c.NewPathMinCount = defaults.NewPathMinCount
	}
	return nil
}

// Detector scores target hours against their baselines.
type Detector struct {
	cfg Config
}

// New returns a Detector with validated config.
func New(cfg Config) (*Detector, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Detector{cfg: cfg}, nil
}

// BaselineDays returns the configured baseline window in days.
func (d *Detector) BaselineDays() int {
	return d.cfg.BaselineDays
}

// Detect compares each target snapshot against the baseline snapshots
// that fall inside its window and returns the findings in target
// order.
func (d *Detector) Detect(baseline, targets []Snapshot) []types.FindingCandidate {
	var findings []types.FindingCandidate
	window := time.Duration(d.cfg.BaselineDays) * 24 * time.Hour

	for i := range targets {
		current := &targets[i]
		from := current.Hour.Add(-window)

		var hours []Snapshot
		for j := range baseline {
			h := baseline[j].Hour
			if !h.Before(from) && h.Before(current.Hour) {
				hours = append(hours, baseline[j])
			}
		}
		if len(hours) < d.cfg.MinBaselineHours {
			continue
		}

		findings = append(findings, d.scoreHour(current, hours)...)
	}
	return findings
}

func (d *Detector) scoreHour(current *Snapshot, baseline []Snapshot) []types.FindingCandidate {
	requests := make([]float64, len(baseline))
	errorRates := make([]float64, len(baseline))
	uniqueIPs := make([]float64, len(baseline))
	for i := range baseline {
		requests[i] = float64(baseline[i].Requests)
		errorRates[i] = errorRate(baseline[i].Status5xx, baseline[i].Requests)
		uniqueIPs[i] = float64(baseline[i].UniqueIPs)
	}

	currentRate := errorRate(current.Status5xx, current.Requests)
	hour := current.Hour.Format(time.RFC3339)

	var findings []types.FindingCandidate

	if z, ok := zScore(float64(current.Requests), requests); ok && z >= d.cfg.ZThreshold {
		metadata := map[string]any{
			"hour_bucket":    hour,
			"requests_count": current.Requests,
			"z_score":        z,
			"unique_ips":     current.UniqueIPs,
		}
		if ipsZ, ok := zScore(float64(current.UniqueIPs), uniqueIPs); ok {
			metadata["unique_ips_z_score"] = ipsZ
		}
		findings = append(findings, types.FindingCandidate{
			Type:        "traffic_spike",
			Severity:    types.SeverityMedium,
			Title:       "Traffic Spike Detected",
			Description: "Hourly request volume exceeded baseline by more than " + formatThreshold(d.cfg.ZThreshold) + " standard deviations.",
			Evidence: []types.Evidence{{
				"hour_bucket":    hour,
				"requests_count": current.Requests,
			}},
			SuggestedAction: "Investigate traffic source and rate-limit if abusive.",
			Metadata:        metadata,
		})
	}

	if z, ok := zScore(currentRate, errorRates); ok && z >= d.cfg.ZThreshold {
		findings = append(findings, types.FindingCandidate{
			Type:        "error_spike",
			Severity:    types.SeverityHigh,
			Title:       "Error Rate Spike Detected",
			Description: "Hourly 5xx error rate exceeded baseline by more than " + formatThreshold(d.cfg.ZThreshold) + " standard deviations.",
			Evidence: []types.Evidence{{
				"hour_bucket": hour,
				"error_rate":  math.Round(currentRate*10000) / 10000,
				"status_5xx":  current.Status5xx,
			}},
			SuggestedAction: "Check application logs and recent deployments.",
			Metadata: map[string]any{
				"hour_bucket": hour,
				"error_rate":  currentRate,
				"z_score":     z,
			},
		})
	}

	findings = append(findings, d.newPathFindings(current, baseline, hour)...)
	return findings
}

func (d *Detector) newPathFindings(current *Snapshot, baseline []Snapshot, hour string) []types.FindingCandidate {
	seen := make(map[string]bool)
	for i := range baseline {
		for _, pc := range baseline[i].TopPaths {
			if pc.Path != "" {
				seen[pc.Path] = true
			}
		}
	}

	var findings []types.FindingCandidate
	for _, pc := range current.TopPaths {
		if pc.Path == "" || seen[pc.Path] || pc.Count < d.cfg.NewPathMinCount {
			continue
		}
		findings = append(findings, types.FindingCandidate{
			Type:        "new_endpoint_burst",
			Severity:    types.SeverityMedium,
			Title:       "New Endpoint Burst Detected",
			Description: "High-traffic requests detected for a previously unseen path.",
			Evidence: []types.Evidence{{
				"hour_bucket": hour,
				"path":        pc.Path,
				"count":       pc.Count,
			}},
			SuggestedAction: "Verify the endpoint and check for unauthorized exposure.",
			Metadata: map[string]any{
				"hour_bucket": hour,
				"path":        pc.Path,
				"count":       pc.Count,
			},
		})
	}
	return findings
}

// errorRate is 5xx over requests, 0 for idle hours.
func errorRate(status5xx, requests int) float64 {
	if requests <= 0 {
		return 0
	}
	return float64(status5xx) / float64(requests)
}

// zScore is (value - mean) / pstdev. The score is undefined for fewer
// than two baseline values or zero variance.
func zScore(value float64, baseline []float64) (float64, bool) {
	if len(baseline) < 2 {
		return 0, false
	}
	var sum float64
	for _, v := range baseline {
		sum += v
	}
	mean := sum / float64(len(baseline))

	var sqDiff float64
	for _, v := range baseline {
		d := v - mean
		sqDiff += d * d
	}
	std := math.Sqrt(sqDiff / float64(len(baseline)))
	if std == 0 {
		return 0, false
	}
	return (value - mean) / std, true
}

func formatThreshold(t float64) string {
	if t == math.Trunc(t) {
		return strconvFormat(t, 1)
	}
	return strconvFormat(t, -1)
}

func strconvFormat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}
