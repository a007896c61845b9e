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

// Package detect scans parsed access log events for security signals.
//
// Two detector tiers run over every file: event rules match single
// requests and group the matches per (rule, source IP); burst rules
// slide a fixed window over each IP's matching requests and fire when
// the window fills past a threshold.
package detect

import (
	"sort"
	"strings"
	"time"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/parser"
	"github.com/gravitational/logport/lib/types"
)

// Detect runs the default rule sets over the events.
func Detect(events []parser.LogEvent) []types.FindingCandidate {
	return DetectWithRules(events, DefaultRules, DefaultBurstRules)
}

// DetectWithRules runs the given rule sets. Event rule findings come
// first, then burst findings, both in first-match order.
func DetectWithRules(events []parser.LogEvent, rules []Rule, bursts []BurstRule) []types.FindingCandidate {
	findings := detectEventRules(events, rules)
	for i := range bursts {
		findings = append(findings, detectBurst(events, &bursts[i])...)
	}
	return findings
}

type groupKey struct {
	rule string
	ip   string
}

func detectEventRules(events []parser.LogEvent, rules []Rule) []types.FindingCandidate {
	matches := make(map[groupKey][]*parser.LogEvent)
	var order []groupKey

	for i := range events {
		event := &events[i]
		for j := range rules {
			if !rules[j].Match(event) {
				continue
			}
			key := groupKey{rule: rules[j].Name, ip: sourceIP(event)}
			if _, seen := matches[key]; !seen {
				order = append(order, key)
			}
			matches[key] = append(matches[key], event)
		}
	}

	byName := make(map[string]*Rule, len(rules))
	for i := range rules {
		byName[rules[i].Name] = &rules[i]
	}

	findings := make([]types.FindingCandidate, 0, len(order))
	for _, key := range order {
		rule := byName[key.rule]
		grouped := matches[key]
		findings = append(findings, types.FindingCandidate{
			Type:            rule.Name,
			Severity:        rule.Severity,
			Title:           rule.Title,
			Description:     expandIP(rule.Description, key.ip),
			Evidence:        buildEvidence(grouped),
			SuggestedAction: expandIP(rule.Action, key.ip),
			Metadata:        buildMetadata(grouped, key.ip),
		})
	}
	return findings
}

// detectBurst sweeps a two pointer window over each IP's matching
// events and keeps the earliest window of maximal size that meets the
// threshold.
func detectBurst(events []parser.LogEvent, rule *BurstRule) []types.FindingCandidate {
	byIP := make(map[string][]*parser.LogEvent)
	var ips []string
	for i := range events {
		event := &events[i]
		if !rule.Predicate(event) {
			continue
		}
		ip := sourceIP(event)
		if _, seen := byIP[ip]; !seen {
			ips = append(ips, ip)
		}
		byIP[ip] = append(byIP[ip], event)
	}

	window := time.Duration(rule.WindowMinutes) * time.Minute
	var findings []types.FindingCandidate

	for _, ip := range ips {
		ordered := byIP[ip]
		sortByTime(ordered)

		var best []*parser.LogEvent
		start := 0
		for end := range ordered {
			for ordered[end].Timestamp.Sub(ordered[start].Timestamp) > window {
				start++
			}
			size := end - start + 1
			if size >= rule.Threshold && size > len(best) {
				best = ordered[start : end+1]
			}
		}
		if best == nil {
			continue
		}

		metadata := buildMetadata(best, ip)
		metadata["window_minutes"] = rule.WindowMinutes
		findings = append(findings, types.FindingCandidate{
			Type:            rule.Name,
			Severity:        rule.Severity,
			Title:           rule.Title,
			Description:     expandIP(rule.Description, ip),
			Evidence:        buildEvidence(best),
			SuggestedAction: expandIP(rule.Action, ip),
			Metadata:        metadata,
		})
	}
	return findings
}

// buildEvidence keeps the earliest matches as raw line samples.
func buildEvidence(events []*parser.LogEvent) []types.Evidence {
	ordered := make([]*parser.LogEvent, len(events))
	copy(ordered, events)
	sortByTime(ordered)

	n := len(ordered)
	if n > logport.MaxEvidenceSamples {
		n = logport.MaxEvidenceSamples
	}
	evidence := make([]types.Evidence, 0, n)
	for _, e := range ordered[:n] {
		evidence = append(evidence, types.Evidence{"line": e.Line, "raw": e.Raw})
	}
	return evidence
}

func buildMetadata(events []*parser.LogEvent, ip string) map[string]any {
	first, last := events[0].Timestamp, events[0].Timestamp
	for _, e := range events[1:] {
		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return map[string]any{
		"source_ip":  ip,
		"count":      len(events),
		"first_seen": first.Format(time.RFC3339),
		"last_seen":  last.Format(time.RFC3339),
	}
}

func sortByTime(events []*parser.LogEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func sourceIP(e *parser.LogEvent) string {
	if e.IP == "" {
		return "unknown"
	}
	return e.IP
}

func expandIP(template, ip string) string {
	return strings.ReplaceAll(template, "{ip}", ip)
}
