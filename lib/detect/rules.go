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

package detect

import (
	"regexp"

	"github.com/gravitational/logport/lib/parser"
	"github.com/gravitational/logport/lib/types"
)

// Rule matches single events, either by a case-insensitive pattern
// over the request path or by a predicate over the whole event.
type Rule struct {
	// Name identifies the rule and becomes the finding type
	Name string
	// Pattern is searched in the request path when set
	Pattern *regexp.Regexp
	// Predicate is consulted when Pattern is nil
	Predicate func(e *parser.LogEvent) bool
	Severity  types.Severity
	Title     string
	// Description and Action may contain an {ip} placeholder
	Description string
	Action      string
}

// Match reports whether the event triggers the rule.
func (r *Rule) Match(e *parser.LogEvent) bool {
	if r.Pattern != nil {
		return r.Pattern.MatchString(e.Path)
	}
	if r.Predicate != nil {
		return r.Predicate(e)
	}
	return false
}

// BurstRule matches when at least Threshold events satisfying
// Predicate arrive from one IP within a Window-minute span.
type BurstRule struct {
	Name      string
	Predicate func(e *parser.LogEvent) bool
	// Threshold is the minimum event count inside the window
	Threshold int
	// WindowMinutes is the sliding window width
	WindowMinutes int
	Severity      types.Severity
	Title         string
	Description   string
	Action        string
}

// DefaultRules is the built-in scanning, probing and abuse rule set.
var DefaultRules = []Rule{
	{
		Name:        "path_traversal",
		Pattern:     regexp.MustCompile(`(?i)\.\./|%2e%2e`),
		Severity:    types.SeverityHigh,
		Title:       "Path Traversal Attempt Detected",
		Description: "Multiple requests containing ../ patterns detected from IP {ip}",
		Action:      "Block IP {ip} at firewall level. Review WAF rules for path traversal protection.",
	},
	{
		Name:        "env_file_access",
		Pattern:     regexp.MustCompile(`(?i)/\.env`),
		Severity:    types.SeverityCritical,
		Title:       "Environment File Access Attempt Detected",
		Description: "Requests to /.env detected from IP {ip}",
		Action:      "Block IP {ip} and rotate any exposed secrets if necessary.",
	},
	{
		Name:        "wp_admin_probe",
		Pattern:     regexp.MustCompile(`(?i)/wp-admin|/wp-login`),
		Severity:    types.SeverityMedium,
		Title:       "WordPress Admin Probe Detected",
		Description: "Requests to WordPress admin paths detected from IP {ip}",
		Action:      "Block IP {ip} if WordPress is not used. Tighten CMS access controls.",
	},
	{
		Name:        "phpmyadmin_probe",
		Pattern:     regexp.MustCompile(`(?i)/phpmyadmin|/pma`),
		Severity:    types.SeverityMedium,
		Title:       "phpMyAdmin Probe Detected",
		Description: "Requests to phpMyAdmin paths detected from IP {ip}",
		Action:      "Block IP {ip} and restrict database admin interfaces.",
	},
	{
		Name:        "cgi_bin_probe",
		Pattern:     regexp.MustCompile(`(?i)/cgi-bin/`),
		Severity:    types.SeverityMedium,
		Title:       "CGI-BIN Probe Detected",
		Description: "Requests to /cgi-bin/ detected from IP {ip}",
		Action:      "Block IP {ip} and remove or secure legacy CGI endpoints.",
	},
	{
		Name:        "empty_user_agent",
		Predicate:   func(e *parser.LogEvent) bool { return e.UserAgent == "" },
		Severity:    types.SeverityLow,
		Title:       "Empty User Agent Detected",
		Description: "Requests without a user-agent header detected from IP {ip}",
		Action:      "Consider blocking automated clients from IP {ip}.",
	},
	{
		Name:        "suspicious_method",
		Predicate:   func(e *parser.LogEvent) bool { return e.Method == "TRACE" || e.Method == "CONNECT" },
		Severity:    types.SeverityMedium,
		Title:       "Suspicious HTTP Method Detected",
		Description: "Requests using TRACE or CONNECT detected from IP {ip}",
		Action:      "Disable TRACE/CONNECT on the server and block IP {ip} if needed.",
	},
}

// DefaultBurstRules is the built-in sliding window rule set.
var DefaultBurstRules = []BurstRule{
	{
		Name:          "burst_404",
		Predicate:     func(e *parser.LogEvent) bool { return e.Status == 404 },
		Threshold:     10,
		WindowMinutes: 10,
		Severity:      types.SeverityMedium,
		Title:         "Burst of 404 Responses",
		Description:   "High rate of 404 responses detected from IP {ip}",
		Action:        "Review the source IP {ip} for scanning or broken links.",
	},
	{
		Name:          "burst_500",
		Predicate:     func(e *parser.LogEvent) bool { return e.Status >= 500 && e.Status < 600 },
		Threshold:     5,
		WindowMinutes: 10,
		Severity:      types.SeverityHigh,
		Title:         "Burst of 5xx Responses",
		Description:   "High rate of 5xx responses detected from IP {ip}",
		Action:        "Investigate server errors and rate-limit IP {ip} if abusive.",
	},
}
