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

package parser

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"
)

// Combined log format, shared by nginx ($remote_addr - $remote_user
// [$time_local] "$request" $status $body_bytes_sent "$http_referer"
// "$http_user_agent") and apache (%h %l %u %t "%r" %>s %b
// "%{Referer}i" "%{User-Agent}i"):
//
//	192.168.1.1 - frank [10/Oct/2024:13:55:36 -0700] "GET /a.gif HTTP/1.0" 200 2326 "http://example.com/" "Mozilla/4.08"
//
// Referer and user agent are optional so common-format lines still
// parse; trailing extra fields are tolerated.
var combinedPattern = regexp.MustCompile(
	`^(?P<ip>\S+)\s+` +
		`(?P<ident>\S+)\s+` +
		`(?P<user>\S+)\s+` +
		`\[(?P<time>[^\]]+)\]\s+` +
		`"(?P<request>[^"]*)"\s+` +
		`(?P<status>\d+)\s+` +
		`(?P<bytes>\d+|-)\s*` +
		`(?:"(?P<referer>[^"]*)"\s*)?` +
		`(?:"(?P<user_agent>[^"]*)")?` +
		`.*$`)

// requestPattern splits the request line into METHOD PATH [PROTOCOL].
var requestPattern = regexp.MustCompile(`^(?P<method>\S+)\s+(?P<path>\S+)(?:\s+(?P<protocol>\S+))?$`)

// combinedTimeLayout matches 10/Oct/2024:13:55:36 -0700
const combinedTimeLayout = "02/Jan/2006:15:04:05 -0700"

type combinedParser struct {
	name string
}

func newCombinedParser(name string) *combinedParser {
	return &combinedParser{name: name}
}

func (p *combinedParser) Name() string {
	return p.name
}

func (p *combinedParser) Parse(r io.Reader) (*ParseResult, error) {
	return parseLines(r, p.parseLine)
}

func (p *combinedParser) ParseBytes(data []byte) (*ParseResult, error) {
	return parseBytes(data, p.parseLine)
}

func (p *combinedParser) parseLine(line string, lineNo int) (*LogEvent, error) {
	groups := matchGroups(combinedPattern, line)
	if groups == nil {
		return nil, fmt.Errorf("line does not match %v format", p.name)
	}

	ts, err := time.Parse(combinedTimeLayout, groups["time"])
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q", groups["time"])
	}

	method, path, protocol := "-", "-", ""
	if request := groups["request"]; request != "" && request != "-" {
		if req := matchGroups(requestPattern, request); req != nil {
			method, path, protocol = req["method"], req["path"], req["protocol"]
		} else {
			// malformed request line, keep it as the path
			path = request
		}
	}

	status, err := strconv.Atoi(groups["status"])
	if err != nil {
		return nil, fmt.Errorf("invalid status code %q", groups["status"])
	}

	var bytesSent int64
	if b := groups["bytes"]; b != "" && b != "-" {
		// the pattern guarantees digits; overflow falls back to 0
		bytesSent, _ = strconv.ParseInt(b, 10, 64)
	}

	return &LogEvent{
		Timestamp: ts.UTC(),
		IP:        groups["ip"],
		Method:    method,
		Path:      path,
		Protocol:  protocol,
		Status:    status,
		BytesSent: bytesSent,
		Referer:   dashToEmpty(groups["referer"]),
		UserAgent: dashToEmpty(groups["user_agent"]),
		User:      dashToEmpty(groups["user"]),
		Raw:       line,
		Line:      lineNo,
	}, nil
}

// matchGroups returns the named capture groups of re in s, or nil when
// s does not match.
func matchGroups(re *regexp.Regexp, s string) map[string]string {
	match := re.FindStringSubmatch(s)
	if match == nil {
		return nil
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = match[i]
		}
	}
	return groups
}

func dashToEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
