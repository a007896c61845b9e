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

// Package parser turns raw access log bytes into normalized events.
//
// Parsing never aborts on a bad line: every line folds into exactly
// one of event, skip or error, and the counters in ParseResult account
// for all of them.
package parser

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/types"
)

// LogEvent is one normalized access log record.
type LogEvent struct {
	// Timestamp is the request time in UTC
	Timestamp time.Time `json:"timestamp"`
	// IP is the remote address as logged
	IP string `json:"ip"`
	// Method is the HTTP method, "-" when the request line was
	// malformed
	Method string `json:"method"`
	// Path is the request path, or the whole request string when
	// the request line was malformed
	Path string `json:"path"`
	// Protocol is e.g. HTTP/1.1, empty when absent
	Protocol string `json:"protocol,omitempty"`
	// Status is the HTTP response status
	Status int `json:"status"`
	// BytesSent is the response body size, 0 when logged as "-"
	BytesSent int64 `json:"bytes_sent"`
	// Referer is empty when logged as "-"
	Referer string `json:"referer,omitempty"`
	// UserAgent is empty when logged as "-"
	UserAgent string `json:"user_agent,omitempty"`
	// User is the authenticated user, empty when logged as "-"
	User string `json:"user,omitempty"`
	// Raw is the trimmed source line
	Raw string `json:"raw_line"`
	// Line is the 1-indexed position in the source stream
	Line int `json:"line_number"`
}

// StatusClass buckets the response status into 2xx/3xx/4xx/5xx/other.
func (e *LogEvent) StatusClass() string {
	switch {
	case e.Status >= 200 && e.Status < 300:
		return "2xx"
	case e.Status >= 300 && e.Status < 400:
		return "3xx"
	case e.Status >= 400 && e.Status < 500:
		return "4xx"
	case e.Status >= 500 && e.Status < 600:
		return "5xx"
	}
	return "other"
}

// LineError records one line that failed to parse.
type LineError struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Reason string `json:"error"`
}

// ParseResult carries the events and statistics of one parsed file.
type ParseResult struct {
	TotalLines  int        `json:"total_lines"`
	ParsedLines int        `json:"parsed_lines"`
	FailedLines int        `json:"failed_lines"`
	EmptyLines  int        `json:"empty_lines"`
	Events      []LogEvent `json:"-"`
	// Errors keeps at most the first MaxFailedLineSamples failures
	Errors         []LineError `json:"sample_errors"`
	FirstTimestamp time.Time   `json:"first_timestamp"`
	LastTimestamp  time.Time   `json:"last_timestamp"`
}

// AddEvent accounts for a successfully parsed line.
func (r *ParseResult) AddEvent(event LogEvent) {
	r.Events = append(r.Events, event)
	r.ParsedLines++
	if r.FirstTimestamp.IsZero() || event.Timestamp.Before(r.FirstTimestamp) {
		r.FirstTimestamp = event.Timestamp
	}
	if r.LastTimestamp.IsZero() || event.Timestamp.After(r.LastTimestamp) {
		r.LastTimestamp = event.Timestamp
	}
}

// AddError accounts for a failed line, sampling the first few.
func (r *ParseResult) AddError(lineNo int, raw, reason string) {
	r.FailedLines++
	if len(r.Errors) < logport.MaxFailedLineSamples {
		r.Errors = append(r.Errors, LineError{Line: lineNo, Raw: raw, Reason: reason})
	}
}

// SuccessRate is parsed lines over non-empty lines, 0 for empty input.
func (r *ParseResult) SuccessRate() float64 {
	parseable := r.TotalLines - r.EmptyLines
	if parseable == 0 {
		return 0
	}
	return float64(r.ParsedLines) / float64(parseable)
}

// Stats is the JSON shape of parse statistics kept in job result
// summaries.
type Stats struct {
	TotalLines     int         `json:"total_lines"`
	ParsedLines    int         `json:"parsed_lines"`
	FailedLines    int         `json:"failed_lines"`
	EmptyLines     int         `json:"empty_lines"`
	SuccessRate    float64     `json:"success_rate"`
	FirstTimestamp string      `json:"first_timestamp,omitempty"`
	LastTimestamp  string      `json:"last_timestamp,omitempty"`
	SampleErrors   []LineError `json:"sample_errors"`
}

// Stats converts the result to its summary form. Success rate is a
// percentage rounded to two decimals, sample lines are truncated.
func (r *ParseResult) Stats() Stats {
	s := Stats{
		TotalLines:   r.TotalLines,
		ParsedLines:  r.ParsedLines,
		FailedLines:  r.FailedLines,
		EmptyLines:   r.EmptyLines,
		SuccessRate:  float64(int(r.SuccessRate()*10000+0.5)) / 100,
		SampleErrors: make([]LineError, 0, len(r.Errors)),
	}
	if !r.FirstTimestamp.IsZero() {
		s.FirstTimestamp = r.FirstTimestamp.Format(time.RFC3339)
	}
	if !r.LastTimestamp.IsZero() {
		s.LastTimestamp = r.LastTimestamp.Format(time.RFC3339)
	}
	for _, e := range r.Errors {
		if len(e.Raw) > 200 {
			e.Raw = e.Raw[:200]
		}
		s.SampleErrors = append(s.SampleErrors, e)
	}
	return s
}

// Parser parses one access log format.
type Parser interface {
	// Name returns the format name
	Name() string
	// Parse consumes the reader line by line
	Parse(r io.Reader) (*ParseResult, error)
	// ParseBytes parses an in-memory file
	ParseBytes(data []byte) (*ParseResult, error)
}

// Get returns the parser registered for the format.
func Get(format types.LogFormat) (Parser, error) {
	p, ok := registry[format]
	if !ok {
		return nil, trace.BadParameter("unsupported log format %q", format)
	}
	return p, nil
}

// Formats lists the registered format names.
func Formats() []types.LogFormat {
	out := make([]types.LogFormat, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	return out
}

var registry = map[types.LogFormat]Parser{
	types.FormatNginxCombined:  newCombinedParser(string(types.FormatNginxCombined)),
	types.FormatApacheCombined: newCombinedParser(string(types.FormatApacheCombined)),
}

// maxLineBytes bounds a single log line; anything longer is a failed
// line, not a failed file
const maxLineBytes = 1024 * 1024

// parseLines folds the line stream into a ParseResult. parseLine
// reports one of three outcomes per line: an event, a skip (nil, nil)
// or an error value. Lines are numbered before trimming.
func parseLines(r io.Reader, parseLine func(line string, lineNo int) (*LogEvent, error)) (*ParseResult, error) {
	result := &ParseResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		result.TotalLines++

		line := strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), "�"))
		if line == "" || strings.HasPrefix(line, "#") {
			result.EmptyLines++
			continue
		}

		event, err := parseLine(line, lineNo)
		switch {
		case err != nil:
			result.AddError(lineNo, line, err.Error())
		case event == nil:
			result.EmptyLines++
		default:
			result.AddEvent(*event)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, trace.Wrap(err, "reading log stream at line %d", lineNo)
	}
	return result, nil
}

func parseBytes(data []byte, parseLine func(line string, lineNo int) (*LogEvent, error)) (*ParseResult, error) {
	return parseLines(bytes.NewReader(data), parseLine)
}
