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

// Package errlog extracts structured error records from application
// log text and fingerprints them for grouping.
//
// Extractors exist for python tracebacks, javascript and java stack
// traces, 5xx access log lines and apache error logs (including
// ModSecurity entries). The auto format runs all of them over the
// blob. Records that carry the same error class and normalized
// message share a fingerprint regardless of the variable payload
// embedded in the message.
package errlog

import (
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Format is a parsing hint for the error log contents.
type Format string

const (
	// FormatAuto runs every extractor over the blob
	FormatAuto Format = "auto"
	// FormatPython extracts python errors and tracebacks
	FormatPython Format = "python"
	// FormatJavaScript extracts javascript errors and stacks
	FormatJavaScript Format = "javascript"
	// FormatJava extracts java exceptions and stacks
	FormatJava Format = "java"
	// FormatHTTP extracts 5xx responses from access log lines
	FormatHTTP Format = "http"
	// FormatApache extracts apache error log entries
	FormatApache Format = "apache"
)

// Record is one extracted application error.
type Record struct {
	// ErrorType is the error class, e.g. ValueError or HTTP500Error
	ErrorType string `json:"error_type"`
	// Message is the raw error message
	Message string `json:"error_message"`
	// Timestamp is the error time in UTC. When the log line carries
	// no parseable time this is the parser's reference time.
	Timestamp time.Time `json:"timestamp"`
	// StackTrace is the captured trace text, empty when absent
	StackTrace string `json:"stack_trace,omitempty"`
	// FilePath, LineNumber and FunctionName locate the frame that
	// raised, when the trace exposes one
	FilePath     string `json:"file_path,omitempty"`
	LineNumber   int    `json:"line_number,omitempty"`
	FunctionName string `json:"function_name,omitempty"`
	// RequestURL and RequestMethod are set for HTTP-derived records
	RequestURL    string `json:"request_url,omitempty"`
	RequestMethod string `json:"request_method,omitempty"`
	// IPAddress is the client address for HTTP and apache records
	IPAddress string `json:"ip_address,omitempty"`
	// UserID is the authenticated user when the log exposes one
	UserID string `json:"user_id,omitempty"`
	// Context carries extractor specific fields, e.g. ModSecurity
	// rule metadata
	Context map[string]string `json:"context,omitempty"`
}

// Config configures a Parser.
type Config struct {
	// Clock supplies the fallback timestamp for lines whose own
	// time cannot be parsed. Callers replaying old files can pass a
	// clock frozen at the file's upload time.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Parser extracts error records from log text.
type Parser struct {
	clock clockwork.Clock
}

// New returns a Parser with validated config.
func New(cfg Config) (*Parser, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Parser{clock: cfg.Clock}, nil
}

// Parse extracts all error records the format's extractors find in
// content, in match order.
func (p *Parser) Parse(content string, format Format) ([]Record, error) {
	switch format {
	case FormatAuto, "":
		var records []Record
		records = append(records, p.parsePython(content)...)
		records = append(records, p.parseJavaScript(content)...)
		records = append(records, p.parseJava(content)...)
		records = append(records, p.parseHTTP(content)...)
		records = append(records, p.parseApache(content)...)
		return records, nil
	case FormatPython:
		return p.parsePython(content), nil
	case FormatJavaScript:
		return p.parseJavaScript(content), nil
	case FormatJava:
		return p.parseJava(content), nil
	case FormatHTTP:
		return p.parseHTTP(content), nil
	case FormatApache:
		return p.parseApache(content), nil
	}
	return nil, trace.BadParameter("unsupported error log format %q", format)
}

// timestamp layouts accepted across extractors. Fractional seconds
// are accepted by time.Parse without being spelled in the layout.
const (
	isoTLayout     = "2006-01-02T15:04:05"
	isoSpaceLayout = "2006-01-02 15:04:05"
	httpTimeLayout = "02/Jan/2006:15:04:05"
	ctimeLayout    = "Mon Jan 02 15:04:05 2006"
)

// parseTimestamp parses an ISO-8601 style timestamp. The zone suffix
// is discarded and the wall time read as UTC, matching how the rest
// of the pipeline stores times. Unparseable input falls back to the
// reference clock.
func (p *Parser) parseTimestamp(s string) time.Time {
	s = isoZonePattern.ReplaceAllString(s, "")
	for _, layout := range []string{isoTLayout, isoSpaceLayout} {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts
		}
	}
	return p.clock.Now().UTC()
}

// parseHTTPTimestamp parses the access log time form, discarding the
// zone offset.
func (p *Parser) parseHTTPTimestamp(s string) time.Time {
	s = httpZonePattern.ReplaceAllString(s, "")
	if ts, err := time.ParseInLocation(httpTimeLayout, s, time.UTC); err == nil {
		return ts
	}
	return p.clock.Now().UTC()
}

// parseCtime parses the apache error log time form.
func (p *Parser) parseCtime(s string) time.Time {
	if ts, err := time.ParseInLocation(ctimeLayout, s, time.UTC); err == nil {
		return ts
	}
	return p.clock.Now().UTC()
}
