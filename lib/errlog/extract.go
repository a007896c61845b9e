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

package errlog

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// lookbackBytes bounds how far behind an error line the python
// extractor searches for its traceback; lookaheadBytes bounds how far
// past an error line the javascript and java extractors collect stack
// frames.
const (
	lookbackBytes  = 5000
	lookaheadBytes = 3000
)

// timestampExpr matches ISO-8601 style timestamps with optional
// fraction and zone.
const timestampExpr = `\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`

var (
	isoZonePattern  = regexp.MustCompile(`(?:Z|[+-]\d{2}:\d{2})$`)
	httpZonePattern = regexp.MustCompile(` [+-]\d{4}$`)

	// pythonErrorPattern matches a timestamped error line such as
	// "2026-01-21 10:00:00 app ValueError: bad id"
	pythonErrorPattern = regexp.MustCompile(`(?m)(` + timestampExpr + `).*?(\w+(?:Error|Exception)): (.*)$`)

	// pythonBareErrorPattern matches the terminating line of a
	// traceback, "ValueError: bad id", which carries no timestamp
	pythonBareErrorPattern = regexp.MustCompile(`(?m)^(\w+(?:Error|Exception)): (.*)$`)

	// tracebackStart opens a python traceback block
	tracebackStart = "Traceback (most recent call last):"

	// pythonFramePattern matches one python traceback frame
	pythonFramePattern = regexp.MustCompile(`File "([^"]+)", line (\d+), in (\w+)`)

	javascriptErrorPattern = regexp.MustCompile(`(?m)(` + timestampExpr + `).*?(\w+Error): (.*)$`)
	javascriptFramePattern = regexp.MustCompile(`at ([\w.]+) \(([\w./]+):(\d+):\d+\)`)

	javaErrorPattern = regexp.MustCompile(`(?m)(` + timestampExpr + `).*?([\w.]+Exception): (.*)$`)
	javaFramePattern = regexp.MustCompile(`at ([\w.]+)\(([\w.]+):(\d+)\)`)

	// http500Pattern matches combined access log lines with a 5xx
	// status
	http500Pattern = regexp.MustCompile(`(?m)([\d.]+) - (\S+) \[([^\]]+)\] "(\w+) (\S+) HTTP/\d\.\d" (5\d{2})`)

	// bracketPattern peels one leading [block] off an apache error
	// log line
	bracketPattern = regexp.MustCompile(`^\[([^\]]*)\]\s*`)

	// apacheTimestampPattern recognizes the ctime form apache puts
	// in its first bracket block
	apacheTimestampPattern = regexp.MustCompile(`^[A-Za-z]{3} [A-Za-z]{3} \d{2} \d{2}:\d{2}:\d{2} \d{4}$`)

	modsecMsgPattern      = regexp.MustCompile(`\[msg "([^"]+)"\]`)
	modsecURIPattern      = regexp.MustCompile(`\[uri "([^"]+)"\]`)
	modsecRuleIDPattern   = regexp.MustCompile(`\[id "([^"]+)"\]`)
	modsecSeverityPattern = regexp.MustCompile(`\[severity "([^"]+)"\]`)

	apacheDeniedPattern = regexp.MustCompile(`client denied by server configuration: (.*)$`)
)

// parsePython extracts python errors, matching both timestamped error
// lines and the bare "Type: message" line that terminates a
// traceback. The traceback preceding the error supplies the stack and
// the raising frame.
func (p *Parser) parsePython(content string) []Record {
	type match struct {
		pos     int
		ts      string
		etype   string
		message string
	}
	var matches []match
	for _, m := range pythonErrorPattern.FindAllStringSubmatchIndex(content, -1) {
		matches = append(matches, match{
			pos:     m[0],
			ts:      content[m[2]:m[3]],
			etype:   content[m[4]:m[5]],
			message: content[m[6]:m[7]],
		})
	}
	for _, m := range pythonBareErrorPattern.FindAllStringSubmatchIndex(content, -1) {
		matches = append(matches, match{
			pos:     m[0],
			etype:   content[m[2]:m[3]],
			message: content[m[4]:m[5]],
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	records := make([]Record, 0, len(matches))
	for _, m := range matches {
		record := Record{
			ErrorType: m.etype,
			Message:   strings.TrimSpace(m.message),
			Timestamp: p.pythonTimestamp(m.ts),
		}

		lookback := content[max(0, m.pos-lookbackBytes):m.pos]
		if stack := lastTraceback(lookback); stack != "" {
			record.StackTrace = stack
			if frames := pythonFramePattern.FindAllStringSubmatch(stack, -1); len(frames) > 0 {
				last := frames[len(frames)-1]
				record.FilePath = last[1]
				record.LineNumber = atoi(last[2])
				record.FunctionName = last[3]
			}
		}
		records = append(records, record)
	}
	return records
}

func (p *Parser) pythonTimestamp(ts string) time.Time {
	if ts == "" {
		return p.clock.Now().UTC()
	}
	return p.parseTimestamp(ts)
}

// lastTraceback returns the traceback block closest to the end of s,
// from its opening line up to (not including) the terminating
// "Type: message" line.
func lastTraceback(s string) string {
	start := strings.LastIndex(s, tracebackStart)
	if start < 0 {
		return ""
	}
	block := s[start:]
	if end := pythonBareErrorPattern.FindStringIndex(block); end != nil {
		block = block[:end[0]]
	}
	return strings.TrimRight(block, "\n")
}

// parseJavaScript extracts javascript errors and the "at fn (file:
// line:col)" frames that follow them.
func (p *Parser) parseJavaScript(content string) []Record {
	var records []Record
	for _, m := range javascriptErrorPattern.FindAllStringSubmatchIndex(content, -1) {
		record := Record{
			ErrorType: content[m[4]:m[5]],
			Message:   strings.TrimSpace(content[m[6]:m[7]]),
			Timestamp: p.parseTimestamp(content[m[2]:m[3]]),
		}

		following := content[m[1]:min(len(content), m[1]+lookaheadBytes)]
		var stack []string
		for _, line := range strings.Split(following, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "at ") {
				stack = append(stack, line)
			} else if len(stack) > 0 {
				break
			}
		}
		if len(stack) > 0 {
			record.StackTrace = strings.Join(stack, "\n")
			if frame := javascriptFramePattern.FindStringSubmatch(record.StackTrace); frame != nil {
				record.FunctionName = frame[1]
				record.FilePath = frame[2]
				record.LineNumber = atoi(frame[3])
			}
		}
		records = append(records, record)
	}
	return records
}

// parseJava extracts java exceptions with their "at pkg.Class(File.
// java:42)" frames, chained causes included.
func (p *Parser) parseJava(content string) []Record {
	var records []Record
	for _, m := range javaErrorPattern.FindAllStringSubmatchIndex(content, -1) {
		record := Record{
			ErrorType: content[m[4]:m[5]],
			Message:   strings.TrimSpace(content[m[6]:m[7]]),
			Timestamp: p.parseTimestamp(content[m[2]:m[3]]),
		}

		following := content[m[1]:min(len(content), m[1]+lookaheadBytes)]
		var stack []string
		for _, line := range strings.Split(following, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "at ") ||
				strings.HasPrefix(line, "...") ||
				strings.HasPrefix(line, "Caused by:") {
				stack = append(stack, line)
				continue
			}
			if len(stack) > 0 && line == "" {
				break
			}
		}
		if len(stack) > 0 {
			record.StackTrace = strings.Join(stack, "\n")
			if frame := javaFramePattern.FindStringSubmatch(record.StackTrace); frame != nil {
				record.FunctionName = frame[1]
				record.FilePath = frame[2]
				record.LineNumber = atoi(frame[3])
			}
		}
		records = append(records, record)
	}
	return records
}

// parseHTTP turns 5xx access log lines into HTTP500Error records.
func (p *Parser) parseHTTP(content string) []Record {
	var records []Record
	for _, m := range http500Pattern.FindAllStringSubmatch(content, -1) {
		record := Record{
			ErrorType:     "HTTP500Error",
			Message:       "Internal Server Error on " + m[4] + " " + m[5],
			Timestamp:     p.parseHTTPTimestamp(m[3]),
			RequestURL:    m[5],
			RequestMethod: m[4],
			IPAddress:     m[1],
		}
		if m[2] != "-" {
			record.UserID = m[2]
		}
		records = append(records, record)
	}
	return records
}

// parseApache extracts apache error log entries. The leading bracket
// blocks are peeled one by one: the ctime timestamp, the module:level
// block, pid/tid blocks, and an optional [client addr] block, with
// everything after them as the message. ModSecurity messages get
// their rule metadata lifted into the record context.
func (p *Parser) parseApache(content string) []Record {
	var records []Record
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "[") {
			continue
		}

		// the first block must be the ctime timestamp; remaining
		// blocks (module:level, pid, tid, client) are peeled until
		// the free-form message starts
		m := bracketPattern.FindStringSubmatch(line)
		if m == nil || !apacheTimestampPattern.MatchString(m[1]) {
			continue
		}
		ts := m[1]
		rest := line[len(m[0]):]

		var ip string
		for {
			m := bracketPattern.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			if strings.HasPrefix(m[1], "client ") {
				ip = strings.TrimPrefix(m[1], "client ")
			}
			rest = rest[len(m[0]):]
		}
		message := strings.TrimSpace(rest)
		if message == "" {
			continue
		}

		record := Record{
			Timestamp: p.parseCtime(ts),
			IPAddress: ip,
		}

		if strings.Contains(message, "ModSecurity:") {
			record.ErrorType = "ModSecurity"
			record.Message = message
			if m := modsecMsgPattern.FindStringSubmatch(message); m != nil {
				record.Message = m[1]
			}
			if m := modsecURIPattern.FindStringSubmatch(message); m != nil {
				record.RequestURL = m[1]
			}
			record.Context = make(map[string]string)
			if m := modsecRuleIDPattern.FindStringSubmatch(message); m != nil {
				record.Context["rule_id"] = m[1]
			}
			if m := modsecSeverityPattern.FindStringSubmatch(message); m != nil {
				record.Context["severity"] = m[1]
			}
			records = append(records, record)
			continue
		}

		record.ErrorType = "ApacheError"
		record.Message = message
		if m := apacheDeniedPattern.FindStringSubmatch(message); m != nil {
			record.Message = m[1]
		}
		records = append(records, record)
	}
	return records
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
