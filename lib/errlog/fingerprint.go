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
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// Normalization rules applied to error messages before hashing. The
// order matters: bare integers are folded before the hex rule so
// 0x1f4 survives to it, and paths before URLs so the two do not
// interfere the same way twice.
var (
	numberPattern       = regexp.MustCompile(`\b\d+\b`)
	hexPattern          = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	doubleQuotedPattern = regexp.MustCompile(`"[^"]*"`)
	singleQuotedPattern = regexp.MustCompile(`'[^']*'`)
	pathPattern         = regexp.MustCompile(`/[\w/.-]+`)
	urlPattern          = regexp.MustCompile(`https?://\S+`)

	// frame patterns consulted when the record has no explicit
	// file and line
	pythonFingerprintFrame = regexp.MustCompile(`File "([^"]+)", line (\d+), in (\w+)`)
	jvmFingerprintFrame    = regexp.MustCompile(`at ([\w.]+)\(([\w.]+):(\d+)`)
)

// NormalizeMessage folds the variable payload out of an error
// message: integers, hex literals, quoted strings, absolute paths and
// URLs are each replaced with a fixed placeholder.
func NormalizeMessage(message string) string {
	message = numberPattern.ReplaceAllString(message, "N")
	message = hexPattern.ReplaceAllString(message, "0xHEX")
	message = doubleQuotedPattern.ReplaceAllString(message, `"STR"`)
	message = singleQuotedPattern.ReplaceAllString(message, `'STR'`)
	message = pathPattern.ReplaceAllString(message, "/PATH")
	message = urlPattern.ReplaceAllString(message, "URL")
	return message
}

// Fingerprint derives the stable identity of the record's error
// class: SHA-256 over the error type, the normalized message, and the
// raising location when one is known. Records differing only in
// variable payload hash identically.
func (r *Record) Fingerprint() string {
	parts := []string{r.ErrorType, NormalizeMessage(r.Message)}

	switch {
	case r.FilePath != "" && r.LineNumber > 0:
		parts = append(parts, r.FilePath+":"+strconv.Itoa(r.LineNumber))
	case r.StackTrace != "":
		if frame := firstFrame(r.StackTrace); frame != "" {
			parts = append(parts, frame)
		}
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// firstFrame extracts the first parseable frame of a stack trace as
// file:line:function.
func firstFrame(stack string) string {
	if m := pythonFingerprintFrame.FindStringSubmatch(stack); m != nil {
		return m[1] + ":" + m[2] + ":" + m[3]
	}
	if m := jvmFingerprintFrame.FindStringSubmatch(stack); m != nil {
		return m[2] + ":" + m[3] + ":" + m[1]
	}
	return ""
}
