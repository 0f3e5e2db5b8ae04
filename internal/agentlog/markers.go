// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agentlog

import (
	"regexp"
	"strings"
)

// Marker tokens recognized at the start of an agent log line. Renderers strip
// these before display and apply the associated styling.
const (
	// MarkerBold prefixes a line rendered bold.
	MarkerBold = "==="

	// MarkerUserPrefix opens a user-attributed line, e.g. "[user:resume] fix tests".
	MarkerUserPrefix = "[user:"

	// MarkerThinking prefixes a "latest thought" snippet for UIs.
	MarkerThinking = "Thinking: "
)

// ansiPattern matches ANSI SGR color escape sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// LineKind classifies an agent log line by its marker.
type LineKind int

// Line kinds.
const (
	LinePlain LineKind = iota
	LineBold
	LineUser
	LineThinking
)

// Classify returns the line's kind from its marker token.
func Classify(line string) LineKind {
	switch {
	case strings.HasPrefix(line, MarkerBold):
		return LineBold
	case strings.HasPrefix(line, MarkerUserPrefix):
		return LineUser
	case strings.HasPrefix(line, MarkerThinking):
		return LineThinking
	default:
		return LinePlain
	}
}

// Strip removes the line's marker token and any ANSI color codes, returning
// the text a renderer should display.
func Strip(line string) string {
	line = ansiPattern.ReplaceAllString(line, "")

	switch Classify(line) {
	case LineBold:
		return strings.TrimSpace(strings.TrimPrefix(line, MarkerBold))
	case LineUser:
		if end := strings.Index(line, "]"); end >= 0 {
			return strings.TrimSpace(line[end+1:])
		}
		return line
	case LineThinking:
		return strings.TrimPrefix(line, MarkerThinking)
	default:
		return line
	}
}

// Thought extracts the "latest thought" snippet from a line, if present.
func Thought(line string) (string, bool) {
	line = ansiPattern.ReplaceAllString(line, "")
	if !strings.HasPrefix(line, MarkerThinking) {
		return "", false
	}
	return strings.TrimPrefix(line, MarkerThinking), true
}
