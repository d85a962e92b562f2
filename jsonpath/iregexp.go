// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jsonpath

import (
	"regexp"
	"strings"
)

// ValidateIRegexp checks that pattern is a valid I-Regexp (RFC 9485) — the
// restricted regular expression dialect RFC 9535 mandates for match() and
// search(). I-Regexp is a subset of XML Schema's regex dialect; Go's RE2
// engine is a superset for the constructs I-Regexp allows, so validation
// here rejects the constructs I-Regexp forbids (lookaround, backreferences,
// named groups, inline flags, possessive/atomic quantifiers) and then
// delegates syntax checking to regexp.Compile.
func ValidateIRegexp(pattern string) error {
	if err := rejectForbiddenConstructs(pattern); err != nil {
		return err
	}
	translated, err := translateToRE2(pattern)
	if err != nil {
		return err
	}
	_, err = regexp.Compile(translated)
	return err
}

// compileIRegexp validates and compiles pattern, anchoring it for full-string
// match semantics per I-Regexp (match() requires the whole value to match,
// search() allows a substring match and is compiled without the anchors).
func compileIRegexp(pattern string, anchor bool) (*regexp.Regexp, error) {
	if err := rejectForbiddenConstructs(pattern); err != nil {
		return nil, err
	}
	translated, err := translateToRE2(pattern)
	if err != nil {
		return nil, err
	}
	if anchor {
		translated = "\\A(?:" + translated + ")\\z"
	}
	return regexp.Compile(translated)
}

var forbiddenSubstrings = []string{
	"(?=", "(?!", "(?<=", "(?<!", // lookaround
	"(?P<", "(?<", // named groups (the second also catches lookbehind, checked above first)
	"(?#", // comments
	"(?i", "(?m", "(?s", "(?U", // inline flags
	"\\1", "\\2", "\\3", "\\4", "\\5", "\\6", "\\7", "\\8", "\\9", // backreferences
}

func rejectForbiddenConstructs(pattern string) error {
	for _, bad := range forbiddenSubstrings {
		if strings.Contains(pattern, bad) {
			return newCompileError("I-Regexp does not permit '"+bad+"'", 0)
		}
	}
	return nil
}

// translateToRE2 rewrites the handful of XML-Schema-regex constructs that
// I-Regexp inherits but RE2 spells differently. I-Regexp's "." already
// excludes line terminators by definition (unlike RE2's default), and
// I-Regexp has no free-spacing mode, so the only required translation today
// is a no-op passthrough; this function exists as the single seam future
// construct differences (e.g. \p{...} category names) would be reconciled in.
func translateToRE2(pattern string) (string, error) {
	return pattern, nil
}
