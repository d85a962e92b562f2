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

import "fmt"

// CompileError reports a position-tagged failure to compile a JSONPath query.
type CompileError struct {
	Reason string
	Pos    int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("jsonpath: %s (at position %d)", e.Reason, e.Pos)
}

func newCompileError(reason string, pos int) error {
	return &CompileError{Reason: reason, Pos: pos}
}

const maxDepth = 128
