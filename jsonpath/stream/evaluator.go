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

// Package stream evaluates a compiled jsonpath.Program incrementally against
// JSON bytes that arrive in chunks, rather than requiring the full document
// to be buffered and unmarshaled first. Only subtrees reachable by an active
// match state are ever materialized; everything else is scanned and
// discarded, so memory use is bounded by the largest single matched value
// rather than by total document size.
//
// Negative array indices and negative slice bounds require knowing an
// array's final length, which isn't known until its closing ']' arrives;
// Evaluator does not support them: a negative index selector, or a slice
// with a negative start or end, never matches any element. Absolute ($...)
// sub-queries inside a filter predicate are resolved against the filter
// candidate's own materialized value, not the complete document, since
// earlier siblings may already have been discarded.
package stream

import (
	"encoding/json"
	"io"
	"time"

	"github.com/packetd/httpcore/jsonpath"
)

const maxDepth = 128

// Match is one value selected by the program, along with its normalized path.
type Match struct {
	Path  string
	Value any
}

// Options configures an Evaluator.
type Options struct {
	// Budget bounds the wall-clock time from New until decoding finishes;
	// once it has passed, decoding stops with an error. Zero means unbounded.
	Budget time.Duration
	// MatchBuffer sizes the channel Matches() returns. Defaults to 64.
	MatchBuffer int
}

// Evaluator drives incremental matching of a compiled program against bytes
// supplied through Feed. It is not safe for concurrent use from multiple
// goroutines, except that Matches() may be read concurrently with Feed.
type Evaluator struct {
	prog     *jsonpath.Program
	segments []jsonpath.Segment

	pr *io.PipeReader
	pw *io.PipeWriter

	matches chan Match
	done    chan struct{}
	err     error

	deadline time.Time
}

// New constructs an Evaluator for prog and starts its background decode loop.
func New(prog *jsonpath.Program, opts Options) *Evaluator {
	if opts.MatchBuffer <= 0 {
		opts.MatchBuffer = 64
	}
	pr, pw := io.Pipe()
	e := &Evaluator{
		prog:     prog,
		segments: prog.Segments(),
		pr:       pr,
		pw:       pw,
		matches:  make(chan Match, opts.MatchBuffer),
		done:     make(chan struct{}),
	}
	if opts.Budget > 0 {
		e.deadline = time.Now().Add(opts.Budget)
	}
	go e.run()
	return e
}

// Feed delivers the next chunk of raw JSON bytes. It blocks until the decode
// goroutine has consumed the chunk (or the evaluator has already stopped).
func (e *Evaluator) Feed(chunk []byte) error {
	if _, err := e.pw.Write(chunk); err != nil {
		// the decode goroutine closes the read side with e.err when it stops
		// early; that error is reported by Close, not here
		if err == io.ErrClosedPipe || err == e.err {
			return nil
		}
		return err
	}
	return nil
}

// Close signals that no more input is coming and waits for the decode
// goroutine to finish, returning any evaluation error (including malformed
// or truncated JSON).
func (e *Evaluator) Close() error {
	_ = e.pw.Close()
	<-e.done
	close(e.matches)
	return e.err
}

// Matches returns the channel of selected values, delivered as they are
// fully decoded. Drain it concurrently with Feed for large documents so the
// bounded internal channel never blocks the decode goroutine indefinitely.
func (e *Evaluator) Matches() <-chan Match { return e.matches }

type matchState struct {
	segIdx int
}

func (e *Evaluator) run() {
	defer close(e.done)
	dec := json.NewDecoder(e.pr)

	initial := []matchState{{segIdx: 0}}
	_, err := e.decodeAndMatch(dec, initial, "$", 0, len(e.segments) == 0, false)
	if err == io.EOF && dec.InputOffset() > 0 {
		// the document started but ended before its value was complete
		err = io.ErrUnexpectedEOF
	}
	if err != nil && err != io.EOF {
		e.err = err
		_ = e.pr.CloseWithError(err)
	}
}

func (e *Evaluator) budgetExceeded() bool {
	return !e.deadline.IsZero() && time.Now().After(e.deadline)
}

// decodeAndMatch decodes exactly one JSON value from dec, advancing
// matchStates for its children and emitting Matches for any child whose
// state set reaches the end of the program's segment list. selfIsMatch
// indicates the value being decoded here is itself a full match (the root
// case, when the program has zero segments — i.e. the query was just "$").
func (e *Evaluator) decodeAndMatch(dec *json.Decoder, states []matchState, path string, depth int, selfIsMatch, full bool) (any, error) {
	if depth > maxDepth {
		return nil, errDepthExceeded
	}
	if e.budgetExceeded() {
		return nil, errBudgetExceeded
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{', '[':
			var v any
			if t == '{' {
				v, err = e.decodeObject(dec, states, path, depth, full || selfIsMatch)
			} else {
				v, err = e.decodeArray(dec, states, path, depth, full || selfIsMatch)
			}
			if err == nil && selfIsMatch {
				e.matches <- Match{Path: path, Value: v}
			}
			return v, err
		default:
			return nil, errUnexpectedDelimiter
		}
	default:
		if selfIsMatch {
			e.matches <- Match{Path: path, Value: tok}
		}
		return tok, nil
	}
}

// decodeObject decodes a JSON object. When full is true every field is
// materialized unconditionally (used once an ancestor selector's filter
// needs this object's complete contents); otherwise fields with no active
// match state are discarded via skipValue without ever being allocated.
func (e *Evaluator) decodeObject(dec *json.Decoder, states []matchState, path string, depth int, full bool) (map[string]any, error) {
	obj := map[string]any{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errUnexpectedDelimiter
		}
		childPath := path + "['" + key + "']"

		if full {
			val, err := e.decodeAndMatch(dec, nil, childPath, depth+1, false, true)
			if err != nil {
				return nil, err
			}
			obj[key] = val
			continue
		}

		childStates, selfMatch, mustMaterialize := e.deriveChildStates(states, key, 0, false)

		if len(childStates) == 0 && !selfMatch && !mustMaterialize {
			if err := skipValue(dec, depth+1); err != nil {
				return nil, err
			}
			continue
		}

		val, err := e.decodeAndMatch(dec, childStates, childPath, depth+1, false, mustMaterialize)
		if err != nil {
			return nil, err
		}
		if mustMaterialize && !selfMatch {
			if reached := e.testFilters(states, key, 0, false, val); len(reached) > 0 {
				if e.emitFilterMatches(reached, childPath, val) {
					selfMatch = true
				}
			}
		}
		if selfMatch {
			e.matches <- Match{Path: childPath, Value: val}
		}
		obj[key] = val
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}
	return obj, nil
}

func (e *Evaluator) decodeArray(dec *json.Decoder, states []matchState, path string, depth int, full bool) ([]any, error) {
	var arr []any
	idx := 0
	for dec.More() {
		childPath := indexPath(path, idx)

		if full {
			val, err := e.decodeAndMatch(dec, nil, childPath, depth+1, false, true)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
			idx++
			continue
		}

		childStates, selfMatch, mustMaterialize := e.deriveChildStates(states, "", idx, true)

		if len(childStates) == 0 && !selfMatch && !mustMaterialize {
			if err := skipValue(dec, depth+1); err != nil {
				return nil, err
			}
			arr = append(arr, nil)
			idx++
			continue
		}

		val, err := e.decodeAndMatch(dec, childStates, childPath, depth+1, false, mustMaterialize)
		if err != nil {
			return nil, err
		}
		if mustMaterialize && !selfMatch {
			if reached := e.testFilters(states, "", idx, true, val); len(reached) > 0 {
				if e.emitFilterMatches(reached, childPath, val) {
					selfMatch = true
				}
			}
		}
		if selfMatch {
			e.matches <- Match{Path: childPath, Value: val}
		}
		arr = append(arr, val)
		idx++
	}
	if _, err := dec.Token(); err != nil { // closing ']'
		return nil, err
	}
	return arr, nil
}

// deriveChildStates computes the next-level match states for a child
// identified by key (objects) or idx (arrays), per the active states
// inherited from the parent container. It returns the inherited states for
// the child, whether the child itself is already a full match, and whether
// the child must be fully materialized because some active selector is a
// filter that can only be evaluated against the complete subtree.
func (e *Evaluator) deriveChildStates(states []matchState, key string, idx int, isArray bool) (next []matchState, selfMatch bool, mustMaterialize bool) {
	for _, st := range states {
		if st.segIdx >= len(e.segments) {
			continue
		}
		seg := e.segments[st.segIdx]
		sels := seg.Selectors
		if len(sels) > 0 && sels[0].Kind == jsonpath.SelectorDescendant {
			sels = sels[1:]
			// the descendant marker itself always keeps searching deeper,
			// regardless of whether anything matches at this level.
			next = append(next, matchState{segIdx: st.segIdx})
		}

		for _, sel := range sels {
			if sel.Kind == jsonpath.SelectorFilter {
				mustMaterialize = true
				continue
			}
			if selectorMatchesChild(sel, key, idx, isArray) {
				nextIdx := st.segIdx + 1
				if nextIdx >= len(e.segments) {
					selfMatch = true
				} else {
					next = append(next, matchState{segIdx: nextIdx})
				}
			}
		}
	}
	return next, selfMatch, mustMaterialize
}

// testFilters re-checks the filter selectors of the active states against a
// now-materialized child value, returning the set of segment indices reached
// by each passing filter (deduplicated). A reached index equal to
// len(e.segments) means the filter's own segment was the last one, so the
// child itself is a full match; any other reached index names a suffix of
// segments still to apply against the child (see emitFilterMatches).
func (e *Evaluator) testFilters(states []matchState, key string, idx int, isArray bool, value any) []int {
	seen := map[int]bool{}
	var reached []int
	for _, st := range states {
		if st.segIdx >= len(e.segments) {
			continue
		}
		seg := e.segments[st.segIdx]
		sels := seg.Selectors
		if len(sels) > 0 && sels[0].Kind == jsonpath.SelectorDescendant {
			sels = sels[1:]
		}
		for _, sel := range sels {
			if sel.Kind != jsonpath.SelectorFilter {
				continue
			}
			if jsonpath.EvalFilter(sel.Filter, value, value) {
				next := st.segIdx + 1
				if !seen[next] {
					seen[next] = true
					reached = append(reached, next)
				}
			}
		}
	}
	return reached
}

// emitFilterMatches applies, for each segment index reached by a passing
// filter, whatever segments still remain after it to the filter's own
// result. A filter that was the program's last segment (reached ==
// len(e.segments)) makes the child itself a match; otherwise the remaining
// segments are run against the child the way Select/Paths run the full
// program against the document root (see jsonpath.ApplyTrailingSegments).
func (e *Evaluator) emitFilterMatches(reached []int, childPath string, val any) (selfMatch bool) {
	for _, r := range reached {
		if r == len(e.segments) {
			selfMatch = true
			continue
		}
		vals, paths := jsonpath.ApplyTrailingSegments(e.segments[r:], val, childPath, val)
		for i := range vals {
			e.matches <- Match{Path: paths[i], Value: vals[i]}
		}
	}
	return selfMatch
}

func selectorMatchesChild(sel jsonpath.Selector, key string, idx int, isArray bool) bool {
	switch sel.Kind {
	case jsonpath.SelectorWildcard:
		return true
	case jsonpath.SelectorName:
		return !isArray && key == sel.Name
	case jsonpath.SelectorIndex:
		return isArray && sel.Index >= 0 && int(sel.Index) == idx
	case jsonpath.SelectorSlice:
		if !isArray {
			return false
		}
		return sliceMatchesIndex(sel, idx)
	default:
		return false
	}
}

// sliceMatchesIndex supports non-negative slice bounds and a positive step;
// negative bounds need the array's final length, which a streaming scan does
// not yet have, so such selectors never match mid-stream (a documented
// streaming limitation).
func sliceMatchesIndex(sel jsonpath.Selector, idx int) bool {
	step := sel.SliceStep
	if step == 0 {
		step = 1
	}
	if step <= 0 {
		return false
	}
	start := int64(0)
	if sel.SliceStart != nil {
		if *sel.SliceStart < 0 {
			return false
		}
		start = *sel.SliceStart
	}
	if int64(idx) < start {
		return false
	}
	if sel.SliceEnd != nil {
		if *sel.SliceEnd < 0 {
			return false
		}
		if int64(idx) >= *sel.SliceEnd {
			return false
		}
	}
	return (int64(idx)-start)%step == 0
}

func indexPath(base string, i int) string {
	return base + "[" + itoa(i) + "]"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// skipValue consumes and discards exactly one JSON value from dec without
// materializing it, for subtrees no active match state needs.
func skipValue(dec *json.Decoder, depth int) error {
	if depth > maxDepth {
		return errDepthExceeded
	}
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil { // key
				return err
			}
			if err := skipValue(dec, depth+1); err != nil {
				return err
			}
		}
		_, err := dec.Token() // closing '}'
		return err
	case '[':
		for dec.More() {
			if err := skipValue(dec, depth+1); err != nil {
				return err
			}
		}
		_, err := dec.Token() // closing ']'
		return err
	default:
		return nil
	}
}
