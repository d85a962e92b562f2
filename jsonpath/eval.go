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

import "reflect"

// node pairs a selected value with its normalized path, carried through
// evaluation so descendant segments and diagnostics can report locations.
type node struct {
	value any
	path  string
}

// Segments exposes the compiled segment list so jsonpath/stream can drive its
// own incremental matching against the same compiled Program without
// duplicating the parser.
func (p *Program) Segments() []Segment { return p.segments }

// EvalFilter evaluates a compiled filter expression against a candidate node
// and the document root, returning whether the node passes. It is exported
// for jsonpath/stream's use, which must evaluate a selector's filter against
// a just-materialized subtree instead of a value this package already holds.
func EvalFilter(expr *FilterExpr, candidate, root any) bool {
	return evalLogical(expr, candidate, root)
}

// Select evaluates the compiled program against root (typically the result
// of encoding/json.Unmarshal into an any, i.e. maps, slices, strings,
// float64s, bools and nils) and returns the matched values in document
// order, preserving duplicates the way RFC 9535 §2.1.2's normalized-path
// ordering requires.
func (p *Program) Select(root any) ([]any, error) {
	nodes := []node{{value: root, path: "$"}}
	for _, seg := range p.segments {
		nodes = applySegment(nodes, seg, root)
	}
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n.value
	}
	return out, nil
}

// ApplyTrailingSegments runs segs against a single already-materialized
// value, picking up matching the way jsonpath/stream does after a filter
// selector passes mid-program: instead of starting from the document root,
// it starts from the filter's own result. root is used to resolve any
// absolute ($...) sub-queries inside segs, the same parameter Select/Paths
// thread through from the true document root.
func ApplyTrailingSegments(segs []Segment, value any, path string, root any) ([]any, []string) {
	nodes := []node{{value: value, path: path}}
	for _, seg := range segs {
		nodes = applySegment(nodes, seg, root)
	}
	vals := make([]any, len(nodes))
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		vals[i] = n.value
		paths[i] = n.path
	}
	return vals, paths
}

// Paths is like Select but additionally returns each match's normalized path.
func (p *Program) Paths(root any) ([]any, []string, error) {
	nodes := []node{{value: root, path: "$"}}
	for _, seg := range p.segments {
		nodes = applySegment(nodes, seg, root)
	}
	vals := make([]any, len(nodes))
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		vals[i] = n.value
		paths[i] = n.path
	}
	return vals, paths, nil
}

func applySegment(in []node, seg Segment, root any) []node {
	if len(seg.Selectors) > 0 && seg.Selectors[0].Kind == SelectorDescendant {
		rest := seg.Selectors[1:]
		var out []node
		for _, n := range in {
			for _, d := range allDescendantsIncludingSelf(n) {
				out = append(out, matchSelectors(d, rest, root)...)
			}
		}
		return out
	}

	var out []node
	for _, n := range in {
		out = append(out, matchSelectors(n, seg.Selectors, root)...)
	}
	return out
}

// allDescendantsIncludingSelf performs a pre-order walk, visiting n itself
// first and then every nested container value, matching RFC 9535's
// descendant-segment traversal order.
func allDescendantsIncludingSelf(n node) []node {
	out := []node{n}
	switch v := n.value.(type) {
	case map[string]any:
		for k, cv := range v {
			out = append(out, allDescendantsIncludingSelf(node{value: cv, path: n.path + "['" + k + "']"})...)
		}
	case []any:
		for i, cv := range v {
			out = append(out, allDescendantsIncludingSelf(node{value: cv, path: indexPath(n.path, i)})...)
		}
	}
	return out
}

func matchSelectors(n node, sels []Selector, root any) []node {
	var out []node
	for _, sel := range sels {
		out = append(out, matchSelector(n, sel, root)...)
	}
	return out
}

func matchSelector(n node, sel Selector, root any) []node {
	switch sel.Kind {
	case SelectorName:
		if m, ok := n.value.(map[string]any); ok {
			if v, ok := m[sel.Name]; ok {
				return []node{{value: v, path: n.path + "['" + sel.Name + "']"}}
			}
		}
		return nil

	case SelectorWildcard:
		return wildcardChildren(n)

	case SelectorIndex:
		arr, ok := n.value.([]any)
		if !ok {
			return nil
		}
		idx := normalizeIndex(sel.Index, len(arr))
		if idx < 0 || idx >= len(arr) {
			return nil
		}
		return []node{{value: arr[idx], path: indexPath(n.path, idx)}}

	case SelectorSlice:
		arr, ok := n.value.([]any)
		if !ok {
			return nil
		}
		return sliceChildren(n, arr, sel)

	case SelectorFilter:
		return filterChildren(n, sel.Filter, root)

	default:
		return nil
	}
}

func wildcardChildren(n node) []node {
	switch v := n.value.(type) {
	case map[string]any:
		out := make([]node, 0, len(v))
		for k, cv := range v {
			out = append(out, node{value: cv, path: n.path + "['" + k + "']"})
		}
		return out
	case []any:
		out := make([]node, 0, len(v))
		for i, cv := range v {
			out = append(out, node{value: cv, path: indexPath(n.path, i)})
		}
		return out
	default:
		return nil
	}
}

func normalizeIndex(idx int64, length int) int {
	if idx < 0 {
		return int(idx) + length
	}
	return int(idx)
}

func sliceChildren(n node, arr []any, sel Selector) []node {
	length := int64(len(arr))
	step := sel.SliceStep
	if step == 0 {
		return nil
	}

	var start, end int64
	if step > 0 {
		start, end = 0, length
		if sel.SliceStart != nil {
			start = normalizeSliceBound(*sel.SliceStart, length)
		}
		if sel.SliceEnd != nil {
			end = normalizeSliceBound(*sel.SliceEnd, length)
		}
	} else {
		start, end = length-1, -1
		if sel.SliceStart != nil {
			start = normalizeSliceBound(*sel.SliceStart, length)
		}
		if sel.SliceEnd != nil {
			end = normalizeSliceBound(*sel.SliceEnd, length)
		}
	}

	var out []node
	if step > 0 {
		for i := start; i < end; i += step {
			if i >= 0 && i < length {
				out = append(out, node{value: arr[i], path: indexPath(n.path, int(i))})
			}
		}
	} else {
		for i := start; i > end; i += step {
			if i >= 0 && i < length {
				out = append(out, node{value: arr[i], path: indexPath(n.path, int(i))})
			}
		}
	}
	return out
}

func normalizeSliceBound(b, length int64) int64 {
	if b < 0 {
		b += length
		if b < 0 {
			b = 0
		}
		return b
	}
	if b > length {
		return length
	}
	return b
}

func filterChildren(n node, expr *FilterExpr, root any) []node {
	switch v := n.value.(type) {
	case map[string]any:
		var out []node
		for k, cv := range v {
			child := node{value: cv, path: n.path + "['" + k + "']"}
			if evalLogical(expr, child.value, root) {
				out = append(out, child)
			}
		}
		return out
	case []any:
		var out []node
		for i, cv := range v {
			child := node{value: cv, path: indexPath(n.path, i)}
			if evalLogical(expr, child.value, root) {
				out = append(out, child)
			}
		}
		return out
	default:
		return nil
	}
}

func indexPath(base string, i int) string {
	return base + "[" + itoa(i) + "]"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
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

// --- filter expression evaluation ---

func evalLogical(e *FilterExpr, ctx any, root any) bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case ExprOr:
		return evalLogical(e.Left, ctx, root) || evalLogical(e.Right, ctx, root)
	case ExprAnd:
		return evalLogical(e.Left, ctx, root) && evalLogical(e.Right, ctx, root)
	case ExprNot:
		return !evalLogical(e.Operand, ctx, root)
	case ExprCompare:
		l := evalValue(e.Left, ctx, root)
		r := evalValue(e.Right, ctx, root)
		return compareValues(e.Op, l, r)
	case ExprExistence, ExprQuery:
		return len(evalNodes(e, ctx, root)) > 0
	case ExprFuncCall:
		sig, ok := functionRegistry[e.FuncName]
		if !ok {
			return false
		}
		if sig.returnKind == returnsLogical {
			return evalLogicalFunc(e, ctx, root)
		}
		v := evalValue(e, ctx, root)
		return truthy(v)
	default:
		return truthy(evalValue(e, ctx, root))
	}
}

func truthy(v ValueType) bool {
	if v.Nothing() {
		return false
	}
	switch x := v.value.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case nil:
		return false
	default:
		return true
	}
}

func evalLogicalFunc(e *FilterExpr, ctx, root any) bool {
	switch e.FuncName {
	case "match":
		return matchOrSearch(e, ctx, root, true)
	case "search":
		return matchOrSearch(e, ctx, root, false)
	default:
		return false
	}
}

func matchOrSearch(e *FilterExpr, ctx, root any, anchor bool) bool {
	subject := evalValue(e.Args[0], ctx, root)
	s, ok := subject.value.(string)
	if subject.Nothing() || !ok {
		return false
	}
	patternV := evalValue(e.Args[1], ctx, root)
	pattern, ok := patternV.value.(string)
	if patternV.Nothing() || !ok {
		return false
	}
	re, err := compileIRegexp(pattern, anchor)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func evalValue(e *FilterExpr, ctx, root any) ValueType {
	if e == nil {
		return noValue()
	}
	switch e.Kind {
	case ExprLiteral:
		return valueOf(e.Literal)
	case ExprExistence, ExprQuery:
		nodes := evalNodes(e, ctx, root)
		if v, ok := nodes.singular(); ok {
			return v
		}
		return noValue()
	case ExprFuncCall:
		return evalValueFunc(e, ctx, root)
	default:
		return noValue()
	}
}

func evalValueFunc(e *FilterExpr, ctx, root any) ValueType {
	switch e.FuncName {
	case "length":
		v := evalValue(e.Args[0], ctx, root)
		return lengthOf(v)
	case "count":
		nodes := evalNodes(e.Args[0], ctx, root)
		return valueOf(float64(len(nodes)))
	case "value":
		nodes := evalNodes(e.Args[0], ctx, root)
		if v, ok := nodes.singular(); ok {
			return v
		}
		return noValue()
	default:
		return noValue()
	}
}

func lengthOf(v ValueType) ValueType {
	if v.Nothing() {
		return noValue()
	}
	switch x := v.value.(type) {
	case string:
		return valueOf(float64(len([]rune(x))))
	case []any:
		return valueOf(float64(len(x)))
	case map[string]any:
		return valueOf(float64(len(x)))
	default:
		return noValue()
	}
}

func evalNodes(e *FilterExpr, ctx, root any) NodesType {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case ExprExistence, ExprQuery:
		base := ctx
		if e.QueryRoot {
			base = root
		}
		nodes := []node{{value: base, path: "$"}}
		for _, seg := range e.Query {
			nodes = applySegment(nodes, seg, root)
		}
		out := make(NodesType, len(nodes))
		for i, n := range nodes {
			out[i] = n.value
		}
		return out
	case ExprFuncCall:
		if sig, ok := functionRegistry[e.FuncName]; ok && sig.returnKind == returnsNodes {
			// no NodesType-returning functions are registered today; kept for
			// forward compatibility with future RFC 9535 function extensions.
			return nil
		}
		return nil
	default:
		return nil
	}
}

func compareValues(op CompareOp, l, r ValueType) bool {
	if l.Nothing() || r.Nothing() {
		switch op {
		case CompareEq:
			return l.Nothing() && r.Nothing()
		case CompareNe:
			return !(l.Nothing() && r.Nothing())
		default:
			return false
		}
	}

	switch op {
	case CompareEq:
		return valuesEqual(l.value, r.value)
	case CompareNe:
		return !valuesEqual(l.value, r.value)
	}

	lf, lok := asFloat(l.value)
	rf, rok := asFloat(r.value)
	if lok && rok {
		switch op {
		case CompareLt:
			return lf < rf
		case CompareLe:
			return lf <= rf
		case CompareGt:
			return lf > rf
		case CompareGe:
			return lf >= rf
		}
	}

	ls, lok := l.value.(string)
	rs, rok := r.value.(string)
	if lok && rok {
		switch op {
		case CompareLt:
			return ls < rs
		case CompareLe:
			return ls <= rs
		case CompareGt:
			return ls > rs
		case CompareGe:
			return ls >= rs
		}
	}

	return false
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func valuesEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}
