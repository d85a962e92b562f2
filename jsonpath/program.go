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

// Package jsonpath compiles and evaluates RFC 9535 JSONPath queries against
// in-memory JSON values (as produced by encoding/json or goccy/go-json
// Unmarshal into any). Compile once, evaluate many times: a *Program is
// immutable and safe for concurrent use.
package jsonpath

import "strings"

// Compile parses and validates query, returning a reusable Program.
//
// Compile rejects queries nesting deeper than 128 segments and slice
// selectors with a step of zero, both at parse time rather than at
// evaluation time, per this package's compile-fails-fast contract.
func Compile(query string) (*Program, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, newCompileError("empty query", 0)
	}

	p, err := newParser(trimmed)
	if err != nil {
		return nil, err
	}

	segs, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, newCompileError("unexpected trailing input", p.cur.pos)
	}
	if depth := totalDepth(segs); depth > maxDepth {
		return nil, newCompileError("query exceeds maximum nesting depth", 0)
	}
	if err := validateFilters(segs); err != nil {
		return nil, err
	}

	return &Program{segments: segs, source: trimmed}, nil
}

// MustCompile is like Compile but panics on error, for static queries known
// to be valid at init time.
func MustCompile(query string) *Program {
	p, err := Compile(query)
	if err != nil {
		panic(err)
	}
	return p
}

func totalDepth(segs []Segment) int {
	depth := len(segs)
	for _, s := range segs {
		for _, sel := range s.Selectors {
			if sel.Kind == SelectorFilter && sel.Filter != nil {
				depth = maxInt(depth, len(s.Selectors)+deepestFilterQuery(sel.Filter))
			}
		}
	}
	return depth
}

func deepestFilterQuery(e *FilterExpr) int {
	if e == nil {
		return 0
	}
	best := len(e.Query)
	for _, sub := range []*FilterExpr{e.Left, e.Right, e.Operand} {
		if d := deepestFilterQuery(sub); d > best {
			best = d
		}
	}
	for _, a := range e.Args {
		if d := deepestFilterQuery(a); d > best {
			best = d
		}
	}
	return best
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// validateFilters walks every filter expression in the query, checking
// function arity and, for match/search, that the pattern argument (when a
// literal) is a valid I-Regexp per RFC 9485.
func validateFilters(segs []Segment) error {
	for _, seg := range segs {
		for _, sel := range seg.Selectors {
			if sel.Kind == SelectorFilter {
				if err := validateFilterExpr(sel.Filter); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateFilterExpr(e *FilterExpr) error {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case ExprFuncCall:
		sig, ok := functionRegistry[e.FuncName]
		if !ok {
			return newCompileError("unknown function '"+e.FuncName+"'", 0)
		}
		if len(e.Args) != sig.arity {
			return newCompileError("function '"+e.FuncName+"' called with wrong number of arguments", 0)
		}
		if (e.FuncName == "match" || e.FuncName == "search") && len(e.Args) == 2 {
			if e.Args[1].Kind == ExprLiteral {
				if pattern, ok := e.Args[1].Literal.(string); ok {
					if err := ValidateIRegexp(pattern); err != nil {
						return newCompileError("invalid regular expression in "+e.FuncName+"(): "+err.Error(), 0)
					}
				}
			}
		}
		for _, a := range e.Args {
			if err := validateFilterExpr(a); err != nil {
				return err
			}
		}
	case ExprOr, ExprAnd, ExprCompare:
		if err := validateFilterExpr(e.Left); err != nil {
			return err
		}
		if err := validateFilterExpr(e.Right); err != nil {
			return err
		}
	case ExprNot:
		return validateFilterExpr(e.Operand)
	}

	for _, seg := range e.Query {
		for _, sel := range seg.Selectors {
			if sel.Kind == SelectorFilter {
				if err := validateFilterExpr(sel.Filter); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
