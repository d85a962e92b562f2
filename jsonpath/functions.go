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

// funcSig describes a function's argument count and return type, per
// RFC 9535 §2.4.1's fixed type system. Argument types are not recorded —
// compile time only rejects wrong arities; full well-typedness is enforced
// by the evaluator.
type funcSig struct {
	arity      int
	returnKind FilterExprKind // ExprLiteral-ish (ValueType), ExprExistence-ish (LogicalType), or ExprQuery-ish (NodesType)
}

const (
	returnsValue   = ExprLiteral
	returnsLogical = ExprExistence
	returnsNodes   = ExprQuery
)

var functionRegistry = map[string]funcSig{
	"length": {arity: 1, returnKind: returnsValue},
	"count":  {arity: 1, returnKind: returnsValue},
	"match":  {arity: 2, returnKind: returnsLogical},
	"search": {arity: 2, returnKind: returnsLogical},
	"value":  {arity: 1, returnKind: returnsValue},
}
