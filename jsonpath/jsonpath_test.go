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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const storeDoc = `{
	"store": {
		"book": [
			{"category": "fiction", "author": "Orwell", "title": "1984", "price": 8.99},
			{"category": "fiction", "author": "Tolkien", "title": "The Hobbit", "price": 12.50},
			{"category": "reference", "author": "Knuth", "title": "TAOCP", "price": 39.95}
		],
		"bicycle": {"color": "red", "price": 19.95}
	}
}`

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestCompileAndSelectBasics(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"root", "$", 1},
		{"name", "$.store.bicycle", 1},
		{"wildcard", "$.store.book[*]", 3},
		{"index", "$.store.book[0]", 1},
		{"negative index", "$.store.book[-1]", 1},
		{"slice", "$.store.book[0:2]", 2},
		{"descendant price", "$..price", 4},
		{"filter gt", "$.store.book[?@.price > 10]", 2},
		{"filter eq string", "$.store.book[?@.category == 'reference']", 1},
		{"filter and", "$.store.book[?@.price > 5 && @.category == 'fiction']", 2},
		{"filter not", "$.store.book[?!(@.category == 'reference')]", 2},
		{"filter length func", "$.store.book[?length(@.title) > 4]", 2},
		{"filter count func", "$.store.book[?count(@.title) > 0]", 3},
	}

	root := mustDecode(t, storeDoc)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prog, err := Compile(tc.query)
			require.NoError(t, err)
			got, err := prog.Select(root)
			require.NoError(t, err)
			assert.Len(t, got, tc.want)
		})
	}
}

func TestCompileRejectsInvalidQueries(t *testing.T) {
	cases := []string{
		"",
		"not-a-query",
		"$.store.book[0:2:0]",
		"$.store[?@.a === 1]",
		"$[?match(@.x, '(?=foo)')]",
	}
	for _, q := range cases {
		_, err := Compile(q)
		assert.Error(t, err, q)
	}
}

func TestCompileRejectsExcessiveDepth(t *testing.T) {
	q := "$"
	for i := 0; i < 200; i++ {
		q += ".a"
	}
	_, err := Compile(q)
	assert.Error(t, err)
}

func TestSliceWithStep(t *testing.T) {
	root := mustDecode(t, `{"a":[0,1,2,3,4,5,6,7,8,9]}`)
	prog := MustCompile("$.a[1:8:2]")
	got, err := prog.Select(root)
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 3.0, 5.0, 7.0}, got)
}

func TestDescendantWildcard(t *testing.T) {
	root := mustDecode(t, storeDoc)
	prog := MustCompile("$.store..*")
	got, err := prog.Select(root)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestMatchFunctionFilter(t *testing.T) {
	root := mustDecode(t, storeDoc)
	prog := MustCompile(`$.store.book[?match(@.author, "^T.*")]`)
	got, err := prog.Select(root)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestValidateIRegexpRejectsLookaround(t *testing.T) {
	assert.Error(t, ValidateIRegexp("foo(?=bar)"))
	assert.NoError(t, ValidateIRegexp("^[a-z]+$"))
}
