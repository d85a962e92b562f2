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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramCacheReturnsSameProgramOnHit(t *testing.T) {
	c := NewProgramCache(0)

	p1, err := c.Compile("$.store.book[*].author")
	require.NoError(t, err)
	p2, err := c.Compile("$.store.book[*].author")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, c.Len())
}

func TestProgramCacheMissDoesNotCacheCompileErrors(t *testing.T) {
	c := NewProgramCache(0)

	_, err := c.Compile("$.[")
	assert.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestProgramCacheEvictsWhenFull(t *testing.T) {
	c := NewProgramCache(2)

	_, err := c.Compile("$.a")
	require.NoError(t, err)
	_, err = c.Compile("$.b")
	require.NoError(t, err)
	_, err = c.Compile("$.c")
	require.NoError(t, err)

	assert.LessOrEqual(t, c.Len(), 2)
}
