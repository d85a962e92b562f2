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

package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/httpcore/jsonpath"
)

func collect(t *testing.T, prog *jsonpath.Program, chunks []string) ([]Match, error) {
	t.Helper()
	ev := New(prog, Options{})
	var got []Match
	doneReading := make(chan struct{})
	go func() {
		defer close(doneReading)
		for m := range ev.Matches() {
			got = append(got, m)
		}
	}()
	for _, c := range chunks {
		require.NoError(t, ev.Feed([]byte(c)))
	}
	err := ev.Close()
	<-doneReading
	return got, err
}

func TestStreamingNameSelector(t *testing.T) {
	prog := jsonpath.MustCompile("$.store.bicycle.color")
	chunks := []string{
		`{"store":{"bicycle":{"col`,
		`or":"red","price":19.95}}}`,
	}
	got, err := collect(t, prog, chunks)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "red", got[0].Value)
	assert.Equal(t, "$['store']['bicycle']['color']", got[0].Path)
}

func TestStreamingWildcardAcrossChunks(t *testing.T) {
	prog := jsonpath.MustCompile("$.items[*].id")
	chunks := []string{
		`{"items":[{"id":1,"junk":"x"},`,
		`{"id":2,"junk":"y"},{"id":3}]}`,
	}
	got, err := collect(t, prog, chunks)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Value)
	assert.Equal(t, 2.0, got[1].Value)
	assert.Equal(t, 3.0, got[2].Value)
}

func TestStreamingDescendantSegment(t *testing.T) {
	prog := jsonpath.MustCompile("$..price")
	chunks := []string{`{"a":{"price":1},"b":[{"price":2},{"price":3}]}`}
	got, err := collect(t, prog, chunks)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestStreamingFilterSelector(t *testing.T) {
	prog := jsonpath.MustCompile("$.items[?@.price > 10]")
	chunks := []string{`{"items":[{"price":5},{"price":15},{"price":20}]}`}
	got, err := collect(t, prog, chunks)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStreamingFilterFollowedByTrailingSelector(t *testing.T) {
	prog := jsonpath.MustCompile("$.items[?@.p > 15].id")
	chunks := []string{`{"items":[{"id":1,"p":10},{"id":2,"p":20},{"id":3,"p":30}]}`}
	got, err := collect(t, prog, chunks)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Value)
	assert.Equal(t, 3.0, got[1].Value)
	assert.Equal(t, "$['items'][1]['id']", got[0].Path)
	assert.Equal(t, "$['items'][2]['id']", got[1].Path)
}

func TestStreamingMalformedJSONReturnsError(t *testing.T) {
	prog := jsonpath.MustCompile("$.a")
	ev := New(prog, Options{})
	go func() {
		for range ev.Matches() {
		}
	}()
	require.NoError(t, ev.Feed([]byte(`{"a": `)))
	err := ev.Close()
	assert.Error(t, err)
}

func TestStreamingBudgetExceeded(t *testing.T) {
	prog := jsonpath.MustCompile("$.a")
	ev := New(prog, Options{Budget: time.Nanosecond})
	go func() {
		for range ev.Matches() {
		}
	}()
	time.Sleep(time.Millisecond)
	require.NoError(t, ev.Feed([]byte(`{"a": 1}`)))
	err := ev.Close()
	assert.Error(t, err)
}
