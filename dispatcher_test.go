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

package httpcore

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMultipartBoundaryFormat(t *testing.T) {
	b, err := newMultipartBoundary()
	require.NoError(t, err)
	assert.Len(t, b, 36)
	assert.True(t, strings.HasPrefix(b, multipartBoundaryPrefix))
}

func TestEncodeMultipartUsesFixedBoundaryFormat(t *testing.T) {
	fields := []MultipartField{
		{Name: "field1", Value: []byte("value1")},
		{Name: "file1", FileName: "a.txt", Value: []byte("contents")},
	}

	r, contentType, err := encodeMultipart(fields)
	require.NoError(t, err)

	idx := strings.Index(contentType, "boundary=")
	require.GreaterOrEqual(t, idx, 0)
	boundary := contentType[idx+len("boundary="):]
	assert.Len(t, boundary, 36)
	assert.True(t, strings.HasPrefix(boundary, multipartBoundaryPrefix))

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(body), boundary)
	assert.Contains(t, string(body), "value1")
	assert.Contains(t, string(body), "contents")
}

func TestMultipartContentLengthMatchesEncodedSize(t *testing.T) {
	fields := []MultipartField{
		{Name: "field1", Value: []byte("value1")},
		{Name: "file1", FileName: "a.txt", Value: []byte("contents")},
		{Name: "field2", ContentType: "application/json", Value: []byte(`{"a":1}`)},
	}

	r, _, err := encodeMultipart(fields)
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.EqualValues(t, len(body), multipartContentLength(fields))
}

func TestEncodeBodyVariants(t *testing.T) {
	r, ct, err := encodeBody(Body{Kind: BodyText, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", ct)
	b, _ := io.ReadAll(r)
	assert.Equal(t, "hello", string(b))

	r, ct, err = encodeBody(Body{Kind: BodyNone})
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Empty(t, ct)
}
