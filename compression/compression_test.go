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

package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/httpcore/internal/bufpool"
)

func TestCompressEmptyAndShortInputsPassThrough(t *testing.T) {
	out, err := Compress(nil, AlgorithmGzip, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	short := []byte("too small to bother")
	out, err = Compress(short, AlgorithmGzip, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, short, out)
}

func TestCompressRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 50))
	pool := bufpool.New()

	for _, algo := range []Algorithm{AlgorithmGzip, AlgorithmDeflate, AlgorithmBrotli} {
		stats := &Stats{}
		compressed, err := Compress(original, algo, pool, stats)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), stats.Attempted)

		decompressed, err := Decompress(compressed, algo)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(original, decompressed))
	}
}

func TestDecompressionBombLimit(t *testing.T) {
	huge := bytes.Repeat([]byte("a"), 70*1024*1024)
	compressed, err := encode(huge, AlgorithmGzip, nil)
	require.NoError(t, err)

	_, err = Decompress(compressed, AlgorithmGzip)
	assert.ErrorIs(t, err, errDecompressionBomb)
}

func TestShouldCompress(t *testing.T) {
	assert.False(t, ShouldCompress("text/plain", false), "disabled config never compresses")
	assert.True(t, ShouldCompress("", true))
	assert.True(t, ShouldCompress("text/plain", true))
	assert.True(t, ShouldCompress("application/json", true))
	assert.False(t, ShouldCompress("image/jpeg", true))
	assert.False(t, ShouldCompress("video/mp4", true))
	assert.False(t, ShouldCompress("application/zip", true))
}
