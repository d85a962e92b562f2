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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/packetd/httpcore/compression"
	"github.com/packetd/httpcore/protocolcache"
)

func TestObserveCompressionAddsDeltaOnly(t *testing.T) {
	before := testutil.ToFloat64(compressionAttempted)

	ObserveCompression(compression.Stats{Attempted: 3, Applied: 2, BytesBeforeCompression: 100, BytesAfterCompression: 40})
	assert.Equal(t, before+3, testutil.ToFloat64(compressionAttempted))
	assert.Equal(t, float64(2), testutil.ToFloat64(compressionApplied))

	// A second observation against the same live snapshot only adds the delta.
	ObserveCompression(compression.Stats{Attempted: 5, Applied: 2, BytesBeforeCompression: 150, BytesAfterCompression: 60})
	assert.Equal(t, before+5, testutil.ToFloat64(compressionAttempted))
	assert.Equal(t, float64(2), testutil.ToFloat64(compressionApplied))
}

func TestObserveProtocolCacheAddsDeltaOnly(t *testing.T) {
	before := testutil.ToFloat64(protocolCacheHits)

	ObserveProtocolCache(protocolcache.Stats{Hits: 4, Misses: 1})
	assert.Equal(t, before+4, testutil.ToFloat64(protocolCacheHits))

	ObserveProtocolCache(protocolcache.Stats{Hits: 4, Misses: 1})
	assert.Equal(t, before+4, testutil.ToFloat64(protocolCacheHits), "repeating the same snapshot must not double count")
}

func TestAddCounterIgnoresNonIncreasingValues(t *testing.T) {
	before := testutil.ToFloat64(compressionErrors)
	ObserveCompression(compression.Stats{Errors: 0})
	assert.Equal(t, before, testutil.ToFloat64(compressionErrors))
}
