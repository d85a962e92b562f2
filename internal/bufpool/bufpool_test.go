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

package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolReuse(t *testing.T) {
	p := New()

	buf1 := p.Acquire(1024)
	assert.GreaterOrEqual(t, cap(buf1.B), 1024)
	c := cap(buf1.B)

	p.Release(buf1)
	assert.Equal(t, c, p.TotalBytes())

	buf2 := p.Acquire(512)
	assert.Equal(t, c, cap(buf2.B))
	assert.Equal(t, 0, len(buf2.B))
}

func TestPoolDiscardsUndersizedBuffer(t *testing.T) {
	p := New()

	small := p.Acquire(128)
	p.Release(small)

	big := p.Acquire(1 << 20)
	assert.NotEqual(t, cap(small.B), cap(big.B))
	assert.Equal(t, 0, p.TotalBytes(), "releasing a buffer too small for the next request must not keep it")
}

func TestPoolRejectsOversizedBuffer(t *testing.T) {
	p := New()

	oversized := &Buffer{B: make([]byte, 0, MaxBufferBytes+1)}
	p.Release(oversized)
	assert.Equal(t, 0, p.TotalBytes())
}

func TestPoolRespectsMaxPoolBytes(t *testing.T) {
	p := NewWithLimits(1024, MaxBufferBytes)

	a := p.Acquire(600)
	b := p.Acquire(600)

	p.Release(a)
	p.Release(b)

	assert.LessOrEqual(t, p.TotalBytes(), 1024)
}

func TestHistogramBucketing(t *testing.T) {
	p := New()

	// buffers are not released, so the final Acquire finds nothing to reuse
	// and must size its allocation from the histogram
	for i := 0; i < 10; i++ {
		_ = p.Acquire(8192)
	}

	next := p.Acquire(1)
	assert.GreaterOrEqual(t, cap(next.B), 8192, "predicted size should come from the most-used histogram bucket")
}
