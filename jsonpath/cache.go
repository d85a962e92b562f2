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
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCacheSize bounds a ProgramCache created with NewProgramCache.
const DefaultCacheSize = 4096

// ProgramCache compiles query strings at most once, keyed by an xxhash of
// the query text rather than the text itself — callers that compile the
// same handful of JSONPath expressions per request (as a long-running
// dispatcher does) skip re-parsing on every call.
type ProgramCache struct {
	mu       sync.Mutex
	programs map[uint64]*Program
	maxSize  int
}

// NewProgramCache creates an empty cache holding up to maxSize compiled
// programs. A non-positive maxSize falls back to DefaultCacheSize.
func NewProgramCache(maxSize int) *ProgramCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &ProgramCache{
		programs: make(map[uint64]*Program),
		maxSize:  maxSize,
	}
}

// Compile returns the cached Program for query, compiling and storing it on
// a miss. Compile errors are never cached, so a caller can retry after
// fixing the query.
func (c *ProgramCache) Compile(query string) (*Program, error) {
	key := xxhash.Sum64String(query)

	c.mu.Lock()
	if p, ok := c.programs[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	p, err := Compile(query)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.programs) >= c.maxSize {
		c.evictOneLocked()
	}
	c.programs[key] = p
	return p, nil
}

// evictOneLocked drops an arbitrary entry once the cache is full. Go's map
// iteration order is already randomized, so this needs no separate
// random-eviction bookkeeping the way an LRU policy would.
func (c *ProgramCache) evictOneLocked() {
	for k := range c.programs {
		delete(c.programs, k)
		return
	}
}

// Len reports the number of programs currently cached.
func (c *ProgramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.programs)
}
