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

// Package metrics is the observability sink described in this module's
// configuration section: Prometheus counters fed from the
// compression codec's Stats and the protocol intelligence cache's Stats,
// registered the way internal/rescue registers its panic counter —
// promauto against the default registry, namespaced under common.App.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/httpcore/common"
	"github.com/packetd/httpcore/compression"
	"github.com/packetd/httpcore/protocolcache"
)

var (
	compressionAttempted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "compression",
		Name:      "attempted_total",
		Help:      "number of times the compression codec was invoked",
	})
	compressionApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "compression",
		Name:      "applied_total",
		Help:      "number of times compression was kept because it met the worthwhile-ratio threshold",
	})
	compressionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "compression",
		Name:      "errors_total",
		Help:      "number of compression failures",
	})
	compressionBytesBefore = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "compression",
		Name:      "bytes_before_total",
		Help:      "cumulative bytes seen before compression was applied",
	})
	compressionBytesAfter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "compression",
		Name:      "bytes_after_total",
		Help:      "cumulative bytes produced after compression was applied",
	})
	compressionMicros = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "compression",
		Name:      "time_micros_total",
		Help:      "cumulative time spent compressing, in microseconds, saturating at the uint64 max",
	})

	protocolCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "protocol_cache",
		Name:      "hits_total",
		Help:      "protocol intelligence cache lookups that found an existing origin entry",
	})
	protocolCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "protocol_cache",
		Name:      "misses_total",
		Help:      "protocol intelligence cache lookups for a previously unseen origin",
	})
	protocolCacheDiscoveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "protocol_cache",
		Name:      "discoveries_total",
		Help:      "Alt-Svc entries recorded for an origin",
	})
	protocolCachePrevented = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: common.App,
		Subsystem: "protocol_cache",
		Name:      "prevented_failed_attempts_total",
		Help:      "dispatch attempts skipped because should_retry reported a cooldown still in effect",
	})
)

// lastCompression and lastProtocolCache hold the previous snapshot so
// ObserveCompression/ObserveProtocolCache, which may be called repeatedly
// against a live *compression.Stats / *protocolcache.Cache, only add the
// delta to Prometheus's monotonic counters instead of double counting.
var (
	lastCompression   compression.Stats
	lastProtocolCache protocolcache.Stats
)

// ObserveCompression exports the delta between stats's current values and
// the last-observed snapshot into the package's Prometheus counters. Safe to
// call periodically (e.g. from a ticker) against the same *Stats instance.
func ObserveCompression(stats compression.Stats) {
	addCounter(compressionAttempted, lastCompression.Attempted, stats.Attempted)
	addCounter(compressionApplied, lastCompression.Applied, stats.Applied)
	addCounter(compressionErrors, lastCompression.Errors, stats.Errors)
	addCounter(compressionBytesBefore, lastCompression.BytesBeforeCompression, stats.BytesBeforeCompression)
	addCounter(compressionBytesAfter, lastCompression.BytesAfterCompression, stats.BytesAfterCompression)
	addCounter(compressionMicros, lastCompression.CompressionTimeMicros, stats.CompressionTimeMicros)
	lastCompression = stats
}

// ObserveProtocolCache exports the delta between stats and the last-observed
// snapshot into the package's Prometheus counters.
func ObserveProtocolCache(stats protocolcache.Stats) {
	addCounter(protocolCacheHits, lastProtocolCache.Hits, stats.Hits)
	addCounter(protocolCacheMisses, lastProtocolCache.Misses, stats.Misses)
	addCounter(protocolCacheDiscoveries, lastProtocolCache.Discoveries, stats.Discoveries)
	addCounter(protocolCachePrevented, lastProtocolCache.PreventedFailedAttempts, stats.PreventedFailedAttempts)
	lastProtocolCache = stats
}

func addCounter(c prometheus.Counter, prev, cur uint64) {
	if cur <= prev {
		return
	}
	c.Add(float64(cur - prev))
}
