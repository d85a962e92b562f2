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

// Package protocolcache 维护按 origin 划分的协议情报: 每个 origin 记录
// H3/H2/H1 各自的成功率历史以及通过 RFC 7838 Alt-Svc 头发现的候选端点
//
// 缓存本身由一个读写锁保护的 map 承载 map 之外的计数器/时间戳全部使用原子操作
// 写锁只在 map 的插入和淘汰路径上持有 查找只持有读锁
package protocolcache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/packetd/httpcore/internal/labels"
)

// Version 与根包的协议版本枚举保持一致的字符串 token
type Version string

const (
	VersionH3 Version = "h3"
	VersionH2 Version = "h2"
	VersionH1 Version = "h1"
)

// preferenceOrder 是未知来源时的默认尝试顺序
var preferenceOrder = []Version{VersionH3, VersionH2, VersionH1}

const (
	// DefaultMaxDomains 是缓存允许容纳的 origin 条目上限
	DefaultMaxDomains = 10000

	// DefaultRetryAfterFailure 是已知失败版本在被再次尝试前需要经过的冷却窗口
	DefaultRetryAfterFailure = 5 * time.Minute

	// DefaultMinAttemptsForFailure 是判定一个版本为"已知失败"所需的最少失败次数
	DefaultMinAttemptsForFailure = 3

	// evictionTargetRatio 淘汰执行后 使缓存大小回落到 cap 的这个比例
	evictionTargetRatio = 0.9
)

// AtomicProtocolSupport 记录单个 (origin, version) 对的历史表现
//
// 所有字段都通过原子操作读写 对应 Rust 版本中 Relaxed ordering 的语义:
// 这里没有顺序保证需求 只要求计数自身不撕裂
type AtomicProtocolSupport struct {
	supported     atomic.Bool
	known         atomic.Bool
	successes     atomic.Uint64
	failures      atomic.Uint64
	lastAttemptNs atomic.Int64
	lastSuccessNs atomic.Int64
}

func (s *AtomicProtocolSupport) recordSuccess(now time.Time) {
	s.known.Store(true)
	s.supported.Store(true)
	s.successes.Add(1)
	s.lastAttemptNs.Store(now.UnixNano())
	s.lastSuccessNs.Store(now.UnixNano())
}

func (s *AtomicProtocolSupport) recordFailure(now time.Time) {
	s.known.Store(true)
	s.failures.Add(1)
	s.lastAttemptNs.Store(now.UnixNano())
	if s.successes.Load() == 0 {
		s.supported.Store(false)
	}
}

// shouldRetry 实现 §4.4 定义的重试判定
func (s *AtomicProtocolSupport) shouldRetry(now time.Time, minAttempts uint64, retryAfter time.Duration) bool {
	if !s.known.Load() {
		return true
	}
	if s.successes.Load() > 0 {
		return true
	}
	if s.failures.Load() < minAttempts {
		return true
	}
	lastAttempt := time.Unix(0, s.lastAttemptNs.Load())
	return now.Sub(lastAttempt) > retryAfter
}

// successRate 用于 preferred_protocol 的排序 无历史记录时返回 0
func (s *AtomicProtocolSupport) successRate() float64 {
	succ := s.successes.Load()
	fail := s.failures.Load()
	total := succ + fail
	if total == 0 {
		return 0
	}
	return float64(succ) / float64(total)
}

// ValidationStatus 描述一个 Alt-Svc 端点的校验状态
type ValidationStatus int

const (
	ValidationUnknown ValidationStatus = iota
	ValidationValid
	ValidationInvalid
	ValidationExpired
)

// AltSvcEndpoint 是从 Alt-Svc 头或显式校验得到的候选端点
type AltSvcEndpoint struct {
	Protocol      Version
	AltHost       string // 为空表示与原 host 相同
	Port          uint16
	MaxAge        time.Duration
	DiscoveredAt  time.Time
	LastValidated time.Time
	Status        ValidationStatus
}

// Expired 判断端点是否已经超过其 MaxAge
func (e AltSvcEndpoint) Expired(now time.Time) bool {
	return now.Sub(e.DiscoveredAt) > e.MaxAge
}

// IsValid 当且仅当端点未过期且校验状态为 Valid 时成立
func (e AltSvcEndpoint) IsValid(now time.Time) bool {
	return !e.Expired(now) && e.Status == ValidationValid
}

// DomainCapabilities 是单个 origin 的完整协议情报
type DomainCapabilities struct {
	Origin string

	h3, h2, h1 AtomicProtocolSupport

	mu              sync.RWMutex
	altSvc          map[string]AltSvcEndpoint // key: "{proto}:{port}"
	lastSuccessVer  Version
	discoveredAt    time.Time
	lastUpdatedNs   atomic.Int64
}

func newDomainCapabilities(origin string, now time.Time) *DomainCapabilities {
	dc := &DomainCapabilities{
		Origin:       origin,
		altSvc:       make(map[string]AltSvcEndpoint),
		discoveredAt: now,
	}
	dc.lastUpdatedNs.Store(now.UnixNano())
	return dc
}

func (dc *DomainCapabilities) supportFor(v Version) *AtomicProtocolSupport {
	switch v {
	case VersionH3:
		return &dc.h3
	case VersionH2:
		return &dc.h2
	default:
		return &dc.h1
	}
}

func (dc *DomainCapabilities) touch(now time.Time) {
	dc.lastUpdatedNs.Store(now.UnixNano())
}

func (dc *DomainCapabilities) lastUpdated() time.Time {
	return time.Unix(0, dc.lastUpdatedNs.Load())
}

// Stats 是可供观测层读取的统计快照
type Stats struct {
	Hits                  uint64
	Misses                uint64
	Discoveries           uint64
	PreventedFailedAttempts uint64
}

// domainKey hashes an origin string into the map key this cache actually
// indexes by. Origins are short and the hash is taken on every lookup, so a
// single-label Labels value (rather than a bare string hash) keeps this
// consistent with how the rest of the pack keys label-shaped data.
func domainKey(origin string) uint64 {
	return labels.Labels{{Name: "origin", Value: origin}}.Hash()
}

// Cache 是按 origin 索引的协议情报缓存
type Cache struct {
	mu      sync.RWMutex
	domains map[uint64]*DomainCapabilities

	maxDomains            int
	retryAfterFailure      time.Duration
	minAttemptsForFailure  uint64

	hits, misses, discoveries, prevented atomic.Uint64
}

// Option 配置 Cache 的构造参数
type Option func(*Cache)

// WithMaxDomains 覆盖默认的 origin 容量上限
func WithMaxDomains(n int) Option {
	return func(c *Cache) { c.maxDomains = n }
}

// WithRetryAfterFailure 覆盖默认的失败重试冷却窗口
func WithRetryAfterFailure(d time.Duration) Option {
	return func(c *Cache) { c.retryAfterFailure = d }
}

// WithMinAttemptsForFailure 覆盖判定"已知失败"所需的最少失败次数
func WithMinAttemptsForFailure(n uint64) Option {
	return func(c *Cache) { c.minAttemptsForFailure = n }
}

// New 创建一个空的协议情报缓存
func New(opts ...Option) *Cache {
	c := &Cache{
		domains:               make(map[uint64]*DomainCapabilities),
		maxDomains:             DefaultMaxDomains,
		retryAfterFailure:      DefaultRetryAfterFailure,
		minAttemptsForFailure:  DefaultMinAttemptsForFailure,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getOrCreate 在首次引用时创建 DomainCapabilities 并在超出容量时触发淘汰
func (c *Cache) getOrCreate(origin string, now time.Time) *DomainCapabilities {
	key := domainKey(origin)

	c.mu.RLock()
	dc, ok := c.domains[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return dc
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if dc, ok := c.domains[key]; ok {
		c.hits.Add(1)
		return dc
	}

	c.misses.Add(1)
	dc = newDomainCapabilities(origin, now)
	c.domains[key] = dc

	if len(c.domains) > c.maxDomains {
		c.evictLocked()
	}
	return dc
}

// evictLocked 淘汰 last-updated 最旧的条目 直到大小回落到 90% of cap
//
// 调用方必须已持有写锁
func (c *Cache) evictLocked() {
	target := int(float64(c.maxDomains) * evictionTargetRatio)
	if target < 0 {
		target = 0
	}
	for len(c.domains) > target {
		var oldestKey uint64
		var oldest time.Time
		found := false
		for k, dc := range c.domains {
			lu := dc.lastUpdated()
			if !found || lu.Before(oldest) {
				oldest = lu
				oldestKey = k
				found = true
			}
		}
		if !found {
			return
		}
		delete(c.domains, oldestKey)
	}
}

// PreferredProtocol 按历史成功率排序 返回第一个通过 should_retry 的版本
//
// 未知 origin 返回 H3
func (c *Cache) PreferredProtocol(origin string) Version {
	now := time.Now()
	dc := c.getOrCreate(origin, now)

	ordered := append([]Version(nil), preferenceOrder...)
	sortByRate(ordered, dc)

	for _, v := range ordered {
		if dc.supportFor(v).shouldRetry(now, c.minAttemptsForFailure, c.retryAfterFailure) {
			return v
		}
	}
	return VersionH3
}

func sortByRate(versions []Version, dc *DomainCapabilities) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0; j-- {
			a := dc.supportFor(versions[j-1]).successRate()
			b := dc.supportFor(versions[j]).successRate()
			if b > a {
				versions[j-1], versions[j] = versions[j], versions[j-1]
			} else {
				break
			}
		}
	}
}

// ShouldRetry 参见 §4.4 的判定规则
func (c *Cache) ShouldRetry(origin string, v Version) bool {
	now := time.Now()
	dc := c.getOrCreate(origin, now)
	retry := dc.supportFor(v).shouldRetry(now, c.minAttemptsForFailure, c.retryAfterFailure)
	if !retry {
		c.prevented.Add(1)
	}
	return retry
}

// TrackSuccess 记录一次成功尝试 并将该版本标记为 last-successful-version
func (c *Cache) TrackSuccess(origin string, v Version) {
	now := time.Now()
	dc := c.getOrCreate(origin, now)
	dc.supportFor(v).recordSuccess(now)

	dc.mu.Lock()
	dc.lastSuccessVer = v
	dc.mu.Unlock()
	dc.touch(now)
}

// TrackFailure 记录一次失败尝试
func (c *Cache) TrackFailure(origin string, v Version) {
	now := time.Now()
	dc := c.getOrCreate(origin, now)
	dc.supportFor(v).recordFailure(now)
	dc.touch(now)
}

// LastSuccessfulVersion 返回最近一次成功使用的协议版本 未知时返回 VersionAuto 的零值
func (c *Cache) LastSuccessfulVersion(origin string) Version {
	now := time.Now()
	dc := c.getOrCreate(origin, now)
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.lastSuccessVer
}

// GetAltSvcEndpoints 返回未过期且状态为 Valid 的端点列表
func (c *Cache) GetAltSvcEndpoints(origin string) []AltSvcEndpoint {
	now := time.Now()
	dc := c.getOrCreate(origin, now)

	dc.mu.RLock()
	defer dc.mu.RUnlock()

	var out []AltSvcEndpoint
	for _, ep := range dc.altSvc {
		if ep.IsValid(now) {
			out = append(out, ep)
		}
	}
	return out
}

// SetAltSvcValidation 记录一次针对特定端点的显式校验结果
func (c *Cache) SetAltSvcValidation(origin string, proto Version, port uint16, status ValidationStatus) {
	now := time.Now()
	dc := c.getOrCreate(origin, now)

	key := altSvcKey(proto, port)
	dc.mu.Lock()
	if ep, ok := dc.altSvc[key]; ok {
		ep.Status = status
		ep.LastValidated = now
		dc.altSvc[key] = ep
	}
	dc.mu.Unlock()
	dc.touch(now)
}

// Stats 返回观测计数器的快照
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:                    c.hits.Load(),
		Misses:                  c.misses.Load(),
		Discoveries:             c.discoveries.Load(),
		PreventedFailedAttempts: c.prevented.Load(),
	}
}

func altSvcKey(proto Version, port uint16) string {
	return string(proto) + ":" + portString(port)
}

func portString(port uint16) string {
	if port == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for port > 0 {
		i--
		buf[i] = byte('0' + port%10)
		port /= 10
	}
	return string(buf[i:])
}
