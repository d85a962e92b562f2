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

// Package bufpool implements the scoped acquire/release byte-buffer pool used
// by the compression codec: a deque of reusable buffers with a usage
// histogram that predicts the next allocation size. Every Pool method takes
// the pool's mutex; when each worker goroutine owns its own Pool instance
// that mutex is never contended.
package bufpool

import (
	"math/bits"
	"sync"
)

const (
	// MaxPoolBytes 是单个 Pool 允许驻留的字节总量上限 默认 4MiB
	MaxPoolBytes = 4 * 1024 * 1024

	// MaxBufferBytes 是单个缓冲区允许的最大容量 超过此值直接丢弃而非回收
	MaxBufferBytes = 16 * 1024 * 1024

	histogramBuckets = 16
	histogramBase    = 12 // 2^12 = 4KiB, 桶 0 覆盖所有更小的请求
)

// Buffer 是从 Pool 借出的可复用字节缓冲区 使用方必须在退出路径上调用 Release
type Buffer struct {
	B []byte
}

// Reset 清空缓冲区内容 但保留底层容量
func (b *Buffer) Reset() {
	b.B = b.B[:0]
}

// Pool 是一个由互斥锁保护的缓冲区池 每个 worker goroutine 持有一个实例时该锁不会产生竞争
type Pool struct {
	mu sync.Mutex

	buffers []*Buffer
	total   int

	maxPoolBytes   int
	maxBufferBytes int
	histogram      [histogramBuckets]uint64
}

// New 创建一个使用默认容量限制的 Pool
func New() *Pool {
	return NewWithLimits(MaxPoolBytes, MaxBufferBytes)
}

// NewWithLimits 创建一个自定义容量限制的 Pool
func NewWithLimits(maxPoolBytes, maxBufferBytes int) *Pool {
	return &Pool{
		maxPoolBytes:   maxPoolBytes,
		maxBufferBytes: maxBufferBytes,
	}
}

// Acquire 返回一个容量不小于 minSize 的缓冲区
//
// 优先从队首弹出第一个容量足够的缓冲区 复用其底层数组并清空内容长度
// 容量不足的缓冲区会被丢弃并从池字节总量中扣除 不会被归还
// 如果没有命中任何缓冲区 则依据直方图预测的最常用桶大小分配一个新的
func (p *Pool) Acquire(minSize int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buffers) > 0 {
		buf := p.buffers[0]
		p.buffers = p.buffers[1:]

		if cap(buf.B) >= minSize {
			p.total -= cap(buf.B)
			buf.B = buf.B[:0]
			return buf
		}
		p.total -= cap(buf.B)
	}

	size := p.predictSize(minSize)
	p.recordUsage(size)
	return &Buffer{B: make([]byte, 0, size)}
}

// Release 将缓冲区归还给池 满足条件时才会被实际保留
//
// 条件: 池当前字节总量低于上限 且该缓冲区容量不超过单缓冲区上限
// 调用方不应在 Release 之后继续使用该 Buffer
func (p *Pool) Release(buf *Buffer) {
	if buf == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c := cap(buf.B)
	if p.total+c > p.maxPoolBytes || c > p.maxBufferBytes {
		return
	}

	p.total += c
	p.buffers = append(p.buffers, buf)
}

// TotalBytes 返回当前池中驻留的字节总量 用于观测
func (p *Pool) TotalBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// predictSize 根据直方图中出现次数最多的桶预测下一次分配的大小
//
// 预测结果向下不低于 minSize 向上不超过单缓冲区上限
func (p *Pool) predictSize(minSize int) int {
	bestCount := uint64(0)
	size := minSize

	for bucket, count := range p.histogram {
		if count > bestCount {
			bestCount = count
			bucketSize := 1 << (bucket + histogramBase)
			if bucketSize < minSize {
				bucketSize = minSize
			}
			size = bucketSize
		}
	}

	if size > p.maxBufferBytes {
		size = p.maxBufferBytes
	}
	return size
}

// recordUsage 记录一次分配大小 用于直方图的自适应学习
//
// 桶编号为 floor(log2(size)) - 12 并被限制在 [0,15] 之间 因此所有
// 小于 4KiB 的请求都归入桶 0
func (p *Pool) recordUsage(size int) {
	if size <= 0 {
		return
	}

	bucket := bits.Len(uint(size)) - 1 - histogramBase
	if bucket < 0 {
		bucket = 0
	}
	if bucket >= histogramBuckets {
		bucket = histogramBuckets - 1
	}
	p.histogram[bucket]++
}
