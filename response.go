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
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

const (
	headersStreamCapacity  = 256
	bodyStreamCapacity     = 1024
	trailersStreamCapacity = 64
)

// HeaderFrame 是 headers_stream / trailers_stream 传递的单个元素
type HeaderFrame struct {
	Name      string
	Value     string
	Timestamp time.Time
}

// BodyChunk 是 body_stream 传递的单个元素
//
// Offset 严格单调递增 等于此 chunk 之前已发出的 payload 累计字节数
// IsFinal 在连接正常结束时只会在唯一一个 chunk 上被置位 连接中止时可能没有任何 chunk 置位
// Err 非空时表示这是一个错误标记 可能作为最后一个 body 元素出现 取代正常的终止 chunk
type BodyChunk struct {
	Data      []byte
	Offset    uint64
	IsFinal   bool
	Timestamp time.Time
	Err       error
}

// Response 由分发器在 body 到达前同步构造并返回
type Response struct {
	status uint32 // atomic, 0 = pending

	headersStream  chan HeaderFrame
	bodyStream     chan BodyChunk
	trailersStream chan HeaderFrame

	version  Version
	streamID uint64

	etagOnce  sync.Once
	etag      string
	lastModOnce sync.Once
	lastMod     string

	cacheMu        sync.Mutex
	headersDrained bool
	headersCache   []HeaderFrame
	bodyDrained    bool
	bodyCache      []byte
	bodyErr        error
}

// NewResponse 构造一个待填充的 Response 三个 stream 按固定容量创建
func NewResponse(version Version, streamID uint64) *Response {
	return &Response{
		headersStream:  make(chan HeaderFrame, headersStreamCapacity),
		bodyStream:     make(chan BodyChunk, bodyStreamCapacity),
		trailersStream: make(chan HeaderFrame, trailersStreamCapacity),
		version:        version,
		streamID:       streamID,
	}
}

// Status 无锁读取当前状态码 0 表示尚未可知
func (r *Response) Status() uint16 {
	return uint16(atomic.LoadUint32(&r.status))
}

// setStatus 由协议引擎调用 只应被调用一次
func (r *Response) setStatus(code uint16) {
	atomic.StoreUint32(&r.status, uint32(code))
}

// Version 返回协商得到的协议版本
func (r *Response) Version() Version { return r.version }

// StreamID 返回底层协议流标识
func (r *Response) StreamID() uint64 { return r.streamID }

// ETag 返回首帧设置的 ETag 值 此后不再变化
func (r *Response) ETag() string { return r.etag }

// LastModified 返回首帧设置的 Last-Modified 值 此后不再变化
func (r *Response) LastModified() string { return r.lastMod }

// recordFirstFrame 在首个 header 帧到达时写入一次性缓存字段
func (r *Response) recordFirstFrame(name, value string) {
	switch name {
	case "etag", "ETag", "Etag":
		r.etagOnce.Do(func() { r.etag = value })
	case "last-modified", "Last-Modified":
		r.lastModOnce.Do(func() { r.lastMod = value })
	}
}

// HeadersStream 暴露原始 header 流 供零拷贝消费者使用
func (r *Response) HeadersStream() <-chan HeaderFrame { return r.headersStream }

// BodyStream 暴露原始 body 流 供零拷贝消费者使用
func (r *Response) BodyStream() <-chan BodyChunk { return r.bodyStream }

// TrailersStream 暴露原始 trailer 流 供零拷贝消费者使用
func (r *Response) TrailersStream() <-chan HeaderFrame { return r.trailersStream }

// IntoBodyStream 消费 Response 转为只读 body 流 适用于零拷贝流式访问场景
func (r *Response) IntoBodyStream() <-chan BodyChunk { return r.bodyStream }

// IntoStreams 消费 Response 转为三个只读流 适用于需要同时观察 header/body/trailer 的场景
func (r *Response) IntoStreams() (<-chan HeaderFrame, <-chan BodyChunk, <-chan HeaderFrame) {
	return r.headersStream, r.bodyStream, r.trailersStream
}

// Header 返回第一个匹配的已缓存 header 值 未命中或未 collect 时返回 false
func (r *Response) Header(name string) (string, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	for _, h := range r.headersCache {
		if equalFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Headers 返回已缓存的全部 header 未 collect 时返回空切片
func (r *Response) Headers() []HeaderFrame {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return append([]HeaderFrame(nil), r.headersCache...)
}

// Body 返回已缓存的 body 字节 未 collect 时返回 nil
func (r *Response) Body() []byte {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.bodyCache
}

// BodyText 返回已缓存的 body 字符串形式
func (r *Response) BodyText() string {
	return string(r.Body())
}

// BodyJSON 将已缓存的 body 反序列化为 T 未 collect 或反序列化失败时返回错误
func BodyJSON[T any](r *Response) (T, error) {
	var v T
	b := r.Body()
	if len(b) == 0 {
		return v, ErrSerialization("body_json", errEmptyBody)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, ErrSerialization("body_json", err)
	}
	return v, nil
}

var errEmptyBody = newPlainError("body cache is empty")

// CollectAndCacheHeaders 排空一次 headers_stream 并写入缓存 对已排空的流重复调用是空操作
func (r *Response) CollectAndCacheHeaders() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.headersDrained {
		return
	}
	for h := range r.headersStream {
		r.headersCache = append(r.headersCache, h)
	}
	r.headersDrained = true
}

// CollectAndCacheBody 排空一次 body_stream 并写入缓存 对已排空的流重复调用是空操作
//
// 如果最后一个 chunk 携带 Err 则记录到 bodyErr 而不追加到 bodyCache
func (r *Response) CollectAndCacheBody() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if r.bodyDrained {
		return
	}
	for chunk := range r.bodyStream {
		if chunk.Err != nil {
			r.bodyErr = chunk.Err
			continue
		}
		r.bodyCache = append(r.bodyCache, chunk.Data...)
	}
	r.bodyDrained = true
}

// BodyError 返回排空期间观察到的错误标记(若有)
func (r *Response) BodyError() error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.bodyErr
}

// emitHeader 由协议引擎写入一个 header 帧 首帧同时触发一次性字段记录
func (r *Response) emitHeader(name, value string) {
	r.recordFirstFrame(name, value)
	r.headersStream <- HeaderFrame{Name: name, Value: value, Timestamp: time.Now()}
}

// emitBody 由协议引擎写入一个 body chunk
func (r *Response) emitBody(chunk BodyChunk) {
	r.bodyStream <- chunk
}

// emitTrailer 由协议引擎写入一个 trailer 帧
func (r *Response) emitTrailer(name, value string) {
	r.trailersStream <- HeaderFrame{Name: name, Value: value, Timestamp: time.Now()}
}

// closeStreams 关闭三个流 表示该响应不再有新数据到达
func (r *Response) closeStreams() {
	close(r.headersStream)
	close(r.bodyStream)
	close(r.trailersStream)
}
