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

// Package compression implements the streaming gzip/deflate/brotli codec
// used on the request and response body path, including the
// worthwhile-ratio heuristic that skips compression when it doesn't pay
// for itself and the content-type policy that decides whether to even try.
package compression

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/packetd/httpcore/internal/bufpool"
)

// Algorithm 标识压缩编码
type Algorithm string

const (
	AlgorithmGzip    Algorithm = "gzip"
	AlgorithmDeflate Algorithm = "deflate"
	AlgorithmBrotli  Algorithm = "br"
)

const (
	// minCompressibleSize 小于此长度的输入直接原样返回 压缩开销不值得
	minCompressibleSize = 64

	// minWorthwhileRatio 原始体积与压缩后体积的比值(原始/压缩后)低于此值则放弃压缩结果
	minWorthwhileRatio = 1.05

	// maxDecompressedBytes 是解压输出的硬上限 用于防范解压炸弹
	maxDecompressedBytes = 64 * 1024 * 1024
)

// Stats 是可选的压缩统计接收端 由调用方提供 Compress 实际尝试编码时更新(空输入与短于 64 字节的输入不计入)
type Stats struct {
	Attempted            uint64
	Applied              uint64
	Errors               uint64
	BytesBeforeCompression uint64
	BytesAfterCompression  uint64
	CompressionTimeMicros  uint64
}

func (s *Stats) recordApplied(before, after int, elapsed time.Duration) {
	if s == nil {
		return
	}
	s.Applied++
	s.BytesBeforeCompression += uint64(before)
	s.BytesAfterCompression += uint64(after)

	micros := uint64(elapsed.Microseconds())
	if s.CompressionTimeMicros+micros < s.CompressionTimeMicros {
		s.CompressionTimeMicros = ^uint64(0) // saturate
		return
	}
	s.CompressionTimeMicros += micros
}

func (s *Stats) recordAttempt() {
	if s == nil {
		return
	}
	s.Attempted++
}

func (s *Stats) recordError() {
	if s == nil {
		return
	}
	s.Errors++
}

// Compress 按给定算法压缩 data 应用下列短路规则:
//   - 空输入 -> 空输出
//   - 输入长度 < 64 字节 -> 原样返回
//   - 压缩比(原始/压缩后) < 1.05 -> 原样返回 调用方不应假设返回的是压缩数据
//
// pool 非空时用作编码过程的暂存缓冲区来源 stats 非空时记录观测指标
func Compress(data []byte, algo Algorithm, pool *bufpool.Pool, stats *Stats) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if len(data) < minCompressibleSize {
		return data, nil
	}

	stats.recordAttempt()
	start := time.Now()

	compressed, err := encode(data, algo, pool)
	if err != nil {
		stats.recordError()
		return nil, err
	}

	ratio := worthRatio(len(data), len(compressed))
	if ratio < minWorthwhileRatio {
		return data, nil
	}

	stats.recordApplied(len(data), len(compressed), time.Since(start))
	return compressed, nil
}

func worthRatio(original, compressed int) float64 {
	if compressed == 0 {
		return minWorthwhileRatio + 1
	}
	return float64(original) / float64(compressed)
}

func encode(data []byte, algo Algorithm, pool *bufpool.Pool) ([]byte, error) {
	var buf *bufpool.Buffer
	if pool != nil {
		buf = pool.Acquire(len(data) / 2)
		defer pool.Release(buf)
	}

	out := bytes.NewBuffer(nil)
	if buf != nil {
		out = bytes.NewBuffer(buf.B[:0])
	}

	switch algo {
	case AlgorithmGzip:
		w := gzip.NewWriter(out)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case AlgorithmDeflate:
		w, err := flate.NewWriter(out, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case AlgorithmBrotli:
		w := brotli.NewWriter(out)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, errUnknownAlgorithm(algo)
	}
	if buf != nil {
		// out may still share buf's array, which goes back to the pool
		return append([]byte(nil), out.Bytes()...), nil
	}
	return out.Bytes(), nil
}

// Decompress 解压 data 输出超过 64 MiB 时中止并返回错误
func Decompress(data []byte, algo Algorithm) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	r, err := decodeReader(data, algo)
	if err != nil {
		return nil, err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	limited := io.LimitReader(r, maxDecompressedBytes+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(out) > maxDecompressedBytes {
		return nil, errDecompressionBomb
	}
	return out, nil
}

func decodeReader(data []byte, algo Algorithm) (io.Reader, error) {
	switch algo {
	case AlgorithmGzip:
		return gzip.NewReader(bytes.NewReader(data))
	case AlgorithmDeflate:
		return flate.NewReader(bytes.NewReader(data)), nil
	case AlgorithmBrotli:
		return brotli.NewReader(bytes.NewReader(data)), nil
	default:
		return nil, errUnknownAlgorithm(algo)
	}
}

type algorithmError Algorithm

func (e algorithmError) Error() string {
	return "compression: unknown algorithm " + string(e)
}

func errUnknownAlgorithm(a Algorithm) error { return algorithmError(a) }

type bombError struct{}

func (bombError) Error() string { return "compression: decompressed size exceeds 64MiB limit" }

var errDecompressionBomb = bombError{}

// uncompressibleTypes 是按字典序排序的已压缩 MIME 类型表 用于二分查找
var uncompressibleTypes = []string{
	"application/gzip",
	"application/octet-stream",
	"application/pdf",
	"application/x-br",
	"application/x-bzip2",
	"application/x-compress",
	"application/x-deflate",
	"application/x-gzip",
	"application/x-xz",
	"application/zip",
	"audio/mp4",
	"audio/mpeg",
	"audio/ogg",
	"audio/wav",
	"audio/webm",
	"image/avif",
	"image/bmp",
	"image/gif",
	"image/jpeg",
	"image/png",
	"image/webp",
	"video/mp4",
	"video/mpeg",
	"video/quicktime",
	"video/webm",
	"video/x-msvideo",
}

// ShouldCompress 实现 §4.2 的内容类型策略
func ShouldCompress(contentType string, enabled bool) bool {
	if !enabled {
		return false
	}
	if contentType == "" {
		return true
	}

	switch {
	case strings.HasPrefix(contentType, "text/"),
		strings.HasPrefix(contentType, "application/json"),
		strings.HasPrefix(contentType, "application/javascript"),
		strings.HasPrefix(contentType, "application/xml"):
		return true
	}

	i := sort.SearchStrings(uncompressibleTypes, contentType)
	found := i < len(uncompressibleTypes) && uncompressibleTypes[i] == contentType
	return !found
}
