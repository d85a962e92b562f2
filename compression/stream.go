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
	"errors"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// DecodeReader 将 src 包装为一个按 algo 解码的 io.ReadCloser 供响应 body 流式解压使用
//
// 返回的 reader 不做 64 MiB 上限检查 调用方需要自行用 io.LimitReader 包裹
// 以便与非流式的 Decompress 共享同一条解压炸弹防护策略
func DecodeReader(src io.Reader, algo Algorithm) (io.ReadCloser, error) {
	switch algo {
	case AlgorithmGzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		return r, nil
	case AlgorithmDeflate:
		return flate.NewReader(src), nil
	case AlgorithmBrotli:
		return io.NopCloser(brotli.NewReader(src)), nil
	default:
		return nil, errUnknownAlgorithm(algo)
	}
}

// encodeWriteCloser 包装压缩写入器与其底层目的地 Close 只冲刷并关闭压缩写入器 不关闭 dst
type encodeWriteCloser struct {
	enc io.WriteCloser
	dst io.Writer
}

func (w *encodeWriteCloser) Write(p []byte) (int, error) { return w.enc.Write(p) }
func (w *encodeWriteCloser) Close() error                { return w.enc.Close() }

// EncodeWriter 将 dst 包装为一个按 algo 编码的 io.WriteCloser 供请求 body 流式压缩使用
func EncodeWriter(dst io.Writer, algo Algorithm) (io.WriteCloser, error) {
	switch algo {
	case AlgorithmGzip:
		return &encodeWriteCloser{enc: gzip.NewWriter(dst), dst: dst}, nil
	case AlgorithmDeflate:
		w, err := flate.NewWriter(dst, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		return &encodeWriteCloser{enc: w, dst: dst}, nil
	case AlgorithmBrotli:
		return &encodeWriteCloser{enc: brotli.NewWriter(dst), dst: dst}, nil
	default:
		return nil, errUnknownAlgorithm(algo)
	}
}

// BoundedDecodeReader 对 DecodeReader 的结果附加解压炸弹防护
func BoundedDecodeReader(src io.Reader, algo Algorithm) (io.ReadCloser, error) {
	r, err := DecodeReader(src, algo)
	if err != nil {
		return nil, err
	}
	return &boundedReadCloser{r: io.LimitReader(r, maxDecompressedBytes+1), inner: r}, nil
}

type boundedReadCloser struct {
	r     io.Reader
	inner io.ReadCloser
	read  int
}

func (b *boundedReadCloser) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += n
	if b.read > maxDecompressedBytes {
		return n, errDecompressionBomb
	}
	return n, err
}

func (b *boundedReadCloser) Close() error { return b.inner.Close() }

// IsResourceLimitExceeded reports whether err is the decompression-bomb
// guard a BoundedDecodeReader tripped, so callers outside this package can
// classify the failure without depending on the unexported sentinel itself.
func IsResourceLimitExceeded(err error) bool {
	return errors.Is(err, errDecompressionBomb)
}
