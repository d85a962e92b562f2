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

// Package h2 implements the HTTP/2 engine: it dials a TLS connection
// negotiating ALPN "h2", serializes requests through golang.org/x/net/http2's
// native HPACK encoder, and emits inbound frames onto a response's
// header/body/trailer channels.
package h2

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/packetd/httpcore/common"
	"github.com/packetd/httpcore/compression"
	"github.com/packetd/httpcore/internal/bufpool"
	"github.com/packetd/httpcore/internal/obslog"
	"github.com/packetd/httpcore/internal/zerocopy"
)

// Frames is the channel set handed back to the dispatcher for a single stream.
type Frames struct {
	Status   chan uint16
	Headers  chan Header
	Body     chan BodyChunk
	Trailers chan Header
}

// Header mirrors the root package's HeaderFrame without importing it, keeping
// this engine independent of the dispatcher's internal Response type.
type Header struct {
	Name, Value string
	Timestamp   time.Time
}

// BodyChunk mirrors the root package's BodyChunk.
type BodyChunk struct {
	Data      []byte
	Offset    uint64
	IsFinal   bool
	Timestamp time.Time
	Err       error
}

// SendRequest is the shape the dispatcher sees: method, URL, headers and body
// are plain values so this package never depends on the root package.
type SendRequest struct {
	Method  string
	URL     string
	Headers [][2]string
	Body    io.Reader

	Compress bool
}

// AltSvcObserver receives the raw Alt-Svc header value when one is present on a response.
type AltSvcObserver func(origin, headerValue string)

// Engine is a per-process HTTP/2 transport keeping one pooled connection per origin.
//
// golang.org/x/net/http2's Transport already pools and multiplexes
// connections per origin internally; this type only adds the
// decompression and body-chunking behavior the dispatcher expects.
type Engine struct {
	rt   *http2.Transport
	pool *bufpool.Pool

	OnAltSvc AltSvcObserver
}

// New constructs an Engine. tlsConfig may be nil to use Go's default trust store.
func New(tlsConfig *tls.Config) *Engine {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		// the caller's config may be shared with the h3 engine, which sets
		// its own NextProtos on it
		tlsConfig = tlsConfig.Clone()
	}
	tlsConfig.NextProtos = []string{"h2"}

	return &Engine{
		rt: &http2.Transport{
			TLSClientConfig: tlsConfig,
			AllowHTTP:       false,
		},
		pool: bufpool.New(),
	}
}

// Send dials or reuses a connection for the request's origin and streams the
// response into the returned Frames. The stream id is informational only
// here; golang.org/x/net/http2's Transport manages the actual HTTP/2 stream
// ids internally.
func (e *Engine) Send(ctx context.Context, req SendRequest, streamID uint64) (*Frames, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, req.Body)
	if err != nil {
		return nil, err
	}
	for _, kv := range req.Headers {
		httpReq.Header.Add(kv[0], kv[1])
	}

	frames := &Frames{
		Status:   make(chan uint16, 1),
		Headers:  make(chan Header, 256),
		Body:     make(chan BodyChunk, 1024),
		Trailers: make(chan Header, 64),
	}

	go e.roundTrip(httpReq, frames)
	return frames, nil
}

func (e *Engine) roundTrip(httpReq *http.Request, frames *Frames) {
	defer close(frames.Status)
	defer close(frames.Headers)
	defer close(frames.Body)
	defer close(frames.Trailers)

	resp, err := e.rt.RoundTrip(httpReq)
	if err != nil {
		frames.Body <- BodyChunk{Err: err, IsFinal: true, Timestamp: time.Now()}
		return
	}
	defer resp.Body.Close()

	frames.Status <- uint16(resp.StatusCode)

	if altSvc := resp.Header.Get("Alt-Svc"); altSvc != "" && e.OnAltSvc != nil {
		e.OnAltSvc(originOf(httpReq), altSvc)
	}

	now := time.Now()
	for name, values := range resp.Header {
		for _, v := range values {
			frames.Headers <- Header{Name: name, Value: v, Timestamp: now}
		}
	}

	body := resp.Body
	var reader io.Reader = body
	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		if algo, ok := algorithmFor(enc); ok {
			if decReader, derr := compression.BoundedDecodeReader(body, algo); derr == nil {
				reader = decReader
				defer decReader.Close()
			} else {
				obslog.Errorf("h2: failed to build decode reader for %s: %v", enc, derr)
			}
		}
	}

	e.streamBody(reader, frames)

	for name, values := range resp.Trailer {
		for _, v := range values {
			frames.Trailers <- Header{Name: name, Value: v, Timestamp: time.Now()}
		}
	}
}

// streamBody drains r in pooled-buffer-sized reads and re-slices each read
// into chunk-capacity pieces through a zerocopy.Buffer, which owns the
// "give me up to n bytes, advance, EOF when exhausted" bookkeeping. The
// slices it hands back still get copied onto the channel, since the pool
// buffer backing them is reused on the next iteration.
func (e *Engine) streamBody(r io.Reader, frames *Frames) {
	buf := e.pool.Acquire(common.DefaultBodyChunkSize)
	defer e.pool.Release(buf)

	var offset uint64
	for {
		n, err := r.Read(buf.B[:cap(buf.B)])
		if n > 0 {
			zc := zerocopy.NewBuffer(buf.B[:n])
			for {
				data, rerr := zc.Read(common.DefaultBodyChunkSize)
				if len(data) > 0 {
					owned := append([]byte(nil), data...)
					frames.Body <- BodyChunk{Data: owned, Offset: offset, Timestamp: time.Now()}
					offset += uint64(len(data))
				}
				if rerr == io.EOF {
					break
				}
			}
			zc.Close()
		}
		if err == io.EOF {
			frames.Body <- BodyChunk{Offset: offset, IsFinal: true, Timestamp: time.Now()}
			return
		}
		if err != nil {
			frames.Body <- BodyChunk{Err: err, Offset: offset, IsFinal: true, Timestamp: time.Now()}
			return
		}
	}
}

func algorithmFor(contentEncoding string) (compression.Algorithm, bool) {
	switch contentEncoding {
	case "gzip":
		return compression.AlgorithmGzip, true
	case "deflate":
		return compression.AlgorithmDeflate, true
	case "br":
		return compression.AlgorithmBrotli, true
	default:
		return "", false
	}
}

func originOf(req *http.Request) string {
	return req.URL.Scheme + "://" + req.URL.Hostname() + ":" + portOrDefault(req.URL)
}

func portOrDefault(u interface{ Port() string }) string {
	if p := u.Port(); p != "" {
		return p
	}
	return "443"
}
