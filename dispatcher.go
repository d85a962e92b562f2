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
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	json "github.com/goccy/go-json"

	"github.com/packetd/httpcore/compression"
	"github.com/packetd/httpcore/internal/obslog"
	"github.com/packetd/httpcore/internal/pubsub"
	"github.com/packetd/httpcore/protocolcache"
	"github.com/packetd/httpcore/transport/h2"
	"github.com/packetd/httpcore/transport/h3"
)

const defaultConnectTimeout = 5 * time.Second

// Event is published on the dispatcher's event bus for protocol transitions.
type Event struct {
	Kind      string // "alt_svc_discovered" is the only kind published
	Origin    string
	Version   Version
	Timestamp time.Time
}

// Dispatcher resolves a request's origin, consults the protocol intelligence
// cache for a preferred version, and invokes the selected engine, falling
// back through the cache's preference order on failure.
type Dispatcher struct {
	cache *protocolcache.Cache
	h2    *h2.Engine
	h3    *h3.Engine

	events *pubsub.PubSub
}

// NewDispatcher wires a Dispatcher from a protocol cache and both transport engines.
func NewDispatcher(cache *protocolcache.Cache, tlsConfig *tls.Config, h3Cfg h3.Config) *Dispatcher {
	if cache == nil {
		cache = protocolcache.New()
	}

	d := &Dispatcher{
		cache:  cache,
		h2:     h2.New(tlsConfig),
		h3:     h3.New(tlsConfig, h3Cfg),
		events: pubsub.New(),
	}

	d.h2.OnAltSvc = d.onAltSvc
	d.h3.OnAltSvc = d.onAltSvc
	return d
}

// Events returns a subscription queue of structured protocol transition events.
func (d *Dispatcher) Events() pubsub.Queue {
	return d.events.Subscribe(64)
}

func (d *Dispatcher) onAltSvc(origin, headerValue string) {
	d.cache.UpdateAltSvc(origin, headerValue)
	d.events.Publish(Event{Kind: "alt_svc_discovered", Origin: origin, Timestamp: time.Now()})
}

// Dispatch resolves a preferred protocol, tries it, and falls back through
// the cache's retry-eligible preference order (H3 -> H2 -> H1) on failure.
// At most three versions are attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	if req.BuildError != nil {
		return nil, req.BuildError
	}
	if req.URL == nil {
		return nil, ErrInvalidRequest("dispatch", errMissingURL)
	}

	origin := req.Origin()
	preferred := req.PreferVersion
	if preferred == VersionAuto {
		preferred = d.cache.PreferredProtocol(origin)
	}

	tried := map[protocolcache.Version]bool{}
	order := []protocolcache.Version{toCache(preferred), protocolcache.VersionH3, protocolcache.VersionH2, protocolcache.VersionH1}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs *multierror.Error
	attempts := 0

	for _, v := range order {
		if tried[v] || attempts >= 3 {
			continue
		}
		if !d.cache.ShouldRetry(origin, v) {
			continue
		}
		tried[v] = true
		attempts++

		resp, err := d.attempt(ctx, req, fromCache(v))
		if err == nil {
			d.cache.TrackSuccess(origin, v)
			return resp, nil
		}

		d.cache.TrackFailure(origin, v)
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", v, err))
		obslog.Warnf("dispatch attempt failed origin=%s version=%s: %v", origin, v, err)
	}

	if errs == nil {
		return nil, ErrProtocol("dispatch", errNoEligibleVersion)
	}
	return nil, ErrProtocol("dispatch", errs)
}

var (
	errMissingURL                = newPlainError("request has no URL")
	errNoEligibleVersion         = newPlainError("no protocol version was eligible for retry")
	errStreamClosedBeforeHeaders = newPlainError("stream closed before any headers arrived")
)

func toCache(v Version) protocolcache.Version   { return protocolcache.Version(v) }
func fromCache(v protocolcache.Version) Version { return Version(v) }

func (d *Dispatcher) attempt(ctx context.Context, req *Request, v Version) (*Response, error) {
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, ErrSerialization("encode_body", err)
	}

	headers := headerPairs(req.Headers)
	if contentType != "" {
		headers = append(headers, [2]string{"Content-Type", contentType})
	}
	if req.Body.Kind == BodyMultipart {
		headers = append(headers, [2]string{"Content-Length", strconv.FormatInt(multipartContentLength(req.Body.Multipart), 10)})
	}
	headers = applyAuth(headers, req.Auth)

	switch v {
	case VersionH3:
		streamID := h3.NextStreamID()
		frames, err := d.h3.Send(ctx, h3.SendRequest{
			Method: string(req.Method), URL: req.URL.String(), Headers: headers, Body: body,
		}, streamID)
		if err != nil {
			return nil, ErrConnectionFailed("h3_send", err)
		}
		status, firstErr, ok := waitForHeadersH3(frames)
		if !ok {
			return nil, ErrConnectionFailed("h3_send", firstErr)
		}
		return collectH3(frames, v, streamID, status), nil

	case VersionH2:
		streamID := uint64(time.Now().UnixNano())
		frames, err := d.h2.Send(ctx, h2.SendRequest{
			Method: string(req.Method), URL: req.URL.String(), Headers: headers, Body: body,
		}, streamID)
		if err != nil {
			return nil, ErrConnectionFailed("h2_send", err)
		}
		status, firstErr, ok := waitForHeadersH2(frames)
		if !ok {
			return nil, ErrConnectionFailed("h2_send", firstErr)
		}
		return collectH2(frames, v, streamID, status), nil

	default:
		return nil, ErrProtocol("h1_unsupported", errH1OutOfScope)
	}
}

// waitForHeadersH2 blocks until the engine either reports a status code (success
// — headers are on their way) or surfaces a body-channel error before any
// status arrived (connection/handshake failure). This is the boundary the
// dispatcher uses to decide track_success vs track_failure.
func waitForHeadersH2(frames *h2.Frames) (uint16, error, bool) {
	select {
	case status, ok := <-frames.Status:
		if !ok {
			return 0, <-drainH2Err(frames), false
		}
		return status, nil, true
	case chunk := <-frames.Body:
		return 0, chunk.Err, false
	}
}

func drainH2Err(frames *h2.Frames) chan error {
	out := make(chan error, 1)
	go func() {
		for b := range frames.Body {
			if b.Err != nil {
				out <- b.Err
				return
			}
		}
		out <- errStreamClosedBeforeHeaders
	}()
	return out
}

func waitForHeadersH3(frames *h3.Frames) (uint16, error, bool) {
	select {
	case status, ok := <-frames.Status:
		if !ok {
			return 0, <-drainH3Err(frames), false
		}
		return status, nil, true
	case chunk := <-frames.Body:
		return 0, chunk.Err, false
	}
}

func drainH3Err(frames *h3.Frames) chan error {
	out := make(chan error, 1)
	go func() {
		for b := range frames.Body {
			if b.Err != nil {
				out <- b.Err
				return
			}
		}
		out <- errStreamClosedBeforeHeaders
	}()
	return out
}

var errH1OutOfScope = newPlainError("http/1.1 fallback is out of scope for this engine")

func collectH2(frames *h2.Frames, v Version, streamID uint64, status uint16) *Response {
	resp := NewResponse(v, streamID)
	resp.setStatus(status)
	go pumpH2(frames, resp)
	return resp
}

func collectH3(frames *h3.Frames, v Version, streamID uint64, status uint16) *Response {
	resp := NewResponse(v, streamID)
	resp.setStatus(status)
	go pumpH3(frames, resp)
	return resp
}

func pumpH2(frames *h2.Frames, resp *Response) {
	defer resp.closeStreams()
	for h := range frames.Headers {
		resp.emitHeader(h.Name, h.Value)
	}
	for b := range frames.Body {
		resp.emitBody(classifyBodyChunk(BodyChunk{Data: b.Data, Offset: b.Offset, IsFinal: b.IsFinal, Timestamp: b.Timestamp, Err: b.Err}))
	}
	for h := range frames.Trailers {
		resp.emitTrailer(h.Name, h.Value)
	}
}

func pumpH3(frames *h3.Frames, resp *Response) {
	defer resp.closeStreams()
	for h := range frames.Headers {
		resp.emitHeader(h.Name, h.Value)
	}
	for b := range frames.Body {
		resp.emitBody(classifyBodyChunk(BodyChunk{Data: b.Data, Offset: b.Offset, IsFinal: b.IsFinal, Timestamp: b.Timestamp, Err: b.Err}))
	}
	for h := range frames.Trailers {
		resp.emitTrailer(h.Name, h.Value)
	}
}

// classifyBodyChunk translates an engine-level body error into this
// package's Kind taxonomy before it reaches a caller. The decompression-bomb
// guard (compression.BoundedDecodeReader) is the one body-stream error an
// engine can produce that has a specific Kind; everything else passes
// through unchanged.
func classifyBodyChunk(chunk BodyChunk) BodyChunk {
	if chunk.Err != nil && compression.IsResourceLimitExceeded(chunk.Err) {
		chunk.Err = ErrResourceLimit("body_stream", chunk.Err)
	}
	return chunk
}

func headerPairs(h Header) [][2]string {
	out := make([][2]string, 0, h.Len())
	h.Each(func(name, value string) {
		out = append(out, [2]string{name, value})
	})
	return out
}

func applyAuth(headers [][2]string, auth Auth) [][2]string {
	switch auth.Kind {
	case AuthBasic:
		headers = append(headers, [2]string{"Authorization", "Basic " + basicToken(auth.User, auth.Pass)})
	case AuthBearer:
		headers = append(headers, [2]string{"Authorization", "Bearer " + auth.Token})
	case AuthAPIKey:
		headers = append(headers, [2]string{auth.KeyName, auth.KeyValue})
	case AuthCustomHeaders:
		auth.CustomHeaders.Each(func(name, value string) {
			headers = append(headers, [2]string{name, value})
		})
	}
	return headers
}

func basicToken(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}

const multipartBoundaryPrefix = "----formdata-fluent-"

func encodeBody(b Body) (io.Reader, string, error) {
	switch b.Kind {
	case BodyNone:
		return nil, "", nil
	case BodyBytes:
		return bytes.NewReader(b.Bytes), "application/octet-stream", nil
	case BodyText:
		return bytes.NewReader([]byte(b.Text)), "text/plain; charset=utf-8", nil
	case BodyJSON:
		buf, err := json.Marshal(b.JSON)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(buf), "application/json", nil
	case BodyForm:
		encoded := b.Form.Encode()
		return bytes.NewReader([]byte(encoded)), "application/x-www-form-urlencoded", nil
	case BodyMultipart:
		return encodeMultipart(b.Multipart)
	case BodyStream:
		return b.Stream, "application/octet-stream", nil
	default:
		return nil, "", nil
	}
}

// encodeMultipart builds a multipart/form-data body with a fixed-format
// boundary ("----formdata-fluent-" + 16 hex chars, 36 bytes total) instead of
// mime/multipart's own randomized boundary, so callers that need to predict
// the encoded size up front can do so.
func encodeMultipart(fields []MultipartField) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	boundary, err := newMultipartBoundary()
	if err != nil {
		return nil, "", err
	}
	if err := w.SetBoundary(boundary); err != nil {
		return nil, "", err
	}

	for _, f := range fields {
		part, err := w.CreatePart(multipartFieldHeader(f))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// multipartFieldHeader builds the exact header set multipartContentLength
// accounts for, so the two stay in lockstep: a plain field gets only
// Content-Disposition, a field with a filename and/or a content type gets
// the corresponding Content-Type line alongside it.
func multipartFieldHeader(f MultipartField) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader, 2)
	switch {
	case f.FileName != "":
		h.Set("Content-Disposition", `form-data; name="`+f.Name+`"; filename="`+f.FileName+`"`)
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		} else {
			h.Set("Content-Type", "application/octet-stream")
		}
	case f.ContentType != "":
		h.Set("Content-Disposition", `form-data; name="`+f.Name+`"`)
		h.Set("Content-Type", f.ContentType)
	default:
		h.Set("Content-Disposition", `form-data; name="`+f.Name+`"`)
	}
	return h
}

// multipartBoundaryLen is the fixed length of newMultipartBoundary's output:
// len(multipartBoundaryPrefix) + 16 hex chars.
const multipartBoundaryLen = len(multipartBoundaryPrefix) + 16

// multipartContentLength computes the exact encoded size of fields without
// building the body, so it can be set as the request's Content-Length up
// front. It must stay in lockstep with the part framing encodeMultipart
// produces via mime/multipart: a "--boundary\r\n" separator, a
// Content-Disposition line (plus a Content-Type line when the field carries
// one), a blank line, the value bytes, and a trailing "\r\n" — followed once,
// at the end, by the closing "--boundary--\r\n".
func multipartContentLength(fields []MultipartField) int64 {
	var total int64
	for _, f := range fields {
		total += 2 + multipartBoundaryLen + 2

		switch {
		case f.FileName != "" && f.ContentType != "":
			// Content-Disposition: form-data; name="{name}"; filename="{filename}"\r\n
			total += 54 + int64(len(f.Name)) + int64(len(f.FileName))
			// Content-Type: {content_type}\r\n\r\n
			total += 18 + int64(len(f.ContentType))
		case f.FileName != "":
			// Content-Disposition: form-data; name="{name}"; filename="{filename}"\r\n
			total += 54 + int64(len(f.Name)) + int64(len(f.FileName))
			// Content-Type: application/octet-stream\r\n\r\n
			total += 42
		case f.ContentType != "":
			// Content-Disposition: form-data; name="{name}"\r\n
			total += 41 + int64(len(f.Name))
			// Content-Type: {content_type}\r\n\r\n
			total += 18 + int64(len(f.ContentType))
		default:
			// Content-Disposition: form-data; name="{name}"\r\n\r\n
			total += 43 + int64(len(f.Name))
		}

		total += int64(len(f.Value))
		total += 2
	}
	if len(fields) == 0 {
		// with no parts, mime/multipart still writes a leading "\r\n"
		total += 2
	}
	total += 2 + multipartBoundaryLen + 2 + 2
	return total
}

func newMultipartBoundary() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return multipartBoundaryPrefix + hex.EncodeToString(raw), nil
}

