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
	"crypto/tls"

	"github.com/packetd/httpcore/confengine"
	"github.com/packetd/httpcore/protocolcache"
	"github.com/packetd/httpcore/transport/h3"
)

// NewDispatcherFromConfig builds a Dispatcher from a loaded HTTPConfig,
// translating its QUIC and protocol-cache sections into the shapes each
// package's own constructor expects.
func NewDispatcherFromConfig(cfg confengine.HTTPConfig, tlsConfig *tls.Config) *Dispatcher {
	cache := protocolcache.New(
		protocolcache.WithMaxDomains(cfg.ProtocolCache.MaxDomains),
		protocolcache.WithRetryAfterFailure(cfg.ProtocolCache.RetryAfterFailure),
		protocolcache.WithMinAttemptsForFailure(uint64(cfg.ProtocolCache.MinAttemptsForFailure)),
	)

	h3Cfg := h3.Config{
		ConnectTimeout:           cfg.ConnectTimeout,
		IdleTimeout:              cfg.IdleTimeout,
		MaxIdleTimeout:           cfg.QUIC.MaxIdleTimeout,
		InitialMaxData:           cfg.QUIC.InitialMaxData,
		InitialMaxStreamsBidi:    cfg.QUIC.InitialMaxStreamsBidi,
		InitialMaxStreamsUni:     cfg.QUIC.InitialMaxStreamsUni,
		InitialMaxStreamDataBidi: cfg.QUIC.InitialMaxStreamDataBidi,
		MaxUDPPayloadSize:        cfg.QUIC.MaxUDPPayloadSize,
		EnableEarlyData:          cfg.QUIC.EnableEarlyData,
		Congestion:               congestionFromString(cfg.QUIC.CongestionControl),
	}

	return NewDispatcher(cache, tlsConfig, h3Cfg)
}

func congestionFromString(s string) h3.CongestionControl {
	switch s {
	case "reno":
		return h3.CongestionReno
	case "bbr":
		return h3.CongestionBBR
	case "bbrv2":
		return h3.CongestionBBRv2
	default:
		return h3.CongestionCubic
	}
}
