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

package confengine

import "time"

// HTTPConfig is this module's top-level configuration schema, unpacked from
// a Config via UnpackChild("http", &cfg) or Unpack for a document whose root
// already is this shape. Field tags follow go-ucfg's struct-tag convention
// (the same `config` tag mapstructure also recognizes for the standalone
// per-request override path).
type HTTPConfig struct {
	RequestCompression bool          `config:"request_compression"`
	RequestTimeout     time.Duration `config:"request_timeout"`
	ConnectTimeout     time.Duration `config:"connect_timeout"`
	IdleTimeout        time.Duration `config:"idle_timeout"`

	QUIC QUICConfig `config:"quic"`

	ProtocolCache ProtocolCacheConfig `config:"protocol_cache"`
}

// QUICConfig mirrors transport/h3.Config's knobs for the config file path.
type QUICConfig struct {
	MaxIdleTimeout           time.Duration `config:"max_idle_timeout"`
	InitialMaxData           int64         `config:"initial_max_data"`
	InitialMaxStreamsBidi    int64         `config:"initial_max_streams_bidi"`
	InitialMaxStreamsUni     int64         `config:"initial_max_streams_uni"`
	InitialMaxStreamDataBidi int64         `config:"initial_max_stream_data_bidi"`
	MaxUDPPayloadSize        uint16        `config:"max_udp_payload_size"`
	EnableEarlyData          bool          `config:"enable_early_data"`
	CongestionControl        string        `config:"congestion_control"`
}

// ProtocolCacheConfig mirrors protocolcache.Option's knobs for the config file path.
type ProtocolCacheConfig struct {
	MaxDomains            int           `config:"max_domains"`
	RetryAfterFailure     time.Duration `config:"retry_after_failure"`
	MinAttemptsForFailure int           `config:"min_attempts_for_failure"`
}

// DefaultHTTPConfig returns this module's baseline configuration, to be
// overridden field-by-field by whatever was actually present in a loaded
// document.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		RequestCompression: true,
		RequestTimeout:     30 * time.Second,
		ConnectTimeout:     5 * time.Second,
		IdleTimeout:        90 * time.Second,
		QUIC: QUICConfig{
			MaxIdleTimeout:           30 * time.Second,
			InitialMaxData:           10 << 20,
			InitialMaxStreamsBidi:    100,
			InitialMaxStreamsUni:     100,
			InitialMaxStreamDataBidi: 1 << 20,
			MaxUDPPayloadSize:        1452,
			EnableEarlyData:          false,
			CongestionControl:        "cubic",
		},
		ProtocolCache: ProtocolCacheConfig{
			MaxDomains:            10000,
			RetryAfterFailure:     5 * time.Minute,
			MinAttemptsForFailure: 3,
		},
	}
}

// LoadHTTPConfig loads and unpacks an HTTPConfig from a YAML file at path,
// starting from DefaultHTTPConfig so fields absent from the document keep
// their documented defaults.
func LoadHTTPConfig(path string) (HTTPConfig, error) {
	cfg := DefaultHTTPConfig()
	c, err := LoadConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := c.Unpack(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
