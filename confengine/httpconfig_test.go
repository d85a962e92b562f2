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

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHTTPConfigValues(t *testing.T) {
	cfg := DefaultHTTPConfig()

	assert.True(t, cfg.RequestCompression)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)

	assert.Equal(t, 30*time.Second, cfg.QUIC.MaxIdleTimeout)
	assert.EqualValues(t, 10<<20, cfg.QUIC.InitialMaxData)
	assert.Equal(t, "cubic", cfg.QUIC.CongestionControl)

	assert.Equal(t, 10000, cfg.ProtocolCache.MaxDomains)
	assert.Equal(t, 5*time.Minute, cfg.ProtocolCache.RetryAfterFailure)
	assert.Equal(t, 3, cfg.ProtocolCache.MinAttemptsForFailure)
}

func TestLoadHTTPConfigOverridesOnlyDocumentedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "http.yaml")
	content := "request_timeout: 10s\nquic:\n  congestion_control: bbr\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadHTTPConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "bbr", cfg.QUIC.CongestionControl)

	// Fields absent from the document keep DefaultHTTPConfig's values.
	assert.True(t, cfg.RequestCompression)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10000, cfg.ProtocolCache.MaxDomains)
}

func TestLoadHTTPConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadHTTPConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, DefaultHTTPConfig(), cfg)
}
