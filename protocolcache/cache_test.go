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

package protocolcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreferredProtocolUnknownOriginIsH3(t *testing.T) {
	c := New()
	assert.Equal(t, VersionH3, c.PreferredProtocol("https://example.com:443"))
}

func TestTrackSuccessAndFailure(t *testing.T) {
	c := New()
	origin := "https://example.com:443"

	c.TrackFailure(origin, VersionH3)
	c.TrackFailure(origin, VersionH3)
	c.TrackFailure(origin, VersionH3)

	assert.False(t, c.ShouldRetry(origin, VersionH3), "three failures should exhaust the retry budget immediately")

	c.TrackSuccess(origin, VersionH2)
	assert.Equal(t, VersionH2, c.LastSuccessfulVersion(origin))
	assert.True(t, c.ShouldRetry(origin, VersionH2))
}

func TestShouldRetryAfterCooldown(t *testing.T) {
	c := New(WithRetryAfterFailure(10 * time.Millisecond))
	origin := "https://example.com:443"

	for i := 0; i < 5; i++ {
		c.TrackFailure(origin, VersionH3)
	}
	assert.False(t, c.ShouldRetry(origin, VersionH3))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, c.ShouldRetry(origin, VersionH3), "retry window elapsed should re-open the attempt")
}

func TestUpdateAltSvcParsesEntriesAndClear(t *testing.T) {
	c := New()
	origin := "https://example.com:443"

	c.UpdateAltSvc(origin, `h3=":443"; ma=3600, h2="alt.example.com:8443"; ma=60`)

	eps := c.GetAltSvcEndpoints(origin)
	assert.Empty(t, eps, "endpoints default to Unknown validation status and are excluded until validated")

	c.SetAltSvcValidation(origin, VersionH3, 443, ValidationValid)
	eps = c.GetAltSvcEndpoints(origin)
	assert.Len(t, eps, 1)
	assert.Equal(t, VersionH3, eps[0].Protocol)

	c.UpdateAltSvc(origin, `"clear"`)
	assert.Empty(t, c.GetAltSvcEndpoints(origin))
}

func TestValidateFormatRejectsUnknownProtocolAndZeroPort(t *testing.T) {
	assert.True(t, ValidateFormat(VersionH3, 443))
	assert.False(t, ValidateFormat(VersionH3, 0))
	assert.False(t, ValidateFormat(Version("spdy"), 443))
}

func TestUpdateAltSvcDropsEntriesFailingFormatValidation(t *testing.T) {
	c := New()
	origin := "https://example.com:443"

	c.UpdateAltSvc(origin, `h3=":0"; ma=3600, spdy="alt.example.com:8443"; ma=60`)

	c.SetAltSvcValidation(origin, VersionH3, 0, ValidationValid)
	assert.Empty(t, c.GetAltSvcEndpoints(origin), "port 0 and unknown protocol tokens must never be registered")
}

func TestEvictionTargetsNinetyPercent(t *testing.T) {
	c := New(WithMaxDomains(10))

	for i := 0; i < 15; i++ {
		c.TrackSuccess(originName(i), VersionH3)
	}

	c.mu.RLock()
	size := len(c.domains)
	c.mu.RUnlock()

	// each insert past the cap of 10 evicts down to 90% (9); the 15th insert
	// is such an insert
	assert.Equal(t, 9, size)
}

func originName(i int) string {
	return "https://host" + string(rune('a'+i)) + ".example.com:443"
}
