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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/packetd/httpcore/confengine"
	"github.com/packetd/httpcore/transport/h3"
)

func TestNewDispatcherFromConfigBuildsNonNilDispatcher(t *testing.T) {
	cfg := confengine.DefaultHTTPConfig()
	d := NewDispatcherFromConfig(cfg, nil)
	assert.NotNil(t, d)
	assert.NotNil(t, d.Events())
}

func TestCongestionFromString(t *testing.T) {
	cases := map[string]h3.CongestionControl{
		"reno":    h3.CongestionReno,
		"bbr":     h3.CongestionBBR,
		"bbrv2":   h3.CongestionBBRv2,
		"cubic":   h3.CongestionCubic,
		"unknown": h3.CongestionCubic,
		"":        h3.CongestionCubic,
	}
	for in, want := range cases {
		assert.Equal(t, want, congestionFromString(in), "input %q", in)
	}
}
