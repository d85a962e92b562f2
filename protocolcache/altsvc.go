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
	"strconv"
	"strings"
	"time"
)

const defaultMaxAgeSeconds = 86400

// UpdateAltSvc 解析一个 RFC 7838 Alt-Svc 头的值并更新 origin 对应的端点注册表
//
// 字面值 "clear" 会清空该 origin 的端点注册表
// 其他情况下值是逗号分隔的条目列表 每个条目形如 proto="[host]:port"; ma=N; ...
func (c *Cache) UpdateAltSvc(origin, headerValue string) {
	now := time.Now()
	dc := c.getOrCreate(origin, now)

	trimmed := strings.TrimSpace(headerValue)
	if trimmed == `"clear"` || trimmed == "clear" {
		dc.mu.Lock()
		dc.altSvc = make(map[string]AltSvcEndpoint)
		dc.mu.Unlock()
		dc.touch(now)
		return
	}

	entries := splitTopLevelComma(trimmed)
	discovered := 0

	dc.mu.Lock()
	for _, entry := range entries {
		ep, ok := parseAltSvcEntry(entry, now)
		if !ok || !ValidateFormat(ep.Protocol, ep.Port) {
			continue
		}
		dc.altSvc[altSvcKey(ep.Protocol, ep.Port)] = ep
		discovered++
	}
	dc.mu.Unlock()
	dc.touch(now)

	if discovered > 0 {
		c.discoveries.Add(uint64(discovered))
	}
}

// splitTopLevelComma 按逗号切分条目 引号内的逗号同样会被当作分隔符(目前格式不需要区分)
func splitTopLevelComma(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAltSvcEntry 解析单个条目 proto="[host]:port"; ma=N; ...
func parseAltSvcEntry(entry string, now time.Time) (AltSvcEndpoint, bool) {
	segs := strings.Split(entry, ";")
	if len(segs) == 0 {
		return AltSvcEndpoint{}, false
	}

	kv := strings.SplitN(strings.TrimSpace(segs[0]), "=", 2)
	if len(kv) != 2 {
		return AltSvcEndpoint{}, false
	}

	proto := Version(strings.TrimSpace(kv[0]))
	endpoint := strings.Trim(strings.TrimSpace(kv[1]), `"`)

	host, port, ok := parseProtocolEndpoint(endpoint)
	if !ok {
		return AltSvcEndpoint{}, false
	}

	ep := AltSvcEndpoint{
		Protocol:     proto,
		AltHost:      host,
		Port:         port,
		MaxAge:       defaultMaxAgeSeconds * time.Second,
		DiscoveredAt: now,
		Status:       ValidationUnknown,
	}

	for _, param := range segs[1:] {
		param = strings.TrimSpace(param)
		parts := strings.SplitN(param, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.Trim(strings.TrimSpace(parts[1]), `"`)

		switch name {
		case "ma":
			if secs, err := strconv.ParseUint(value, 10, 64); err == nil {
				ep.MaxAge = time.Duration(secs) * time.Second
			}
		default:
			// 未知参数按规范忽略
		}
	}

	return ep, true
}

// ValidateFormat 在端点被采纳前做格式校验: 拒绝未知协议 token 与 port 0
//
// 这是解析之外的一道独立的校验门 解析只关心语法是否可切分 这里关心切分出的值
// 是否是一个值得尝试的候选端点
func ValidateFormat(proto Version, port uint16) bool {
	switch proto {
	case VersionH3, VersionH2, VersionH1:
	default:
		return false
	}
	return port != 0
}

// parseProtocolEndpoint 解析 "[host]:port" 或 ":port" 形式
//
// ":port" 表示与原 host 相同 此时返回空字符串作为 host
func parseProtocolEndpoint(s string) (host string, port uint16, ok bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, false
	}

	hostPart := s[:idx]
	portPart := s[idx+1:]

	p, err := strconv.ParseUint(portPart, 10, 16)
	if err != nil {
		return "", 0, false
	}

	return hostPart, uint16(p), true
}
