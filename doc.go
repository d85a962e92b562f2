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

// Package httpcore is an HTTP client core: a dispatcher that negotiates
// HTTP/3 or HTTP/2 per origin, a protocol intelligence cache that remembers
// what worked last time and tracks RFC 7838 Alt-Svc advertisements, a
// streaming response pipeline exposing status/headers/body/trailers as
// independent bounded channels, and a compression codec sitting on the body
// path. The jsonpath and jsonpath/stream packages provide a standalone
// RFC 9535 query engine usable against both materialized and streaming JSON.
package httpcore
