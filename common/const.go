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

package common

const (
	// App 应用程序名称
	App = "httpcore"

	// Version 应用程序版本
	Version = "v0.0.1"

	// DefaultBodyChunkSize 响应 body_stream 单个 BodyChunk 的目标大小
	//
	// 对端一次性返回的数据可能远大于这个值 这里只是流水线内部缓冲区切片的参考大小
	DefaultBodyChunkSize = 4096
)
