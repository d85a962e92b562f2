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
	"fmt"

	"github.com/pkg/errors"
)

// Kind 对错误进行分类 用于调用方判断重试或降级策略
type Kind string

const (
	KindConnectionFailed    Kind = "connection_failed"
	KindDNS                 Kind = "dns_error"
	KindSecurity            Kind = "security_error"
	KindProtocol            Kind = "protocol_error"
	KindTimeout             Kind = "timeout"
	KindStream              Kind = "stream_error"
	KindResourceLimit       Kind = "resource_limit_exceeded"
	KindSerializationFailed Kind = "serialization_failed"
	KindInvalidRequest      Kind = "invalid_request"
	KindInvalidExpression   Kind = "invalid_expression"
	KindIO                  Kind = "io_error"
)

// Error 是 httpcore 对外暴露的统一错误类型
//
// Kind 用于程序化判断 Op 标注失败发生的阶段(如 "dial"、"alt-svc-parse")
// Cause 保留底层错误 便于 errors.Is/errors.As 穿透
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("httpcore: %s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("httpcore: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 支持 errors.Is(err, &httpcore.Error{Kind: httpcore.KindTimeout}) 之类按 Kind 的判断
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// newErr 构造一个带 Op 的 Error 并使用 pkg/errors 包裹 cause 以保留调用栈
func newErr(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

func ErrConnectionFailed(op string, cause error) error { return newErr(KindConnectionFailed, op, cause) }
func ErrDNS(op string, cause error) error              { return newErr(KindDNS, op, cause) }
func ErrSecurity(op string, cause error) error         { return newErr(KindSecurity, op, cause) }
func ErrProtocol(op string, cause error) error         { return newErr(KindProtocol, op, cause) }
func ErrTimeout(op string, cause error) error          { return newErr(KindTimeout, op, cause) }
func ErrStream(op string, cause error) error           { return newErr(KindStream, op, cause) }
func ErrResourceLimit(op string, cause error) error    { return newErr(KindResourceLimit, op, cause) }
func ErrSerialization(op string, cause error) error    { return newErr(KindSerializationFailed, op, cause) }
func ErrInvalidRequest(op string, cause error) error   { return newErr(KindInvalidRequest, op, cause) }
func ErrInvalidExpression(op string, cause error) error {
	return newErr(KindInvalidExpression, op, cause)
}
func ErrIO(op string, cause error) error { return newErr(KindIO, op, cause) }

// KindOf 提取错误分类 如果 err 不是 *Error 则返回空字符串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
