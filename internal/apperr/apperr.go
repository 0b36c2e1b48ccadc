// Package apperr 定义服务的错误分类
//
// 所有对外暴露的错误都携带 Kind，调用方据此决定是否重试以及 HTTP 状态码。
package apperr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindTransport
	KindContractRejection
	KindModelFailure
	KindEngineFailure
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindContractRejection:
		return "contract_rejection"
	case KindModelFailure:
		return "model_failure"
	case KindEngineFailure:
		return "engine_failure"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error 分类错误
// Reason 仅在合约回滚时填充，为链上返回的原因
type Error struct {
	Kind    Kind
	Message string
	Reason  string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Cause() error { return e.cause }

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, cause error, format string, args ...any) error {
	return errors.WithStack(&Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   cause,
	})
}

func Validation(format string, args ...any) error {
	return newError(KindValidation, nil, format, args...)
}

func NotFound(format string, args ...any) error {
	return newError(KindNotFound, nil, format, args...)
}

func Conflict(format string, args ...any) error {
	return newError(KindConflict, nil, format, args...)
}

func Transport(cause error, format string, args ...any) error {
	return newError(KindTransport, cause, format, args...)
}

func ModelFailure(cause error, format string, args ...any) error {
	return newError(KindModelFailure, cause, format, args...)
}

func EngineFailure(cause error, format string, args ...any) error {
	return newError(KindEngineFailure, cause, format, args...)
}

// ContractRejection 合约回滚，reason 原样透传给调用方
func ContractRejection(reason string, format string, args ...any) error {
	return errors.WithStack(&Error{
		Kind:    KindContractRejection,
		Message: fmt.Sprintf(format, args...),
		Reason:  reason,
	})
}

// As 取出错误链上的 *Error
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable 仅传输层错误可重试
func IsRetryable(err error) bool {
	return Is(err, KindTransport)
}

// Reason 合约回滚原因，非回滚错误返回空串
func Reason(err error) string {
	if e, ok := As(err); ok {
		return e.Reason
	}
	return ""
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindContractRejection:
		return http.StatusUnprocessableEntity
	case KindTransport:
		return http.StatusBadGateway
	case KindModelFailure, KindEngineFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message 面向用户的错误信息（不含底层堆栈与内部原因）
func Message(err error) string {
	if e, ok := As(err); ok {
		if e.Reason != "" {
			return e.Message + ": " + e.Reason
		}
		return e.Message
	}
	return "internal error"
}
