package daytona

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/daytonaio/sdk-go/internal/clientv2"
	"github.com/daytonaio/sdk-go/internal/eventbus"
)

// ErrorKind 是错误的分类。
type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindNotFound
	KindRateLimit
	KindTimeout
	KindAuth
	KindValidation
	KindConflict
	KindTransport
	KindServer
	KindClosed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	case KindClosed:
		return "closed"
	default:
		return "generic"
	}
}

// closedHint 附加在 KindClosed 错误上。
const closedHint = "the sandbox was used after its parent Daytona client was closed"

// Error 是 SDK 对外返回的错误。
type Error struct {
	Kind ErrorKind
	// Op 描述失败的操作，如 "Failed to resize sandbox"
	Op      string
	Message string

	// 以下字段仅在服务端返回非 2xx 响应时设置
	StatusCode int
	Header     http.Header
	// RetryAfter 来自 429 响应的 Retry-After 头
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "":
		return e.Message
	case e.Message == "":
		return e.Op
	default:
		return e.Op + ": " + e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, &Error{Kind: k}) 按分类匹配。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Kind == e.Kind
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return -1
}

func IsNotFound(err error) bool   { return kindOf(err) == KindNotFound }
func IsRateLimit(err error) bool  { return kindOf(err) == KindRateLimit }
func IsTimeout(err error) bool    { return kindOf(err) == KindTimeout }
func IsAuth(err error) bool       { return kindOf(err) == KindAuth }
func IsValidation(err error) bool { return kindOf(err) == KindValidation }
func IsConflict(err error) bool   { return kindOf(err) == KindConflict }
func IsTransport(err error) bool  { return kindOf(err) == KindTransport }
func IsServer(err error) bool     { return kindOf(err) == KindServer }
func IsClosed(err error) bool     { return kindOf(err) == KindClosed }

func newError(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func validationError(op, format string, args ...interface{}) *Error {
	return newError(KindValidation, op, format, args...)
}

// wrapError 把底层错误归类并加上操作前缀。已经是 *Error 的错误只补充缺失的前缀。
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		c := *e
		c.Op = op
		return &c
	}

	out := &Error{Kind: KindGeneric, Op: op, Message: err.Error(), Err: err}
	var respErr *clientv2.ResponseError
	switch {
	case errors.As(err, &respErr):
		out.Kind = kindForStatus(respErr.StatusCode)
		out.Message = respErr.Message
		out.StatusCode = respErr.StatusCode
		out.Header = respErr.Header
		if out.Kind == KindRateLimit {
			out.RetryAfter = parseRetryAfter(respErr.Header.Get("Retry-After"))
		}
	case errors.Is(err, clientv2.ErrClientClosed), errors.Is(err, eventbus.ErrClosed):
		out.Kind = KindClosed
		out.Message = closedHint
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
		out.Message = "operation timed out"
	case errors.Is(err, context.Canceled):
		out.Message = "operation canceled"
	case clientv2.IsNetworkError(err):
		out.Kind = KindTransport
	}
	return out
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	}
	return KindGeneric
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
