package clientv2

import (
	"errors"
	"net/http"
	"sync/atomic"
)

// ErrClientClosed 表示请求在客户端关闭之后发起。
var ErrClientClosed = errors.New("client is closed")

// ClosedGuard 在 Close 之后拒绝所有请求。
type ClosedGuard struct {
	closed atomic.Bool
}

func (g *ClosedGuard) Close() {
	g.closed.Store(true)
}

func (g *ClosedGuard) IsClosed() bool {
	return g.closed.Load()
}

func (g *ClosedGuard) Priority() InterceptorPriority {
	return InterceptorPriorityClosed
}

func (g *ClosedGuard) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if g.closed.Load() {
		return nil, ErrClientClosed
	}
	return handler(req)
}
