package clientv2

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/alex-ant/gomath/rational"

	"github.com/daytonaio/sdk-go/internal/backoff"
	internal_io "github.com/daytonaio/sdk-go/internal/io"
)

type RetryOptions struct {
	RetryMax    int
	Backoff     backoff.Backoff
	ShouldRetry func(req *http.Request, resp *http.Response, err error) bool
}

func DefaultRetryOptions() RetryOptions {
	o := RetryOptions{RetryMax: 2}
	o.Init()
	return o
}

func (o *RetryOptions) Init() {
	if o == nil {
		return
	}
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.Backoff == nil {
		o.Backoff = backoff.Jitter(
			backoff.Exponential(200*time.Millisecond, 2, 2*time.Second),
			rational.New(1, 2), rational.New(3, 2),
		)
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = isSimpleRetryable
	}
}

type simpleRetryInterceptor struct {
	options RetryOptions
}

// NewSimpleRetryInterceptor 只重试幂等且不带请求体的请求。
func NewSimpleRetryInterceptor(options RetryOptions) Interceptor {
	options.Init()
	return &simpleRetryInterceptor{options: options}
}

func (r *simpleRetryInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityRetrySimple
}

func (r *simpleRetryInterceptor) Intercept(req *http.Request, handler Handler) (resp *http.Response, err error) {
	if r.options.RetryMax == 0 {
		return handler(req)
	}

	for i := 0; ; i++ {
		// Clone 防止后面 Handler 处理对 req 有污染
		reqBefore := req.Clone(req.Context())
		resp, err = handler(req)

		if i >= r.options.RetryMax || !r.options.ShouldRetry(reqBefore, resp, err) {
			return resp, err
		}
		req = reqBefore

		if resp != nil && resp.Body != nil {
			internal_io.SinkAll(resp.Body)
			resp.Body.Close()
		}
		if e := backoff.Sleep(req.Context(), r.options.Backoff.Delay(i)); e != nil {
			return nil, e
		}
	}
}

func isSimpleRetryable(req *http.Request, resp *http.Response, err error) bool {
	return isRequestSimpleRetryable(req) && isResponseSimpleRetryable(resp) && isErrorSimpleRetryable(err)
}

func isRequestSimpleRetryable(req *http.Request) bool {
	if req == nil {
		return false
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody
}

func isResponseSimpleRetryable(resp *http.Response) bool {
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isErrorSimpleRetryable(err error) bool {
	return err == nil || IsNetworkError(err)
}

// IsNetworkError 判断 err 是否为连接层面的错误（DNS、拒绝连接、超时、连接重置）。
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return isNetworkErrorWithOpError(opErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isNetworkErrorWithOpError(err *net.OpError) bool {
	var dnsErr *net.DNSError
	if errors.As(err.Err, &dnsErr) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err.Err, &sysErr) {
		if errno, ok := sysErr.Err.(syscall.Errno); ok {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ETIMEDOUT, syscall.ECONNRESET:
				return true
			}
		}
	}
	return err.Timeout()
}
