package clientv2

import (
	"net/http"
)

// HeaderConfig 是每个请求都会携带的标识头。
type HeaderConfig struct {
	Source     string
	SDKVersion string
	UserAgent  string
}

type defaultHeaderInterceptor struct {
	config HeaderConfig
}

func NewDefaultHeaderInterceptor(config HeaderConfig) Interceptor {
	return &defaultHeaderInterceptor{config: config}
}

func (interceptor *defaultHeaderInterceptor) Priority() InterceptorPriority {
	return InterceptorPrioritySetHeader
}

func (interceptor *defaultHeaderInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if interceptor == nil || req == nil {
		return handler(req)
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	interceptor.config.Apply(req.Header)
	return handler(req)
}

// Apply 写入 h 中尚未设置的标识头。
func (config HeaderConfig) Apply(h http.Header) {
	setIfAbsent(h, "X-Daytona-Source", config.Source)
	setIfAbsent(h, "X-Daytona-SDK-Version", config.SDKVersion)
	setIfAbsent(h, "User-Agent", config.UserAgent)
}

func setIfAbsent(h http.Header, key, value string) {
	if value != "" && h.Get(key) == "" {
		h.Set(key, value)
	}
}
