package clientv2

import (
	"net/http"
)

type AuthConfig struct {
	// APIKey 与 JWTToken 二选一，APIKey 优先
	APIKey   string
	JWTToken string
	// OrganizationID 使用 JWT 时必须提供
	OrganizationID string
}

type authInterceptor struct {
	config AuthConfig
}

func NewAuthInterceptor(config AuthConfig) Interceptor {
	return &authInterceptor{config: config}
}

func (interceptor *authInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityAuth
}

func (interceptor *authInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if interceptor == nil || req == nil {
		return handler(req)
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	interceptor.config.Apply(req.Header)
	return handler(req)
}

// Apply 将鉴权头写入 h，WebSocket 握手等不经过拦截器链的请求也使用它。
func (config AuthConfig) Apply(h http.Header) {
	switch {
	case config.APIKey != "":
		h.Set("Authorization", "Bearer "+config.APIKey)
	case config.JWTToken != "":
		h.Set("Authorization", "Bearer "+config.JWTToken)
		if config.OrganizationID != "" {
			h.Set("X-Daytona-Organization-Id", config.OrganizationID)
		}
	}
}
