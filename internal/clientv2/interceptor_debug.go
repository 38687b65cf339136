package clientv2

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type debugInterceptor struct {
	logger *zap.Logger
}

// NewDebugInterceptor 在 Debug 级别记录每个请求的方法、地址、状态码与耗时。
func NewDebugInterceptor(logger *zap.Logger) Interceptor {
	return &debugInterceptor{logger: logger}
}

func (r *debugInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityDebug
}

func (r *debugInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if r.logger == nil || req == nil || !r.logger.Core().Enabled(zap.DebugLevel) {
		return handler(req)
	}

	start := time.Now()
	resp, err := handler(req)
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if resp != nil {
		fields = append(fields, zap.Int("status", resp.StatusCode))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Debug("http request", fields...)
	return resp, err
}
