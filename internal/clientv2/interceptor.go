package clientv2

import (
	"net/http"
	"sort"
)

// 拦截器优先级，数字越小越靠外层。
const (
	InterceptorPriorityClosed      InterceptorPriority = 100
	InterceptorPriorityRetrySimple InterceptorPriority = 300
	InterceptorPrioritySetHeader   InterceptorPriority = 400
	InterceptorPriorityNormal      InterceptorPriority = 500
	InterceptorPriorityAuth        InterceptorPriority = 600
	InterceptorPriorityDebug       InterceptorPriority = 700
)

type InterceptorPriority int

type Interceptor interface {
	// Priority 数字越小优先级越高
	Priority() InterceptorPriority

	// Intercept 拦截处理函数
	Intercept(req *http.Request, handler Handler) (*http.Response, error)
}

// InterceptorFunc 以指定优先级把函数适配为 Interceptor。
type InterceptorFunc struct {
	Level InterceptorPriority
	Fn    func(req *http.Request, handler Handler) (*http.Response, error)
}

func (f InterceptorFunc) Priority() InterceptorPriority {
	if f.Level <= 0 {
		return InterceptorPriorityNormal
	}
	return f.Level
}

func (f InterceptorFunc) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if f.Fn == nil {
		return handler(req)
	}
	return f.Fn(req, handler)
}

// chain 按优先级从低到高逐层包装 handler，返回最外层。
func chain(handler Handler, interceptors []Interceptor) Handler {
	ordered := append([]Interceptor(nil), interceptors...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	for _, interceptor := range ordered {
		next, in := handler, interceptor
		handler = func(r *http.Request) (*http.Response, error) {
			return in.Intercept(r, next)
		}
	}
	return handler
}
