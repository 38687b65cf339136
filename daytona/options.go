package daytona

import (
	"context"
	"time"
)

// Option 配置单次调用。各方法只读取与自己相关的选项，其余选项被忽略。
type Option func(*callOpts)

type callOpts struct {
	timeout    time.Duration
	onLogs     func(chunk string)
	cwd        string
	env        map[string]string
	argv       []string
	pollPeriod time.Duration
}

// WithTimeout 设置调用超时，0 表示不限时，负数会导致 KindValidation 错误。
func WithTimeout(timeout time.Duration) Option {
	return func(o *callOpts) { o.timeout = timeout }
}

// WithOnLogs 设置构建日志回调，用于 Client.Create 与 SnapshotService.Create。
func WithOnLogs(fn func(chunk string)) Option {
	return func(o *callOpts) { o.onLogs = fn }
}

// WithCwd 设置命令的工作目录。
func WithCwd(cwd string) Option {
	return func(o *callOpts) { o.cwd = cwd }
}

// WithEnv 设置命令的环境变量。
func WithEnv(env map[string]string) Option {
	return func(o *callOpts) { o.env = env }
}

// WithArgv 设置 CodeRun 时传给程序的命令行参数。
func WithArgv(argv ...string) Option {
	return func(o *callOpts) { o.argv = argv }
}

// withPollInterval 覆盖状态等待的轮询间隔，仅供测试使用。
func withPollInterval(d time.Duration) Option {
	return func(o *callOpts) { o.pollPeriod = d }
}

func applyOpts(opts []Option) *callOpts {
	o := &callOpts{}
	for _, fn := range opts {
		if fn != nil {
			fn(o)
		}
	}
	return o
}

// begin 解析选项并按超时派生 ctx。
func begin(ctx context.Context, op string, opts []Option) (context.Context, context.CancelFunc, *callOpts, error) {
	o := applyOpts(opts)
	if o.timeout < 0 {
		return ctx, func() {}, o, validationError(op, "timeout must be non-negative, got %v", o.timeout)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout == 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, o, nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	return ctx, cancel, o, nil
}
