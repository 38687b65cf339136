package daytona

import (
	"context"
	"sync"
)

// Future 是异步调用的结果。
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc

	once  sync.Once
	value T
	err   error
}

// Async 在新的 goroutine 中执行 fn 并立即返回。取消 ctx 或调用 Cancel 都会取消 fn 收到的 ctx。
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		value, err := fn(ctx)
		f.once.Do(func() {
			f.value, f.err = value, err
			close(f.done)
		})
	}()
	return f
}

// Done 在结果就绪后关闭。
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel 取消调用，结果仍需通过 Await 获取。
func (f *Future[T]) Cancel() { f.cancel() }

// Await 等待结果。ctx 结束时返回 ctx 的错误，调用本身不会被取消。
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Gather 等待所有 Future 完成，按顺序返回结果和第一个错误。
func Gather[T any](ctx context.Context, futures ...*Future[T]) ([]T, error) {
	values := make([]T, len(futures))
	var firstErr error
	for i, f := range futures {
		v, err := f.Await(ctx)
		values[i] = v
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return values, firstErr
}
