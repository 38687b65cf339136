package daytona

import (
	"context"
	"time"

	"github.com/daytonaio/sdk-go/internal/backoff"
)

// pollLoop 反复调用 pollFn，直到其返回 done、出错或 ctx 结束。
// 两次调用之间的间隔由 b 决定，attempt 从 0 开始。
func pollLoop[T any](ctx context.Context, b backoff.Backoff, pollFn func(ctx context.Context) (bool, T, error)) (T, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 0; ; attempt++ {
		done, result, err := pollFn(ctx)
		if err != nil {
			return result, err
		}
		if done {
			return result, nil
		}

		interval := b.Delay(attempt)
		if timer == nil {
			timer = time.NewTimer(interval)
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}
