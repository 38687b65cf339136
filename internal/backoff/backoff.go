// Package backoff 提供重连与重试使用的退避策略。
package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/alex-ant/gomath/rational"
)

// Backoff 根据已失败的次数给出下一次等待的时长，attempt 从 0 开始。
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Func 将普通函数适配为 Backoff。
type Func func(attempt int) time.Duration

func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

type fixed time.Duration

// Fixed 每次都等待相同时长。
func Fixed(wait time.Duration) Backoff { return fixed(wait) }

func (f fixed) Delay(int) time.Duration { return time.Duration(f) }

type exponential struct {
	initial, max time.Duration
	factor       float64
}

// Exponential 从 initial 开始按 factor 倍增长，不超过 max。
func Exponential(initial time.Duration, factor float64, max time.Duration) Backoff {
	return exponential{initial: initial, factor: factor, max: max}
}

func (e exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(e.initial) * math.Pow(e.factor, float64(attempt))
	if e.max > 0 && (d > float64(e.max) || math.IsInf(d, 0)) {
		return e.max
	}
	return time.Duration(d)
}

type jittered struct {
	base      Backoff
	low, high rational.Rational
	r         *rand.Rand
	mu        sync.Mutex
}

// Jitter 在 [base*low, base*high) 区间内随机取值。
func Jitter(base Backoff, low, high rational.Rational) Backoff {
	if low.LessThanNum(0) {
		panic("low must be greater than or equal to 0")
	}
	if high.Subtract(low).LessThanNum(0) || high.GetNumerator() == 0 {
		panic("high must be greater than low")
	}
	return &jittered{
		base: base,
		low:  low,
		high: high,
		r:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (j *jittered) Delay(attempt int) time.Duration {
	b := int64(j.base.Delay(attempt))
	lo := j.low.MultiplyByNum(b)
	hi := j.high.MultiplyByNum(b)
	diff := int64(hi.Subtract(lo).Float64())
	if diff <= 0 {
		return time.Duration(lo.Float64())
	}
	j.mu.Lock()
	r := j.r.Int63n(diff)
	j.mu.Unlock()
	return time.Duration(lo.AddNum(r).Float64())
}

// Reconnect 是事件总线默认的重连策略：1s 起步，翻倍增长，最长 30s。
func Reconnect() Backoff {
	return Exponential(time.Second, 2, 30*time.Second)
}

// Sleep 等待 d，ctx 先结束时返回其错误。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
