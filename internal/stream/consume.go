// Package stream 实现构建日志、命令日志、解释器与 PTY 共用的流式读取原语。
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	internal_io "github.com/daytonaio/sdk-go/internal/io"
)

// DefaultChunkTimeout 是等待下一块数据的默认时长，超时后检查是否应当结束。
const DefaultChunkTimeout = 2 * time.Second

// Options 配置 Consume 的行为。
type Options struct {
	// ChunkTimeout 为 0 时使用 DefaultChunkTimeout
	ChunkTimeout time.Duration
	// SingleTermination 为 true 时，ShouldTerminate 第一次返回 true 即结束；
	// 默认需要连续两次空闲检查都返回 true。
	SingleTermination bool
	// ReadBufferSize 为 0 时使用 32 KiB
	ReadBufferSize int
}

func (o *Options) chunkTimeout() time.Duration {
	if o == nil || o.ChunkTimeout <= 0 {
		return DefaultChunkTimeout
	}
	return o.ChunkTimeout
}

func (o *Options) requiredStreak() int {
	if o != nil && o.SingleTermination {
		return 1
	}
	return 2
}

func (o *Options) bufferSize() int {
	if o == nil || o.ReadBufferSize <= 0 {
		return 32 << 10
	}
	return o.ReadBufferSize
}

// ShouldTerminate 在等待数据超时时被调用，返回 true 表示流可以结束。
type ShouldTerminate func(ctx context.Context) (bool, error)

// Consume 读取 body 直到 EOF、ShouldTerminate 满足结束条件或 ctx 结束。
// 每块数据以宽松的 UTF-8 解码后交给 onChunk，跨块截断的多字节字符会被拼接完整。
// 对端未发送完整响应体就关闭连接视为正常结束。
// 无论以何种方式返回，body 都会被关闭，读取 goroutine 与计时器都会被回收。
func Consume(ctx context.Context, body io.ReadCloser, onChunk func(string), shouldTerminate ShouldTerminate, opts *Options) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, opts.bufferSize())
		for {
			n, err := body.Read(buf)
			if n > 0 {
				data := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- data:
				case <-done:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	timeout := opts.chunkTimeout()
	timer := time.NewTimer(timeout)
	defer func() {
		timer.Stop()
		close(done)
		body.Close()
		wg.Wait()
	}()

	var carry []byte
	emit := func(data []byte, final bool) {
		data = append(carry, data...)
		carry = nil
		if !final {
			data, carry = splitIncompleteUTF8(data)
		}
		if len(data) > 0 && onChunk != nil {
			onChunk(internal_io.ToValidUTF8(data))
		}
	}

	streak := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data := <-chunks:
			emit(data, false)
			streak = 0
			resetTimer(timer, timeout)

		case err := <-readErr:
			emit(nil, true)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err

		case <-timer.C:
			if shouldTerminate != nil {
				terminate, err := shouldTerminate(ctx)
				if err != nil {
					return err
				}
				if terminate {
					streak++
					if streak >= opts.requiredStreak() {
						emit(nil, true)
						return nil
					}
				} else {
					streak = 0
				}
			}
			timer.Reset(timeout)
		}
	}
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// splitIncompleteUTF8 把末尾不完整的多字节字符拆出来，留到下一块再解码。
func splitIncompleteUTF8(b []byte) ([]byte, []byte) {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return b, nil
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return b, nil
			}
			return b[:len(b)-i], append([]byte(nil), b[len(b)-i:]...)
		}
	}
	return b, nil
}
