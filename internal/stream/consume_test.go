package stream

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type chunkedBody struct {
	chunks chan []byte
	err    error
	closed atomic.Bool
}

func newChunkedBody(err error) *chunkedBody {
	return &chunkedBody{chunks: make(chan []byte, 16), err: err}
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	chunk, ok := <-b.chunks
	if !ok {
		return 0, b.err
	}
	return copy(p, chunk), nil
}

func (b *chunkedBody) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		defer func() { recover() }()
		close(b.chunks)
	}
	return nil
}

func TestConsumeUntilEOF(t *testing.T) {
	var got []string
	err := Consume(context.Background(), io.NopCloser(strings.NewReader("line 1\nline 2\n")), func(s string) {
		got = append(got, s)
	}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "line 1\nline 2\n", strings.Join(got, ""))
}

func TestConsumeUnexpectedEOFIsNormal(t *testing.T) {
	body := newChunkedBody(io.ErrUnexpectedEOF)
	body.chunks <- []byte("partial")
	close(body.chunks)
	body.closed.Store(true)

	var got strings.Builder
	err := Consume(context.Background(), body, func(s string) { got.WriteString(s) }, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "partial", got.String())
}

func TestConsumeReturnsReadErrors(t *testing.T) {
	boom := errors.New("connection reset")
	body := newChunkedBody(boom)
	close(body.chunks)
	body.closed.Store(true)
	err := Consume(context.Background(), body, nil, nil, nil)
	require.ErrorIs(t, err, boom)
}

func TestConsumeRequiresConsecutiveTermination(t *testing.T) {
	body := newChunkedBody(io.EOF)
	var checks int32
	start := time.Now()
	err := Consume(context.Background(), body, nil, func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&checks, 1)
		return true, nil
	}, &Options{ChunkTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&checks))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.True(t, body.closed.Load())
}

func TestConsumeStreakResetByData(t *testing.T) {
	body := newChunkedBody(io.EOF)
	var checks int32
	var got strings.Builder
	err := Consume(context.Background(), body, func(s string) { got.WriteString(s) }, func(ctx context.Context) (bool, error) {
		if atomic.AddInt32(&checks, 1) == 1 {
			body.chunks <- []byte("late")
		}
		return true, nil
	}, &Options{ChunkTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, "late", got.String())
	require.Equal(t, int32(3), atomic.LoadInt32(&checks))
}

func TestConsumeSingleTermination(t *testing.T) {
	body := newChunkedBody(io.EOF)
	var checks int32
	err := Consume(context.Background(), body, nil, func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&checks, 1)
		return true, nil
	}, &Options{ChunkTimeout: 10 * time.Millisecond, SingleTermination: true})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&checks))
}

func TestConsumeContextCanceled(t *testing.T) {
	body := newChunkedBody(io.EOF)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := Consume(ctx, body, nil, nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, body.closed.Load())
}

func TestConsumeReleasesGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		body := newChunkedBody(io.EOF)
		body.chunks <- []byte("x")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		Consume(ctx, body, nil, nil, nil)
		cancel()
	}
	// 在测试 goroutine 中轮询计数
	after := runtime.NumGoroutine()
	for deadline := time.Now().Add(time.Second); after > before && time.Now().Before(deadline); {
		time.Sleep(10 * time.Millisecond)
		after = runtime.NumGoroutine()
	}
	require.LessOrEqual(t, after, before)
}

func TestConsumeJoinsSplitUTF8(t *testing.T) {
	body := newChunkedBody(io.EOF)
	euro := []byte("€")
	body.chunks <- append([]byte("a"), euro[:1]...)
	body.chunks <- append(append([]byte(nil), euro[1:]...), 'b')
	close(body.chunks)
	body.closed.Store(true)

	var got strings.Builder
	require.NoError(t, Consume(context.Background(), body, func(s string) { got.WriteString(s) }, nil, nil))
	require.Equal(t, "a€b", got.String())
}

func TestConsumeLossyUTF8(t *testing.T) {
	var got strings.Builder
	err := Consume(context.Background(), io.NopCloser(strings.NewReader("ok\xffok")), func(s string) { got.WriteString(s) }, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "ok�ok", got.String())
}
