package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGet(t *testing.T) {
	c := New[string]()
	v, result, err := c.Get("us", func() (string, error) { return "https://proxy.us", nil })
	require.NoError(t, err)
	require.Equal(t, GetResultFromFallback, result)
	require.Equal(t, "https://proxy.us", v)

	v, result, err = c.Get("us", func() (string, error) {
		t.Fatal("should not call this fallback")
		return "", nil
	})
	require.NoError(t, err)
	require.Equal(t, GetResultFromCache, result)
	require.Equal(t, "https://proxy.us", v)
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	c := New[int]()
	boom := errors.New("boom")
	_, result, err := c.Get("k", func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	require.Equal(t, NoResultGot, result)

	v, _, err := c.Get("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestCacheSingleFlight(t *testing.T) {
	c := New[int]()
	var calls int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, _, err := c.Get("k", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(50 * time.Millisecond)
				return 42, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	close(start)
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCacheDeleteAndClear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	_, ok := c.Peek("a")
	require.False(t, ok)
	v, ok := c.Peek("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
	c.Clear()
	_, ok = c.Peek("b")
	require.False(t, ok)
}

func TestCacheGetContextCanceledWaiter(t *testing.T) {
	c := New[string]()
	release := make(chan struct{})
	loading := make(chan struct{})
	done := make(chan string, 1)
	go func() {
		v, _, err := c.Get("k", func() (string, error) {
			close(loading)
			<-release
			return "v", nil
		})
		assert.NoError(t, err)
		done <- v
	}()
	<-loading

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, result, err := c.GetContext(ctx, "k", func() (string, error) { return "other", nil })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, NoResultGot, result)

	close(release)
	require.Equal(t, "v", <-done)
	v, ok := c.Peek("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}
