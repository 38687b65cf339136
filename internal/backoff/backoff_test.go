package backoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/alex-ant/gomath/rational"
	"github.com/stretchr/testify/require"

	"github.com/daytonaio/sdk-go/internal/backoff"
)

func TestFixed(t *testing.T) {
	b := backoff.Fixed(100 * time.Millisecond)
	for i := 0; i < 10; i++ {
		require.Equal(t, 100*time.Millisecond, b.Delay(i))
	}
}

func TestExponential(t *testing.T) {
	b := backoff.Exponential(100, 2, 1000)
	require.Equal(t, time.Duration(100), b.Delay(0))
	require.Equal(t, time.Duration(200), b.Delay(1))
	require.Equal(t, time.Duration(400), b.Delay(2))
	require.Equal(t, time.Duration(800), b.Delay(3))
	require.Equal(t, time.Duration(1000), b.Delay(4))
	require.Equal(t, time.Duration(1000), b.Delay(400))
}

func TestReconnect(t *testing.T) {
	b := backoff.Reconnect()
	require.Equal(t, time.Second, b.Delay(0))
	require.Equal(t, 16*time.Second, b.Delay(4))
	require.Equal(t, 30*time.Second, b.Delay(5))
	require.Equal(t, 30*time.Second, b.Delay(9))
}

func TestJitter(t *testing.T) {
	b := backoff.Jitter(backoff.Fixed(100), rational.New(1, 2), rational.New(3, 2))
	for i := 0; i < 1000; i++ {
		wait := b.Delay(i)
		require.GreaterOrEqual(t, wait, time.Duration(50))
		require.Less(t, wait, time.Duration(150))
	}
}

func TestSleepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, backoff.Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, backoff.Sleep(context.Background(), time.Millisecond))
}
