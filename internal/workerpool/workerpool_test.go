package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsOnWorkerAndReturnsResult(t *testing.T) {
	p := New(2)
	defer p.Close()

	val, err := Submit(context.Background(), p, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, val)
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(2)
	defer p.Close()

	var inFlight int32
	var maxSeen int32
	n := 8
	done := make(chan struct{}, n)

	for i := 0; i < n; i++ {
		go func() {
			_, _ = Submit(context.Background(), p, func() (struct{}, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					max := atomic.LoadInt32(&maxSeen)
					if cur <= max || atomic.CompareAndSwapInt32(&maxSeen, max, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return struct{}{}, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	p := New(1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Submit(ctx, p, func() (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
