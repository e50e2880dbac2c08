package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 10 个并发任务穿过容量 3 的闸门，同时在跑的永远不超过 3 个。
func TestConcurrencyGateCap(t *testing.T) {
	gate := NewConcurrencyGate(3)
	require.Equal(t, 3, gate.Cap())

	var inFlight atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gate.Run(context.Background(), func() error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(3))
	require.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestConcurrencyGateCancelledBeforeAcquire(t *testing.T) {
	gate := NewConcurrencyGate(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = gate.Run(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := gate.Run(ctx, func() error {
		ran = true
		return nil
	})
	require.Error(t, err)
	require.False(t, ran, "fn must not run when acquire is cancelled")

	close(release)
}

func TestConcurrencyGateMinimumCapacity(t *testing.T) {
	gate := NewConcurrencyGate(0)
	require.Equal(t, 1, gate.Cap())
}
