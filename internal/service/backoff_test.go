package service

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffComputeNoJitter(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, 60*time.Second, 0)

	require.Equal(t, 2*time.Second, p.Compute(0))
	require.Equal(t, 4*time.Second, p.Compute(1))
	require.Equal(t, 8*time.Second, p.Compute(2))
	require.Equal(t, 16*time.Second, p.Compute(3))
	require.Equal(t, 32*time.Second, p.Compute(4))
	require.Equal(t, 60*time.Second, p.Compute(5), "capped at max")
	require.Equal(t, 60*time.Second, p.Compute(50))
}

func TestBackoffJitterBounds(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, 60*time.Second, 0.2)

	for i := 0; i < 100; i++ {
		d := p.Compute(1) // 基数 4s
		require.GreaterOrEqual(t, d, time.Duration(float64(4*time.Second)*0.8))
		require.LessOrEqual(t, d, time.Duration(float64(4*time.Second)*1.2))
	}
}

func TestBackoffRetryAfterSeconds(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, 60*time.Second, 0)

	h := http.Header{}
	h.Set("Retry-After", "10")
	require.Equal(t, 10*time.Second, p.ComputeWithRetryAfter(0, h))

	// 提示低于下限时抬到 Base
	h.Set("Retry-After", "1")
	require.Equal(t, 2*time.Second, p.ComputeWithRetryAfter(0, h))

	// 提示高于上限时封顶
	h.Set("Retry-After", "600")
	require.Equal(t, 60*time.Second, p.ComputeWithRetryAfter(0, h))
}

func TestBackoffRetryAfterHTTPDate(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, 60*time.Second, 0)

	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(30*time.Second).UTC().Format(http.TimeFormat))
	d := p.ComputeWithRetryAfter(0, h)
	require.Greater(t, d, 25*time.Second)
	require.LessOrEqual(t, d, 31*time.Second)
}

func TestBackoffRetryAfterInvalidFallsBack(t *testing.T) {
	p := NewBackoffPolicy(2*time.Second, 60*time.Second, 0)

	h := http.Header{}
	require.Equal(t, 2*time.Second, p.ComputeWithRetryAfter(0, h), "missing header")

	h.Set("Retry-After", "soonish")
	require.Equal(t, 4*time.Second, p.ComputeWithRetryAfter(1, h), "unparseable header")

	h.Set("Retry-After", "-5")
	require.Equal(t, 2*time.Second, p.ComputeWithRetryAfter(0, h), "negative seconds")
}
