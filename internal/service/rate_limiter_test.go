package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	now := time.Now()
	l := NewRateLimiter(60, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		budget := l.Consume("a@x.com")
		require.True(t, budget.Allowed, "request #%d", i+1)
		require.Equal(t, 59-i, budget.Remaining)
	}

	budget := l.Consume("a@x.com")
	require.False(t, budget.Allowed)
	require.Equal(t, time.Minute, budget.RetryAfter)

	// 窗口过期后重置
	now = now.Add(time.Minute)
	budget = l.Consume("a@x.com")
	require.True(t, budget.Allowed)
	require.Equal(t, 59, budget.Remaining)
}

func TestRateLimiterPerAccountIsolation(t *testing.T) {
	now := time.Now()
	l := NewRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	require.True(t, l.Consume("a@x.com").Allowed)
	require.False(t, l.Consume("a@x.com").Allowed)
	require.True(t, l.Consume("b@x.com").Allowed, "other account unaffected")
}

func TestRateLimiterReset(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	require.True(t, l.Consume("a@x.com").Allowed)
	require.False(t, l.Consume("a@x.com").Allowed)

	l.Reset("a@x.com")
	require.True(t, l.Consume("a@x.com").Allowed)

	l.ResetAll()
	require.True(t, l.Consume("a@x.com").Allowed)
}
