package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 总调用数由成功与失败计数推导。
func TestAccountTotalCalls(t *testing.T) {
	a := &Account{SuccessfulCalls: 5, FailedCalls: 2}
	require.Equal(t, int64(7), a.TotalCalls())
	require.Zero(t, (&Account{}).TotalCalls())
}

func TestAccountTokenFresh(t *testing.T) {
	now := time.Now()
	margin := 5 * time.Minute

	a := &Account{AccessToken: "ya29.x", ExpiresAt: now.Add(time.Hour)}
	require.True(t, a.TokenFresh(margin, now))

	// 边际之内视为过期
	a.ExpiresAt = now.Add(time.Minute)
	require.False(t, a.TokenFresh(margin, now))

	require.False(t, (&Account{ExpiresAt: now.Add(time.Hour)}).TokenFresh(margin, now), "empty token is never fresh")
	require.False(t, (*Account)(nil).TokenFresh(margin, now))
}
