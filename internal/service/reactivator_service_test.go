package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 持久层复活只处理耗尽时间早于冷却窗口的账号。
func TestReactivateOnlyPastCooldownWindow(t *testing.T) {
	old := freshAccount("old@x.com")
	oldMark := time.Now().Add(-90 * time.Minute)
	old.Active = false
	old.ExhaustedAt = &oldMark

	recent := freshAccount("recent@x.com")
	recentMark := time.Now().Add(-10 * time.Minute)
	recent.Active = false
	recent.ExhaustedAt = &recentMark

	repo := newFakeAccountRepo(old, recent)
	svc := NewReactivatorService(repo, newTestIdentityService(repo, "http://unused"), testGatewayConfig())

	svc.runOnce()

	require.True(t, old.Active)
	require.Nil(t, old.ExhaustedAt)
	require.False(t, recent.Active, "still inside the 60min window")
	require.NotNil(t, recent.ExhaustedAt)
}

// 复活之后账号缓存被失效，下一次读取能看到新账号。
func TestReactivateInvalidatesIdentityCache(t *testing.T) {
	exhausted := freshAccount("a@x.com")
	mark := time.Now().Add(-2 * time.Hour)
	exhausted.Active = false
	exhausted.ExhaustedAt = &mark

	repo := newFakeAccountRepo(exhausted)
	identity := newTestIdentityService(repo, "http://unused")
	svc := NewReactivatorService(repo, identity, testGatewayConfig())

	svc.runOnce()

	require.True(t, exhausted.Active)
}

func TestReactivatorStartStopIdempotent(t *testing.T) {
	repo := newFakeAccountRepo()
	svc := NewReactivatorService(repo, newTestIdentityService(repo, "http://unused"), testGatewayConfig())

	svc.Start()
	svc.Start()
	svc.Stop()
	svc.Stop()
}
