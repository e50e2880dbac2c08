package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistry(now *time.Time) *CooldownRegistry {
	r := NewCooldownRegistry(2*time.Minute, 30*time.Second)
	r.now = func() time.Time { return *now }
	return r
}

// rate_limit 连续失败按 15/30/60/120 升级并封顶在 120s。
func TestCooldownEscalation(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	wantSeconds := []int{15, 30, 60, 120, 120}
	for i, want := range wantSeconds {
		r.MarkCooldown("a@x.com", CategoryRateLimit)
		state := r.Snapshot()["a@x.com"]
		require.Equal(t, i+1, state.FailureCount)
		require.Equal(t, time.Duration(want)*time.Second, state.CooldownUntil.Sub(now),
			"failure #%d", i+1)
	}
}

func TestCooldownQuotaIsConstant(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	for i := 0; i < 3; i++ {
		r.MarkCooldown("a@x.com", CategoryQuota)
		state := r.Snapshot()["a@x.com"]
		require.Equal(t, 60*time.Minute, state.CooldownUntil.Sub(now))
	}
}

func TestCooldownAuthNeverAutoRecovers(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	r.MarkCooldown("a@x.com", CategoryAuth)
	require.True(t, r.InCooldown("a@x.com"))

	// 一年以后仍在冷却
	now = now.Add(365 * 24 * time.Hour)
	require.True(t, r.InCooldown("a@x.com"))
	require.False(t, r.ShouldProbe("a@x.com"))
}

func TestCooldownExpiresOnRead(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	r.MarkCooldown("a@x.com", CategoryTimeout) // 5s
	require.True(t, r.InCooldown("a@x.com"))

	now = now.Add(6 * time.Second)
	require.False(t, r.InCooldown("a@x.com"))
	// 读取即清理：条目应已删除，失败计数归零
	require.Empty(t, r.Snapshot())
}

func TestMarkSuccessClearsStateAndCount(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	r.MarkCooldown("a@x.com", CategoryRateLimit)
	r.MarkCooldown("a@x.com", CategoryRateLimit)
	r.MarkSuccess("a@x.com")
	require.False(t, r.InCooldown("a@x.com"))

	// 治愈后再次失败从 15s 重新开始
	r.MarkCooldown("a@x.com", CategoryRateLimit)
	state := r.Snapshot()["a@x.com"]
	require.Equal(t, 1, state.FailureCount)
	require.Equal(t, 15*time.Second, state.CooldownUntil.Sub(now))
}

func TestShouldProbeRateLimitAlwaysEligible(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	r.MarkCooldown("a@x.com", CategoryRateLimit)
	require.True(t, r.ShouldProbe("a@x.com"))

	r.RecordProbe("a@x.com")
	require.False(t, r.ShouldProbe("a@x.com"), "within min probe interval")

	now = now.Add(31 * time.Second)
	// 31s 后原条目（15s）已过期，InCooldown 会清掉；直接验证间隔逻辑
	r.MarkCooldown("b@x.com", CategoryOverloaded)
	require.True(t, r.ShouldProbe("b@x.com"))
}

func TestShouldProbeQuotaOnlyNearExpiry(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	r.MarkCooldown("a@x.com", CategoryQuota) // 60min
	require.False(t, r.ShouldProbe("a@x.com"), "quota cooldown far from expiry")

	// 进入到期前 2 分钟的试探窗口
	now = now.Add(59 * time.Minute)
	require.True(t, r.ShouldProbe("a@x.com"))
}

func TestClearExpired(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	r.MarkCooldown("a@x.com", CategoryTimeout)   // 5s
	r.MarkCooldown("b@x.com", CategoryQuota)     // 60min
	r.MarkCooldown("c@x.com", CategoryRateLimit) // 15s

	now = now.Add(20 * time.Second)
	require.Equal(t, 2, r.ClearExpired())
	require.Len(t, r.Snapshot(), 1)
	require.True(t, r.InCooldown("b@x.com"))
}
